package dataset

import "github.com/pkg/errors"

// IgnoreLabel is the padding value of label batches, skipped by the loss.
const IgnoreLabel = -100

// Batch is a collated set of features, each field padded to the longest sequence of the batch.
type Batch struct {
	Indices      []int // indices of the features in the split
	InputIDs     [][]int
	TokenTypeIDs [][]int
	SeqLens      []int
	Labels       [][]int
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int { return len(b.SeqLens) }

// Collate pads input ids with padID, token types with padTypeID and labels with ignoreLabel, and
// stacks the sequence lengths.
func Collate(features []Feature, indices []int, padID, padTypeID, ignoreLabel int) Batch {
	maxLen := 0
	for _, f := range features {
		maxLen = max(maxLen, len(f.InputIDs))
	}
	b := Batch{
		Indices:      indices,
		InputIDs:     make([][]int, len(features)),
		TokenTypeIDs: make([][]int, len(features)),
		SeqLens:      make([]int, len(features)),
		Labels:       make([][]int, len(features)),
	}
	for i, f := range features {
		b.InputIDs[i] = pad(f.InputIDs, maxLen, padID)
		b.TokenTypeIDs[i] = pad(f.TokenTypeIDs, maxLen, padTypeID)
		b.SeqLens[i] = f.SeqLen
		b.Labels[i] = pad(f.Labels, maxLen, ignoreLabel)
	}
	return b
}

func pad(values []int, length, value int) []int {
	out := make([]int, length)
	n := copy(out, values)
	for i := n; i < length; i++ {
		out[i] = value
	}
	return out
}

// Loader produces the collated batches of a preprocessed split, epoch by epoch.
type Loader struct {
	Features    []Feature
	Sampler     *BatchSampler
	PadID       int
	PadTypeID   int
	IgnoreLabel int
}

// NewLoader creates a Loader, labels are padded with IgnoreLabel.
func NewLoader(features []Feature, sampler *BatchSampler, padID int) (*Loader, error) {
	if err := sampler.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid batch sampler")
	}
	return &Loader{
		Features:    features,
		Sampler:     sampler,
		PadID:       padID,
		IgnoreLabel: IgnoreLabel,
	}, nil
}

// Len returns the number of batches per epoch. A nil Loader has none.
func (l *Loader) Len() int {
	if l == nil || l.Sampler == nil {
		return 0
	}
	return l.Sampler.Len(len(l.Features))
}

// Epoch returns the batches of the given epoch. A nil Loader returns none.
func (l *Loader) Epoch(epoch int) []Batch {
	if l == nil || l.Sampler == nil {
		return nil
	}
	indexBatches := l.Sampler.Batches(len(l.Features), epoch)
	batches := make([]Batch, len(indexBatches))
	for i, indices := range indexBatches {
		features := make([]Feature, len(indices))
		for j, idx := range indices {
			features[j] = l.Features[idx]
		}
		batches[i] = Collate(features, indices, l.PadID, l.PadTypeID, l.IgnoreLabel)
	}
	return batches
}
