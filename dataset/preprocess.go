package dataset

import (
	"github.com/gomlx/bertner/ner"
	"github.com/gomlx/bertner/tokenizers/api"
	"github.com/pkg/errors"
)

// Feature is a tokenized example with its labels aligned to the sub-tokens.
type Feature struct {
	InputIDs     []int
	TokenTypeIDs []int
	SeqLen       int
	Labels       []int
}

// Preprocess tokenizes every example with tok, truncating to maxSeqLen, and aligns its labels.
// The i-th feature corresponds to the i-th example.
func Preprocess(examples []ner.Example, tok api.WordTokenizer, noEntityID, maxSeqLen int) ([]Feature, error) {
	features := make([]Feature, len(examples))
	for i, ex := range examples {
		f, err := PreprocessExample(ex, tok, noEntityID, maxSeqLen)
		if err != nil {
			return nil, errors.WithMessagef(err, "example #%d", i)
		}
		features[i] = f
	}
	return features, nil
}

// PreprocessExample tokenizes and aligns a single example.
func PreprocessExample(ex ner.Example, tok api.WordTokenizer, noEntityID, maxSeqLen int) (Feature, error) {
	enc, err := tok.EncodeWords(ex.Tokens, maxSeqLen)
	if err != nil {
		return Feature{}, errors.WithMessage(err, "failed to tokenize")
	}
	labels, err := ner.AlignExample(ex, enc, noEntityID, maxSeqLen)
	if err != nil {
		return Feature{}, err
	}
	return Feature{
		InputIDs:     enc.IDs,
		TokenTypeIDs: enc.TokenTypeIDs,
		SeqLen:       enc.Length(),
		Labels:       labels,
	}, nil
}

// Stats summarizes a preprocessed split.
type Stats struct {
	Examples     int
	Truncated    int // examples that lost labels to the max sequence length
	MaxSeqLen    int
	TotalSubToks int
}

// ComputeStats reports how many examples were truncated and the sequence lengths.
func ComputeStats(examples []ner.Example, features []Feature) Stats {
	s := Stats{Examples: len(features)}
	for i, f := range features {
		s.TotalSubToks += f.SeqLen
		s.MaxSeqLen = max(s.MaxSeqLen, f.SeqLen)
		if i < len(examples) && len(examples[i].Labels) > f.SeqLen-ner.BoundaryPositions {
			s.Truncated++
		}
	}
	return s
}
