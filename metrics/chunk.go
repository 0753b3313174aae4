// Package metrics implements the chunk-level precision/recall/F1 evaluation used for BIO tagged
// token classification.
package metrics

import (
	"github.com/gomlx/bertner/ner"
	"github.com/pkg/errors"
)

// Chunk is an entity occurrence: the half-open token range [Start, End) and its type.
type Chunk struct {
	Start, End int
	Type       string
}

// ChunkEvaluator accumulates chunk counts over batches. It is not safe for concurrent use.
type ChunkEvaluator struct {
	tags []ner.Tag

	numInfer, numLabel, numCorrect int
}

// NewChunkEvaluator creates an evaluator for the given label set. Every label must be a valid BIO
// tag.
func NewChunkEvaluator(labels *ner.LabelSet) (*ChunkEvaluator, error) {
	e := &ChunkEvaluator{tags: make([]ner.Tag, labels.Len())}
	for id, name := range labels.Names() {
		tag, err := ner.ParseTag(name)
		if err != nil {
			return nil, errors.WithMessagef(err, "label #%d", id)
		}
		e.tags[id] = tag
	}
	return e, nil
}

// Chunks extracts the chunks of a tag id sequence. Positions before from and at or after to are
// ignored, as are ids outside the label set (e.g. the -100 padding of label batches).
func (e *ChunkEvaluator) Chunks(ids []int, from, to int) []Chunk {
	to = min(to, len(ids))
	var (
		chunks []Chunk
		open   *Chunk
	)
	closeOpen := func(end int) {
		if open != nil {
			open.End = end
			chunks = append(chunks, *open)
			open = nil
		}
	}
	for pos := max(from, 0); pos < to; pos++ {
		tag := e.tag(ids[pos])
		switch tag.Prefix {
		case "B":
			closeOpen(pos)
			open = &Chunk{Start: pos, Type: tag.Type}
		case "I":
			if open == nil || open.Type != tag.Type {
				closeOpen(pos)
				open = &Chunk{Start: pos, Type: tag.Type}
			}
		default:
			closeOpen(pos)
		}
	}
	closeOpen(to)
	return chunks
}

func (e *ChunkEvaluator) tag(id int) ner.Tag {
	if id < 0 || id >= len(e.tags) {
		return ner.Tag{Prefix: ner.OutsideTag}
	}
	return e.tags[id]
}

// Compute counts, for a batch, the chunks inferred, the chunks in the labels and the ones that
// match exactly. Only positions 1 to lengths[i]-1 are considered, the leading boundary being
// skipped.
func (e *ChunkEvaluator) Compute(lengths []int, predictions, labels [][]int) (numInfer, numLabel, numCorrect int, err error) {
	if len(predictions) != len(lengths) || len(labels) != len(lengths) {
		return 0, 0, 0, errors.Wrapf(ner.ErrInvalidInput, "batch of %d lengths, %d predictions and %d labels", len(lengths), len(predictions), len(labels))
	}
	for i, length := range lengths {
		inferred := e.Chunks(predictions[i], 1, length)
		expected := e.Chunks(labels[i], 1, length)
		numInfer += len(inferred)
		numLabel += len(expected)
		set := make(map[Chunk]struct{}, len(expected))
		for _, c := range expected {
			set[c] = struct{}{}
		}
		for _, c := range inferred {
			if _, found := set[c]; found {
				numCorrect++
			}
		}
	}
	return
}

// Update adds the counts returned by Compute.
func (e *ChunkEvaluator) Update(numInfer, numLabel, numCorrect int) {
	e.numInfer += numInfer
	e.numLabel += numLabel
	e.numCorrect += numCorrect
}

// Accumulate returns precision, recall and F1 of everything updated since the last Reset. Empty
// denominators yield 0.
func (e *ChunkEvaluator) Accumulate() (precision, recall, f1 float64) {
	if e.numInfer > 0 {
		precision = float64(e.numCorrect) / float64(e.numInfer)
	}
	if e.numLabel > 0 {
		recall = float64(e.numCorrect) / float64(e.numLabel)
	}
	if e.numCorrect > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return
}

// Reset clears the accumulated counts.
func (e *ChunkEvaluator) Reset() {
	e.numInfer, e.numLabel, e.numCorrect = 0, 0, 0
}

// Evaluate scores predicted tag id sequences against the gold labels of examples, from scratch.
// predictions[i] and lengths[i] are the frame of examples[i], laid out like the model input with
// the leading boundary position. Gold labels are aligned to the same layout with ner.Align.
func (e *ChunkEvaluator) Evaluate(predictions [][]int, lengths []int, examples []ner.Example, noEntityID int) (precision, recall, f1 float64, err error) {
	if len(predictions) != len(examples) || len(lengths) != len(examples) {
		return 0, 0, 0, errors.Wrapf(ner.ErrInvalidInput, "%d predictions and %d lengths for %d examples",
			len(predictions), len(lengths), len(examples))
	}
	gold := make([][]int, len(examples))
	for i, ex := range examples {
		gold[i], err = ner.Align(ex.Tokens, ex.Labels, len(predictions[i]), noEntityID, 0)
		if err != nil {
			return 0, 0, 0, errors.WithMessagef(err, "example #%d", i)
		}
	}
	numInfer, numLabel, numCorrect, err := e.Compute(lengths, predictions, gold)
	if err != nil {
		return 0, 0, 0, err
	}
	e.Reset()
	e.Update(numInfer, numLabel, numCorrect)
	precision, recall, f1 = e.Accumulate()
	return
}
