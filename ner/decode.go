package ner

import (
	"strings"

	"github.com/pkg/errors"
)

// DecodeOption configures Decode and DecodeExample.
type DecodeOption func(*decodeConfig)

type decodeConfig struct {
	leadingInsideAsBegin bool
}

// WithLeadingInsideAsBegin controls how an "I-" tag is handled when no span is open yet, which only
// happens at the start of a sentence.
//
// By default (false) the character is accumulated like any continuation, and the open run is only
// closed by the next "O" or "B-" tag, without a type of its own. Every span after it is then paired
// with the type of the tag that closed it, and the last span of the sentence is dropped. Existing
// golden outputs were produced with this behavior.
//
// With true, such an "I-X" tag opens a new span of type X, as if it were "B-X".
func WithLeadingInsideAsBegin(enabled bool) DecodeOption {
	return func(c *decodeConfig) {
		c.leadingInsideAsBegin = enabled
	}
}

// Flatten concatenates per-batch sequences into one sequence, preserving order. The flat index
// space is the one Decode aligns with its examples.
func Flatten[T any](batches [][]T) []T {
	var n int
	for _, batch := range batches {
		n += len(batch)
	}
	flat := make([]T, 0, n)
	for _, batch := range batches {
		flat = append(flat, batch...)
	}
	return flat
}

// Decode reconstructs the entity spans of each example from the model's per-token tag predictions.
//
// predictions and lengths are given per batch, as collected from evaluation: predictions[b][i] is
// the tag id sequence of the i-th example of batch b, including the leading boundary position, and
// lengths[b][i] is its valid length. After flattening they must line up one-to-one with examples.
//
// The result holds one span list per example, in input order.
func Decode(predictions [][][]int, lengths [][]int, labels *LabelSet, examples []Example, opts ...DecodeOption) ([][]Span, error) {
	preds, lens, err := flattenFrames(predictions, lengths, examples)
	if err != nil {
		return nil, err
	}
	outputs := make([][]Span, len(examples))
	for idx := range examples {
		spans, err := DecodeExample(preds[idx], lens[idx], labels, examples[idx], opts...)
		if err != nil {
			return nil, errors.WithMessagef(err, "example #%d", idx)
		}
		outputs[idx] = spans
	}
	return outputs, nil
}

func flattenFrames(predictions [][][]int, lengths [][]int, examples []Example) ([][]int, []int, error) {
	preds := Flatten(predictions)
	lens := Flatten(lengths)
	if len(preds) != len(lens) {
		return nil, nil, errors.Wrapf(ErrInvalidInput, "%d prediction sequences but %d lengths", len(preds), len(lens))
	}
	if len(lens) != len(examples) {
		return nil, nil, errors.Wrapf(ErrInvalidInput, "%d decoded sequences but %d examples", len(lens), len(examples))
	}
	return preds, lens, nil
}

// DecodeExample decodes a single frame: the predicted tag ids of one example and its valid length.
//
// Position 0 of pred is the leading boundary token and is skipped, so pred[1:length] are the tags of
// the example's characters. The source characters and the tags are walked in lockstep; whichever is
// shorter bounds the walk.
func DecodeExample(pred []int, length int, labels *LabelSet, ex Example, opts ...DecodeOption) ([]Span, error) {
	var cfg decodeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	end := min(length, len(pred))
	var tags []string
	if end > 1 {
		tags = make([]string, 0, end-1)
		for pos, id := range pred[1:end] {
			name, ok := labels.Name(id)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidInput, "tag id %d at position %d not in label set of %d labels", id, pos+1, labels.Len())
			}
			tags = append(tags, name)
		}
	}

	var (
		texts   []string
		types   []string
		current strings.Builder
	)
	source := []rune(ex.Text())
	for i := 0; i < len(source) && i < len(tags); i++ {
		r, tag := source[i], tags[i]
		if cfg.leadingInsideAsBegin && current.Len() == 0 && strings.HasPrefix(tag, InsidePrefix) {
			tag = BeginPrefix + tag[len(InsidePrefix):]
		}
		if tag == OutsideTag || strings.HasPrefix(tag, BeginPrefix) {
			if current.Len() > 0 {
				texts = append(texts, current.String())
			}
			types = append(types, spanType(tag))
			current.Reset()
			current.WriteRune(r)
		} else {
			current.WriteRune(r)
		}
	}
	// A trailing entity (or "O") never sees a closing tag.
	if current.Len() > 0 && len(texts) < len(types) {
		texts = append(texts, current.String())
	}
	if len(texts) != len(types) {
		return nil, errors.Wrapf(ErrDecodingInconsistency, "%d spans for %d types", len(texts), len(types))
	}

	spans := make([]Span, len(texts))
	for i := range texts {
		spans[i] = Span{Text: texts[i], Type: types[i]}
	}
	return spans, nil
}

// spanType returns the entity type of a "B-" tag: the text between the first and second "-". Any
// other tag reaching here is "O".
func spanType(tag string) string {
	if !strings.HasPrefix(tag, BeginPrefix) {
		return tag
	}
	parts := strings.SplitN(tag, "-", 3)
	return parts[1]
}
