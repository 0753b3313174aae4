package ner

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DecodeParallel is like Decode, but decodes examples concurrently using up to workers goroutines
// (runtime.NumCPU() if workers <= 0). Results are in input order and identical to Decode's.
//
// It stops early, returning ctx.Err(), if ctx is cancelled.
func DecodeParallel(ctx context.Context, predictions [][][]int, lengths [][]int, labels *LabelSet, examples []Example, workers int, opts ...DecodeOption) ([][]Span, error) {
	preds, lens, err := flattenFrames(predictions, lengths, examples)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	outputs := make([][]Span, len(examples))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for idx := range examples {
		if err := gCtx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			spans, err := DecodeExample(preds[idx], lens[idx], labels, examples[idx], opts...)
			if err != nil {
				return errors.WithMessagef(err, "example #%d", idx)
			}
			outputs[idx] = spans
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outputs, nil
}
