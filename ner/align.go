package ner

import (
	"github.com/gomlx/bertner/tokenizers/api"
	"github.com/pkg/errors"
)

// BoundaryPositions is the number of sub-token positions taken by the tokenizer's start and end
// markers ([CLS] and [SEP] for BERT).
const BoundaryPositions = 2

// Align maps word-level labels onto a sub-token sequence of length subtokenCount.
//
// The result is [noEntityID] + labels + [noEntityID], right-padded with noEntityID to exactly
// subtokenCount entries. Labels beyond subtokenCount-2 belong to content the tokenizer already cut
// off, and are dropped.
//
// maxLen is the maximum sequence length the tokenizer was asked to honor; 0 disables the check.
// tokens is only used to validate that there is no label without a token.
//
// It returns an error wrapping ErrInvalidInput if subtokenCount < 2, maxLen < 0, subtokenCount
// exceeds a positive maxLen, or there are more labels than tokens.
func Align(tokens []string, labels []int, subtokenCount, noEntityID, maxLen int) ([]int, error) {
	if subtokenCount < BoundaryPositions {
		return nil, errors.Wrapf(ErrInvalidInput, "sub-token count %d leaves no room for the %d boundary tokens", subtokenCount, BoundaryPositions)
	}
	if maxLen < 0 {
		return nil, errors.Wrapf(ErrInvalidInput, "negative max length %d", maxLen)
	}
	if maxLen > 0 && subtokenCount > maxLen {
		return nil, errors.Wrapf(ErrInvalidInput, "sub-token count %d exceeds max length %d", subtokenCount, maxLen)
	}
	if tokens != nil && len(labels) > len(tokens) {
		return nil, errors.Wrapf(ErrInvalidInput, "%d labels for %d tokens", len(labels), len(tokens))
	}

	usable := subtokenCount - BoundaryPositions
	if len(labels) > usable {
		labels = labels[:usable]
	}
	aligned := make([]int, 0, subtokenCount)
	aligned = append(aligned, noEntityID)
	aligned = append(aligned, labels...)
	for len(aligned) < subtokenCount {
		aligned = append(aligned, noEntityID)
	}
	return aligned, nil
}

// AlignExample aligns the labels of ex to its encoding.
func AlignExample(ex Example, enc api.WordEncoding, noEntityID, maxLen int) ([]int, error) {
	return Align(ex.Tokens, ex.Labels, enc.Length(), noEntityID, maxLen)
}
