package ner

import "github.com/pkg/errors"

var (
	// ErrInvalidInput is returned for malformed alignment or decoding input, e.g. a sub-token count
	// smaller than the two boundary positions, or a predicted tag id not in the label set.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDecodingInconsistency is returned when a decoded example ends up with a different number of
	// spans and types, meaning the tag sequence violates the BIO grammar the decoder expects.
	ErrDecodingInconsistency = errors.New("decoding inconsistency")
)
