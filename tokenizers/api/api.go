// Package api defines the Tokenizer API used by the preprocessing pipeline.
// It's kept apart from the implementations so they can depend on it without cycles.
package api

import (
	"strconv"

	"github.com/pkg/errors"
)

// Tokenizer interface allows one convert test to "tokens" (integer ids) and back.
//
// It also allows mapping of special tokens: tokens with a common semantic (like padding) but that
// may map to different ids (int) for different tokenizers.
type Tokenizer interface {
	Encode(text string) []int
	Decode([]int) string

	// SpecialTokenID returns ID for given special token if registered, or an error if not.
	SpecialTokenID(token SpecialToken) (int, error)
}

// WordTokenizer encodes input that was already split into words (or characters, for Chinese),
// the way token classification datasets are stored.
type WordTokenizer interface {
	Tokenizer

	// EncodeWords tokenizes each word and wraps the result in the start and end boundary tokens,
	// truncating so the total length is at most maxSeqLen (no limit if maxSeqLen <= 0).
	EncodeWords(words []string, maxSeqLen int) (WordEncoding, error)
}

// WordEncoding is the result of encoding a sequence of words.
type WordEncoding struct {
	IDs          []int // sub-token ids, including the boundary tokens
	TokenTypeIDs []int // segment ids, all 0 for single sequences
	WordIDs      []int // index of the source word of each sub-token, -1 for boundary tokens
}

// Length returns the number of sub-tokens, boundary tokens included.
func (e WordEncoding) Length() int { return len(e.IDs) }

// EncodeWords implements WordTokenizer.EncodeWords on top of any Tokenizer: each word is encoded
// independently, the concatenation is truncated to maxSeqLen-2 sub-tokens and wrapped with the
// TokBeginningOfSentence and TokEndOfSentence ids.
func EncodeWords(tok Tokenizer, words []string, maxSeqLen int) (WordEncoding, error) {
	startID, err := tok.SpecialTokenID(TokBeginningOfSentence)
	if err != nil {
		return WordEncoding{}, errors.WithMessage(err, "tokenizer has no start token")
	}
	endID, err := tok.SpecialTokenID(TokEndOfSentence)
	if err != nil {
		return WordEncoding{}, errors.WithMessage(err, "tokenizer has no end token")
	}
	if maxSeqLen > 0 && maxSeqLen < 2 {
		return WordEncoding{}, errors.Errorf("max sequence length %d can't hold the start and end tokens", maxSeqLen)
	}

	limit := -1
	if maxSeqLen > 0 {
		limit = maxSeqLen - 2
	}
	enc := WordEncoding{
		IDs:     []int{startID},
		WordIDs: []int{-1},
	}
wordsLoop:
	for wordIdx, word := range words {
		for _, id := range tok.Encode(word) {
			if limit >= 0 && len(enc.IDs)-1 >= limit {
				break wordsLoop
			}
			enc.IDs = append(enc.IDs, id)
			enc.WordIDs = append(enc.WordIDs, wordIdx)
		}
	}
	enc.IDs = append(enc.IDs, endID)
	enc.WordIDs = append(enc.WordIDs, -1)
	enc.TokenTypeIDs = make([]int, len(enc.IDs))
	return enc, nil
}

// SpecialToken is an enum of commonly used special tokens.
type SpecialToken int

const (
	TokBeginningOfSentence SpecialToken = iota
	TokEndOfSentence
	TokUnknown
	TokPad
	TokMask
	TokClassification
	TokSpecialTokensCount
)

var specialTokenNames = [...]string{
	TokBeginningOfSentence: "beginning_of_sentence",
	TokEndOfSentence:       "end_of_sentence",
	TokUnknown:             "unknown",
	TokPad:                 "pad",
	TokMask:                "mask",
	TokClassification:      "classification",
	TokSpecialTokensCount:  "special_tokens_count",
}

// String implements fmt.Stringer.
func (t SpecialToken) String() string {
	if t < 0 || int(t) >= len(specialTokenNames) {
		return "SpecialToken(" + strconv.Itoa(int(t)) + ")"
	}
	return specialTokenNames[t]
}
