// Package sentencepiece implements an api.WordTokenizer based on Google's SentencePiece tokenizer,
// for encoders (XLM-R, ERNIE-M style) that ship a "sentencepiece.bpe.model" or "tokenizer.model".
package sentencepiece

import (
	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/bertner/tokenizers/api"
	"github.com/pkg/errors"
)

// NewFromPath creates a SentencePiece tokenizer from a local model file, which must be a
// SentencePiece Model proto.
func NewFromPath(modelPath string) (*Tokenizer, error) {
	proc, err := esentencepiece.NewProcessorFromPath(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "can't create sentencepiece tokenizer from %q", modelPath)
	}
	return &Tokenizer{
		Processor: proc,
		Info:      proc.ModelInfo(),
	}, nil
}

// Tokenizer implements api.WordTokenizer based on SentencePiece tokenizer by Google.
type Tokenizer struct {
	*esentencepiece.Processor
	Info *esentencepiece.ModelInfo
}

// Compile time assert that sentencepiece.Tokenizer implements api.WordTokenizer interface.
var _ api.WordTokenizer = &Tokenizer{}

// Encode returns the text encoded into a sequence of ids.
func (p *Tokenizer) Encode(text string) []int {
	tokens := p.Processor.Encode(text)
	return sliceMap(tokens, func(t esentencepiece.Token) int { return t.ID })
}

// EncodeWords implements api.WordTokenizer. Each word is encoded on its own, so each one starts
// with the "▁" word-boundary piece, as with is_split_into_words in the Python tokenizers.
func (p *Tokenizer) EncodeWords(words []string, maxSeqLen int) (api.WordEncoding, error) {
	return api.EncodeWords(p, words, maxSeqLen)
}

// Decode returns the text from a sequence of ids.
func (p *Tokenizer) Decode(ids []int) string {
	return p.Processor.Decode(ids)
}

// SpecialTokenID returns the token for the given symbol, or an error if not known or not defined
// by the model (SentencePiece uses negative ids for disabled tokens).
func (p *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	var id int
	switch token {
	case api.TokUnknown:
		id = p.Info.UnknownID
	case api.TokPad:
		id = p.Info.PadID
	case api.TokBeginningOfSentence, api.TokClassification:
		id = p.Info.BeginningOfSentenceID
	case api.TokEndOfSentence:
		id = p.Info.EndOfSentenceID
	default:
		return 0, errors.Errorf("unknown special token: %s (%d)", token, int(token))
	}
	if id < 0 {
		return 0, errors.Errorf("special token %s is disabled in this model", token)
	}
	return id, nil
}

// sliceMap executes the given function sequentially for every element on in, and returns a mapped slice.
func sliceMap[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}
