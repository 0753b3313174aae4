package hftokenizer

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/gomlx/bertner/tokenizers/api"
)

// Test tokenizer.json content for a WordPiece model (bert-base-chinese style).
var testWordPieceTokenizerJSON = []byte(`{
  "version": "1.0",
  "truncation": null,
  "padding": null,
  "added_tokens": [
    {"id": 0, "content": "[PAD]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 100, "content": "[UNK]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 101, "content": "[CLS]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 102, "content": "[SEP]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 103, "content": "[MASK]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true}
  ],
  "normalizer": {
    "type": "BertNormalizer",
    "lowercase": true,
    "handle_chinese_chars": true,
    "strip_accents": null
  },
  "pre_tokenizer": {
    "type": "BertPreTokenizer"
  },
  "post_processor": null,
  "decoder": {
    "type": "WordPiece",
    "prefix": "##"
  },
  "model": {
    "type": "WordPiece",
    "unk_token": "[UNK]",
    "continuing_subword_prefix": "##",
    "max_input_chars_per_word": 100,
    "vocab": {
      "[PAD]": 0,
      "hello": 1,
      "world": 2,
      "test": 3,
      "##ing": 4,
      "##ed": 5,
      "北": 6,
      "京": 7,
      "欢": 8,
      "[UNK]": 100,
      "[CLS]": 101,
      "[SEP]": 102,
      "[MASK]": 103
    }
  }
}`)

var testBPETokenizerJSON = []byte(`{
  "version": "1.0",
  "added_tokens": [],
  "model": {"type": "BPE", "vocab": {"a": 0}, "merges": []}
}`)

func newTestTokenizer(t *testing.T) *Tokenizer {
	tok, err := NewFromContent(testWordPieceTokenizerJSON)
	if err != nil {
		t.Fatalf("NewFromContent failed: %v", err)
	}
	return tok
}

func TestNewFromContent_RejectsBPE(t *testing.T) {
	if _, err := NewFromContent(testBPETokenizerJSON); err == nil {
		t.Fatal("expected error for BPE model, got nil")
	}
}

func TestInvalidJSON(t *testing.T) {
	if _, err := NewFromContent([]byte("{not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestWordPiece_Encode(t *testing.T) {
	tok := newTestTokenizer(t)

	tests := []struct {
		name  string
		input string
		want  []int
	}{
		{name: "single word in vocab", input: "hello", want: []int{1}},
		{name: "multiple words", input: "hello world", want: []int{1, 2}},
		{name: "word with subword", input: "testing", want: []int{3, 4}},
		{name: "lowercased", input: "HELLO", want: []int{1}},
		{name: "accents stripped", input: "héllo", want: []int{1}},
		{name: "unknown word", input: "xyz", want: []int{100}},
		{name: "chinese characters split", input: "北京", want: []int{6, 7}},
		{name: "empty", input: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tok.Encode(tt.input)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Encode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestWordPiece_EncodeWords(t *testing.T) {
	tok := newTestTokenizer(t)

	tests := []struct {
		name        string
		words       []string
		maxSeqLen   int
		wantIDs     []int
		wantWordIDs []int
	}{
		{
			name:        "one character per word",
			words:       []string{"北", "京", "欢", "迎"},
			wantIDs:     []int{101, 6, 7, 8, 100, 102},
			wantWordIDs: []int{-1, 0, 1, 2, 3, -1},
		},
		{
			name:        "word split into sub-words",
			words:       []string{"testing", "hello"},
			wantIDs:     []int{101, 3, 4, 1, 102},
			wantWordIDs: []int{-1, 0, 0, 1, -1},
		},
		{
			name:        "truncated to max length",
			words:       []string{"北", "京", "欢", "迎"},
			maxSeqLen:   4,
			wantIDs:     []int{101, 6, 7, 102},
			wantWordIDs: []int{-1, 0, 1, -1},
		},
		{
			name:        "truncation inside a word",
			words:       []string{"testing"},
			maxSeqLen:   3,
			wantIDs:     []int{101, 3, 102},
			wantWordIDs: []int{-1, 0, -1},
		},
		{
			name:        "no words",
			words:       nil,
			wantIDs:     []int{101, 102},
			wantWordIDs: []int{-1, -1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := tok.EncodeWords(tt.words, tt.maxSeqLen)
			if err != nil {
				t.Fatalf("EncodeWords(%q) failed: %v", tt.words, err)
			}
			if !slices.Equal(enc.IDs, tt.wantIDs) {
				t.Errorf("EncodeWords(%q).IDs = %v, want %v", tt.words, enc.IDs, tt.wantIDs)
			}
			if !slices.Equal(enc.WordIDs, tt.wantWordIDs) {
				t.Errorf("EncodeWords(%q).WordIDs = %v, want %v", tt.words, enc.WordIDs, tt.wantWordIDs)
			}
			if len(enc.TokenTypeIDs) != enc.Length() {
				t.Errorf("len(TokenTypeIDs)=%d != Length()=%d", len(enc.TokenTypeIDs), enc.Length())
			}
		})
	}
}

func TestWordPiece_EncodeWords_MaxSeqLenTooSmall(t *testing.T) {
	tok := newTestTokenizer(t)
	if _, err := tok.EncodeWords([]string{"北"}, 1); err == nil {
		t.Fatal("expected error for max sequence length 1")
	}
}

func TestWordPiece_Decode(t *testing.T) {
	tok := newTestTokenizer(t)

	tests := []struct {
		name  string
		input []int
		want  string
	}{
		{name: "words", input: []int{1, 2}, want: "hello world"},
		{name: "merges continuation", input: []int{1, 3, 4}, want: "hello testing"},
		{name: "unknown ids skipped", input: []int{1, 9999}, want: "hello"},
		{name: "empty", input: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tok.Decode(tt.input)
			if got != tt.want {
				t.Errorf("Decode(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestWordPiece_SpecialTokenID(t *testing.T) {
	tok := newTestTokenizer(t)

	tests := []struct {
		token   api.SpecialToken
		want    int
		wantErr bool
	}{
		{token: api.TokPad, want: 0},
		{token: api.TokUnknown, want: 100},
		{token: api.TokBeginningOfSentence, want: 101},
		{token: api.TokClassification, want: 101},
		{token: api.TokEndOfSentence, want: 102},
		{token: api.TokMask, want: 103},
		{token: api.TokSpecialTokensCount, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.token.String(), func(t *testing.T) {
			got, err := tok.SpecialTokenID(tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SpecialTokenID(%v) error = %v, wantErr %v", tt.token, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("SpecialTokenID(%v) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

func TestTokenToID_IDToToken(t *testing.T) {
	tok := newTestTokenizer(t)

	if id, ok := tok.TokenToID("hello"); !ok || id != 1 {
		t.Errorf("TokenToID(hello) = %d, %v, want 1, true", id, ok)
	}
	if token, ok := tok.IDToToken(1); !ok || token != "hello" {
		t.Errorf("IDToToken(1) = %q, %v, want hello, true", token, ok)
	}
	if id, ok := tok.TokenToID("[CLS]"); !ok || id != 101 {
		t.Errorf("TokenToID([CLS]) = %d, %v, want 101, true", id, ok)
	}
	if size := tok.VocabSize(); size != 13 {
		t.Errorf("VocabSize() = %d, want 13", size)
	}
}

func TestNewFromVocabFile(t *testing.T) {
	vocabPath := filepath.Join(t.TempDir(), "vocab.txt")
	content := "[PAD]\n[UNK]\n[CLS]\n[SEP]\n[MASK]\n北\n京\nhello\n"
	if err := os.WriteFile(vocabPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write vocab: %v", err)
	}

	tok, err := NewFromVocabFile(vocabPath)
	if err != nil {
		t.Fatalf("NewFromVocabFile failed: %v", err)
	}
	enc, err := tok.EncodeWords([]string{"北", "京", "Hello"}, 0)
	if err != nil {
		t.Fatalf("EncodeWords failed: %v", err)
	}
	want := []int{2, 5, 6, 7, 3}
	if !slices.Equal(enc.IDs, want) {
		t.Errorf("EncodeWords IDs = %v, want %v", enc.IDs, want)
	}
	if id, _ := tok.SpecialTokenID(api.TokUnknown); id != 1 {
		t.Errorf("SpecialTokenID(unknown) = %d, want 1", id)
	}
}

func TestNewFromVocabFile_Missing(t *testing.T) {
	if _, err := NewFromVocabFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("expected error for missing vocab file")
	}
}

func TestBertPreTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{input: "hello world", want: []string{"hello", "world"}},
		{input: "hello, world!", want: []string{"hello", ",", "world", "!"}},
		{input: "  spaced  ", want: []string{"spaced"}},
		{input: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := bertPreTokenize(tt.input)
			if !slices.Equal(got, tt.want) {
				t.Errorf("bertPreTokenize(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "hello\tworld", want: "hello world"},
		{input: "a\x00b", want: "ab"},
		{input: "a�b", want: "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := cleanText(tt.input); got != tt.want {
				t.Errorf("cleanText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPadChineseChars(t *testing.T) {
	if got, want := padChineseChars("a北b"), "a 北 b"; got != want {
		t.Errorf("padChineseChars = %q, want %q", got, want)
	}
}
