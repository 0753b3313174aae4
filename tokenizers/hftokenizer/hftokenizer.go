// Package hftokenizer implements a WordPiece tokenizer for BERT-style models, read either from
// HuggingFace's tokenizer.json format (the "fast" tokenizers) or from a plain vocab.txt file.
//
// It implements api.WordTokenizer, so it can encode datasets that are stored pre-split into words
// or characters, as token classification datasets are.
package hftokenizer

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"unicode"

	"github.com/gomlx/bertner/tokenizers/api"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// TokenizerJSON represents the subset of HuggingFace's tokenizer.json used by WordPiece models.
type TokenizerJSON struct {
	Version      string        `json:"version"`
	AddedTokens  []AddedToken  `json:"added_tokens"`
	Normalizer   *Normalizer   `json:"normalizer"`
	PreTokenizer *PreTokenizer `json:"pre_tokenizer"`
	Model        Model         `json:"model"`
}

// AddedToken represents a special token added to the vocabulary.
type AddedToken struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

// Normalizer represents the normalizer configuration.
type Normalizer struct {
	Type               string       `json:"type"`
	Lowercase          bool         `json:"lowercase"`
	StripAccents       *bool        `json:"strip_accents"`
	HandleChineseChars bool         `json:"handle_chinese_chars"`
	Normalizers        []Normalizer `json:"normalizers"`
}

// PreTokenizer represents the pre-tokenizer configuration.
type PreTokenizer struct {
	Type          string         `json:"type"`
	PreTokenizers []PreTokenizer `json:"pretokenizers"`
}

// Model represents the tokenizer model. Only "WordPiece" is supported.
type Model struct {
	Type                    string         `json:"type"`
	Vocab                   map[string]int `json:"vocab"`
	UnkToken                string         `json:"unk_token"`
	ContinuingSubwordPrefix string         `json:"continuing_subword_prefix"`
	MaxInputCharsPerWord    int            `json:"max_input_chars_per_word"`
}

// Tokenizer implements api.WordTokenizer for WordPiece vocabularies.
type Tokenizer struct {
	tokenizer *TokenizerJSON
	idToToken map[int]string

	// Special token IDs, -1 if absent.
	unkID  int
	padID  int
	clsID  int
	sepID  int
	maskID int

	// Added tokens lookup (content -> id)
	addedTokens map[string]int
}

// Compile time assert that Tokenizer implements api.WordTokenizer interface.
var _ api.WordTokenizer = &Tokenizer{}

// NewFromFile creates a tokenizer from a local tokenizer.json file path.
func NewFromFile(filePath string) (*Tokenizer, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tokenizer.json file %q", filePath)
	}
	return NewFromContent(content)
}

// NewFromContent creates a tokenizer from tokenizer.json content.
func NewFromContent(content []byte) (*Tokenizer, error) {
	var tj TokenizerJSON
	if err := json.Unmarshal(content, &tj); err != nil {
		return nil, errors.Wrapf(err, "failed to parse tokenizer.json")
	}
	if tj.Model.Type != "WordPiece" {
		return nil, errors.Errorf("tokenizer model type %q not supported, only WordPiece", tj.Model.Type)
	}
	return newTokenizer(&tj), nil
}

// NewFromVocabFile creates a BERT tokenizer from a vocab.txt file (one token per line, the line
// number is the id), lower-casing and splitting Chinese characters like BertTokenizer does.
func NewFromVocabFile(vocabPath string) (*Tokenizer, error) {
	file, err := os.Open(vocabPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open vocab file %q", vocabPath)
	}
	defer file.Close()

	vocab := make(map[string]int)
	scanner := bufio.NewScanner(file)
	idx := 0
	for scanner.Scan() {
		vocab[strings.TrimRight(scanner.Text(), "\r")] = idx
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read vocab file %q", vocabPath)
	}

	tj := &TokenizerJSON{
		Normalizer:   &Normalizer{Type: "BertNormalizer", Lowercase: true, HandleChineseChars: true},
		PreTokenizer: &PreTokenizer{Type: "BertPreTokenizer"},
		Model: Model{
			Type:     "WordPiece",
			Vocab:    vocab,
			UnkToken: "[UNK]",
		},
	}
	for _, special := range []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]"} {
		if id, ok := vocab[special]; ok {
			tj.AddedTokens = append(tj.AddedTokens, AddedToken{ID: id, Content: special, Special: true})
		}
	}
	return newTokenizer(tj), nil
}

func newTokenizer(tj *TokenizerJSON) *Tokenizer {
	t := &Tokenizer{
		tokenizer:   tj,
		idToToken:   make(map[int]string),
		addedTokens: make(map[string]int),
		unkID:       -1,
		padID:       -1,
		clsID:       -1,
		sepID:       -1,
		maskID:      -1,
	}
	for token, id := range tj.Model.Vocab {
		t.idToToken[id] = token
	}
	for _, at := range tj.AddedTokens {
		t.addedTokens[at.Content] = at.ID
		t.idToToken[at.ID] = at.Content
	}
	t.resolveSpecialTokens()
	return t
}

// resolveSpecialTokens maps the BERT special tokens to their IDs.
func (t *Tokenizer) resolveSpecialTokens() {
	if t.tokenizer.Model.UnkToken != "" {
		if id, ok := t.tokenizer.Model.Vocab[t.tokenizer.Model.UnkToken]; ok {
			t.unkID = id
		}
	}
	lookup := func(content string) int {
		if id, ok := t.addedTokens[content]; ok {
			return id
		}
		if id, ok := t.tokenizer.Model.Vocab[content]; ok {
			return id
		}
		return -1
	}
	if id := lookup("[UNK]"); id >= 0 {
		t.unkID = id
	}
	t.padID = lookup("[PAD]")
	t.clsID = lookup("[CLS]")
	t.sepID = lookup("[SEP]")
	t.maskID = lookup("[MASK]")
}

// Encode converts text to a sequence of token IDs, without boundary tokens.
func (t *Tokenizer) Encode(text string) []int {
	normalized := t.normalize(text)
	var ids []int
	for _, word := range t.preTokenize(normalized) {
		ids = append(ids, t.tokenizeWord(word)...)
	}
	return ids
}

// EncodeWords implements api.WordTokenizer.
//
// Words that normalize to nothing (e.g. a lone control character) contribute no sub-tokens, so the
// encoding may be shorter than len(words)+2: the labels are then realigned by position.
func (t *Tokenizer) EncodeWords(words []string, maxSeqLen int) (api.WordEncoding, error) {
	return api.EncodeWords(t, words, maxSeqLen)
}

// normalize applies the normalizer to the text.
func (t *Tokenizer) normalize(text string) string {
	if t.tokenizer.Normalizer == nil {
		return text
	}
	return applyNormalizer(text, t.tokenizer.Normalizer)
}

func applyNormalizer(text string, n *Normalizer) string {
	switch n.Type {
	case "Lowercase":
		return strings.ToLower(text)
	case "NFD":
		return norm.NFD.String(text)
	case "NFC":
		return norm.NFC.String(text)
	case "NFKC":
		return norm.NFKC.String(text)
	case "NFKD":
		return norm.NFKD.String(text)
	case "StripAccents":
		return removeAccents(norm.NFD.String(text))
	case "BertNormalizer":
		result := cleanText(text)
		if n.HandleChineseChars {
			result = padChineseChars(result)
		}
		if n.Lowercase {
			result = strings.ToLower(result)
			// BERT strips accents by default when lower-casing.
			if n.StripAccents == nil || *n.StripAccents {
				result = removeAccents(norm.NFD.String(result))
			}
		} else if n.StripAccents != nil && *n.StripAccents {
			result = removeAccents(norm.NFD.String(result))
		}
		return result
	case "Sequence":
		result := text
		for _, child := range n.Normalizers {
			result = applyNormalizer(result, &child)
		}
		return result
	default:
		return text
	}
}

// preTokenize splits text into words using the pre-tokenizer.
func (t *Tokenizer) preTokenize(text string) []string {
	if t.tokenizer.PreTokenizer == nil {
		return strings.Fields(text)
	}
	return applyPreTokenizer(text, t.tokenizer.PreTokenizer)
}

func applyPreTokenizer(text string, pt *PreTokenizer) []string {
	switch pt.Type {
	case "BertPreTokenizer":
		return bertPreTokenize(text)
	case "Punctuation":
		return punctuationPreTokenize(text)
	case "Sequence":
		result := []string{text}
		for _, child := range pt.PreTokenizers {
			var newResult []string
			for _, s := range result {
				newResult = append(newResult, applyPreTokenizer(s, &child)...)
			}
			result = newResult
		}
		return result
	default:
		return strings.Fields(text)
	}
}

// tokenizeWord tokenizes a single pre-tokenized word.
func (t *Tokenizer) tokenizeWord(word string) []int {
	if id, ok := t.addedTokens[word]; ok {
		return []int{id}
	}
	return t.wordPieceTokenize(word)
}

// wordPieceTokenize implements greedy longest-match-first WordPiece.
func (t *Tokenizer) wordPieceTokenize(word string) []int {
	if word == "" {
		return nil
	}

	maxChars := t.tokenizer.Model.MaxInputCharsPerWord
	if maxChars == 0 {
		maxChars = 100
	}
	runes := []rune(word)
	if len(runes) > maxChars {
		return t.unknown()
	}

	prefix := t.tokenizer.Model.ContinuingSubwordPrefix
	if prefix == "" {
		prefix = "##"
	}

	var tokens []int
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := false
		for start < end {
			substr := string(runes[start:end])
			if start > 0 {
				substr = prefix + substr
			}
			if id, ok := t.tokenizer.Model.Vocab[substr]; ok {
				tokens = append(tokens, id)
				found = true
				break
			}
			end--
		}
		if !found {
			return t.unknown()
		}
		start = end
	}
	return tokens
}

func (t *Tokenizer) unknown() []int {
	if t.unkID >= 0 {
		return []int{t.unkID}
	}
	return nil
}

// Decode converts a sequence of token IDs back to text, merging "##" continuations.
func (t *Tokenizer) Decode(ids []int) string {
	prefix := t.tokenizer.Model.ContinuingSubwordPrefix
	if prefix == "" {
		prefix = "##"
	}
	var result strings.Builder
	first := true
	for _, id := range ids {
		token, ok := t.idToToken[id]
		if !ok {
			continue
		}
		if strings.HasPrefix(token, prefix) {
			result.WriteString(strings.TrimPrefix(token, prefix))
			continue
		}
		if !first {
			result.WriteString(" ")
		}
		result.WriteString(token)
		first = false
	}
	return result.String()
}

// SpecialTokenID returns the ID for a given special token. Start and end of sentence map to
// [CLS] and [SEP].
func (t *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	var id int
	switch token {
	case api.TokUnknown:
		id = t.unkID
	case api.TokPad:
		id = t.padID
	case api.TokBeginningOfSentence, api.TokClassification:
		id = t.clsID
	case api.TokEndOfSentence:
		id = t.sepID
	case api.TokMask:
		id = t.maskID
	default:
		id = -1
	}
	if id < 0 {
		return 0, errors.Errorf("special token %s not found", token)
	}
	return id, nil
}

// VocabSize returns the size of the vocabulary.
func (t *Tokenizer) VocabSize() int {
	return len(t.idToToken)
}

// TokenToID converts a token string to its ID.
func (t *Tokenizer) TokenToID(token string) (int, bool) {
	if id, ok := t.addedTokens[token]; ok {
		return id, true
	}
	id, ok := t.tokenizer.Model.Vocab[token]
	return id, ok
}

// IDToToken converts a token ID to its string.
func (t *Tokenizer) IDToToken(id int) (string, bool) {
	token, ok := t.idToToken[id]
	return token, ok
}

// Helper functions

func cleanText(text string) string {
	var result strings.Builder
	for _, r := range text {
		if r == 0 || r == 0xFFFD || isControl(r) {
			continue
		}
		if isWhitespace(r) {
			result.WriteRune(' ')
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// padChineseChars surrounds CJK ideographs with spaces, so each becomes its own word.
func padChineseChars(text string) string {
	var result strings.Builder
	for _, r := range text {
		if isChineseChar(r) {
			result.WriteRune(' ')
			result.WriteRune(r)
			result.WriteRune(' ')
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func isChineseChar(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r)
}

func isPunctuation(r rune) bool {
	// ASCII punctuation
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) ||
		(r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func removeAccents(text string) string {
	var result strings.Builder
	for _, r := range text {
		if !unicode.Is(unicode.Mn, r) { // Mn = Mark, Nonspacing
			result.WriteRune(r)
		}
	}
	return result.String()
}

func bertPreTokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range text {
		switch {
		case isWhitespace(r):
			flush()
		case isPunctuation(r):
			flush()
			tokens = append(tokens, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func punctuationPreTokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if isPunctuation(r) {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			tokens = append(tokens, string(r))
		} else {
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
