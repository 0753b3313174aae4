package dataset

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/gomlx/bertner/ner"
	"github.com/gomlx/bertner/tokenizers/api"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runeTokenizer encodes every rune as its code point, with [CLS]=101 and [SEP]=102.
type runeTokenizer struct{}

var _ api.WordTokenizer = runeTokenizer{}

func (runeTokenizer) Encode(text string) []int {
	var ids []int
	for _, r := range text {
		ids = append(ids, int(r))
	}
	return ids
}

func (runeTokenizer) Decode(ids []int) string { return "" }

func (runeTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokBeginningOfSentence:
		return 101, nil
	case api.TokEndOfSentence:
		return 102, nil
	case api.TokPad:
		return 0, nil
	}
	return 0, errors.Errorf("special token %s not found", token)
}

func (r runeTokenizer) EncodeWords(words []string, maxSeqLen int) (api.WordEncoding, error) {
	return api.EncodeWords(r, words, maxSeqLen)
}

func chars(s string) []string {
	var out []string
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func TestParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.parquet")
	examples := []ner.Example{
		{Tokens: chars("北京欢迎你"), Labels: []int{4, 5, 6, 6, 6}},
		{Tokens: chars("甲骨文"), Labels: []int{6, 6, 2}},
	}
	require.NoError(t, WriteParquet(path, examples))

	got, err := ReadParquet(path)
	require.NoError(t, err)
	assert.Equal(t, examples, got)
}

func TestReadParquet_Missing(t *testing.T) {
	_, err := ReadParquet(filepath.Join(t.TempDir(), "missing.parquet"))
	require.Error(t, err)
}

func TestReadLabelList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("B-PER\nI-PER\n\nB-LOC\nI-LOC\nO\n"), 0o644))

	labels, err := ReadLabelList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"B-PER", "I-PER", "B-LOC", "I-LOC", "O"}, labels.Names())
	assert.Equal(t, 4, labels.NoEntityID())

	require.NoError(t, os.WriteFile(path, []byte("O\nO\n"), 0o644))
	_, err = ReadLabelList(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ner.ErrInvalidInput))
}

func TestPreprocess(t *testing.T) {
	examples := []ner.Example{
		{Tokens: chars("北京欢迎你"), Labels: []int{4, 5, 6, 6, 6}},
		{Tokens: chars("甲骨文"), Labels: []int{6, 6, 2}},
	}
	features, err := Preprocess(examples, runeTokenizer{}, 6, 5)
	require.NoError(t, err)
	require.Len(t, features, 2)

	// Truncated to 5 sub-tokens: [CLS] 北 京 欢 [SEP].
	assert.Equal(t, []int{101, '北', '京', '欢', 102}, features[0].InputIDs)
	assert.Equal(t, []int{6, 4, 5, 6, 6}, features[0].Labels)
	assert.Equal(t, 5, features[0].SeqLen)

	assert.Equal(t, []int{101, '甲', '骨', '文', 102}, features[1].InputIDs)
	assert.Equal(t, []int{6, 6, 6, 2, 6}, features[1].Labels)
	assert.Equal(t, []int{0, 0, 0, 0, 0}, features[1].TokenTypeIDs)

	stats := ComputeStats(examples, features)
	assert.Equal(t, Stats{Examples: 2, Truncated: 1, MaxSeqLen: 5, TotalSubToks: 10}, stats)
}

func TestPreprocess_Invalid(t *testing.T) {
	examples := []ner.Example{{Tokens: chars("北"), Labels: []int{4, 5}}}
	_, err := Preprocess(examples, runeTokenizer{}, 6, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ner.ErrInvalidInput))
	assert.Contains(t, err.Error(), "example #0")
}

func TestBatchSampler(t *testing.T) {
	s := NewBatchSampler(2, false, false)
	require.NoError(t, s.Validate())
	assert.Equal(t, [][]int{{0, 1}, {2, 3}, {4}}, s.Batches(5, 0))
	assert.Equal(t, 3, s.Len(5))

	s.DropLast = true
	assert.Equal(t, [][]int{{0, 1}, {2, 3}}, s.Batches(5, 0))
	assert.Equal(t, 2, s.Len(5))
	assert.Nil(t, s.Batches(0, 0))
}

func TestBatchSampler_DataParallel(t *testing.T) {
	const n = 7
	var seen []int
	for rank := range 2 {
		s := NewBatchSampler(2, true, false).WithRank(rank, 2).WithSeed(42)
		require.NoError(t, s.Validate())
		batches := s.Batches(n, 3)
		assert.Len(t, batches, s.Len(n))
		for _, b := range batches {
			seen = append(seen, b...)
		}
	}
	// 7 examples padded to 8 across 2 ranks: every example is seen, one twice.
	assert.Len(t, seen, 8)
	slices.Sort(seen)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, slices.Compact(seen))
}

func TestBatchSampler_ShuffleIsDeterministicPerEpoch(t *testing.T) {
	s := NewBatchSampler(4, true, false).WithSeed(7)
	a := s.Batches(20, 1)
	b := s.Batches(20, 1)
	c := s.Batches(20, 2)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestBatchSampler_Validate(t *testing.T) {
	assert.Error(t, NewBatchSampler(0, false, false).Validate())
	assert.Error(t, NewBatchSampler(2, false, false).WithRank(2, 2).Validate())
	assert.Error(t, NewBatchSampler(2, false, false).WithRank(0, 0).Validate())
}

func TestCollate(t *testing.T) {
	features := []Feature{
		{InputIDs: []int{101, 1, 2, 102}, TokenTypeIDs: []int{0, 0, 0, 0}, SeqLen: 4, Labels: []int{6, 4, 5, 6}},
		{InputIDs: []int{101, 3, 102}, TokenTypeIDs: []int{0, 0, 0}, SeqLen: 3, Labels: []int{6, 2, 6}},
	}
	b := Collate(features, []int{5, 9}, 0, 0, IgnoreLabel)
	assert.Equal(t, 2, b.Size())
	assert.Equal(t, []int{5, 9}, b.Indices)
	assert.Equal(t, [][]int{{101, 1, 2, 102}, {101, 3, 102, 0}}, b.InputIDs)
	assert.Equal(t, [][]int{{0, 0, 0, 0}, {0, 0, 0, 0}}, b.TokenTypeIDs)
	assert.Equal(t, []int{4, 3}, b.SeqLens)
	assert.Equal(t, [][]int{{6, 4, 5, 6}, {6, 2, 6, -100}}, b.Labels)
}

func TestLoader(t *testing.T) {
	features := []Feature{
		{InputIDs: []int{101, 102}, TokenTypeIDs: []int{0, 0}, SeqLen: 2, Labels: []int{6, 6}},
		{InputIDs: []int{101, 1, 102}, TokenTypeIDs: []int{0, 0, 0}, SeqLen: 3, Labels: []int{6, 4, 6}},
		{InputIDs: []int{101, 2, 3, 102}, TokenTypeIDs: []int{0, 0, 0, 0}, SeqLen: 4, Labels: []int{6, 4, 5, 6}},
	}
	loader, err := NewLoader(features, NewBatchSampler(2, false, false), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.Len())

	batches := loader.Epoch(0)
	require.Len(t, batches, 2)
	assert.Equal(t, []int{0, 1}, batches[0].Indices)
	assert.Equal(t, [][]int{{6, 6, -100}, {6, 4, 6}}, batches[0].Labels)
	assert.Equal(t, []int{4}, batches[1].SeqLens)

	_, err = NewLoader(features, NewBatchSampler(0, false, false), 0)
	require.Error(t, err)
}

func TestLoader_Nil(t *testing.T) {
	var loader *Loader
	assert.Equal(t, 0, loader.Len())
	assert.Empty(t, loader.Epoch(0))
}
