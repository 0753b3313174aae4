// Package dataset loads token classification splits and turns them into padded batches:
// tokenization with label alignment, a distributed batch sampler, and collation.
package dataset

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/bertner/ner"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// MSRALabels is the label list of the MSRA NER corpus, with "O" last.
var MSRALabels = []string{"B-PER", "I-PER", "B-ORG", "I-ORG", "B-LOC", "I-LOC", "O"}

// Row is one row of a split stored in parquet, in the layout HuggingFace datasets use for
// token classification (msra_ner, conll2003, ...).
type Row struct {
	ID      string   `parquet:"id,optional"`
	Tokens  []string `parquet:"tokens,list"`
	NerTags []int64  `parquet:"ner_tags,list"`
}

// ReadParquet reads all examples of a split from a parquet file.
func ReadParquet(path string) ([]ner.Example, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read parquet split %q", path)
	}
	examples := make([]ner.Example, len(rows))
	for i, row := range rows {
		if len(row.NerTags) > len(row.Tokens) {
			return nil, errors.Errorf("row %d (id %q) of %q has %d tags for %d tokens", i, row.ID, path, len(row.NerTags), len(row.Tokens))
		}
		labels := make([]int, len(row.NerTags))
		for j, tag := range row.NerTags {
			labels[j] = int(tag)
		}
		examples[i] = ner.Example{Tokens: row.Tokens, Labels: labels}
	}
	return examples, nil
}

// WriteParquet writes examples to a parquet file in the Row layout, with ids set to the example
// index.
func WriteParquet(path string, examples []ner.Example) error {
	rows := make([]Row, len(examples))
	for i, ex := range examples {
		tags := make([]int64, len(ex.Labels))
		for j, l := range ex.Labels {
			tags[j] = int64(l)
		}
		rows[i] = Row{ID: strconv.Itoa(i), Tokens: ex.Tokens, NerTags: tags}
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return errors.Wrapf(err, "failed to write parquet split %q", path)
	}
	return nil
}

// ReadLabelList reads a label list file, one label per line. Blank lines are ignored.
func ReadLabelList(path string) (*ner.LabelSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open label list %q", path)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read label list %q", path)
	}
	labels, err := ner.NewLabelSet(names)
	if err != nil {
		return nil, errors.WithMessagef(err, "label list %q", path)
	}
	return labels, nil
}
