// bertner preprocesses NER splits for BERT token classification and decodes model predictions
// back into entity spans.
//
// Usage:
//
//	bertner -mode=align -data=train.parquet -tokenizer=tokenizer.json
//	bertner -mode=decode -data=test.parquet -predictions=preds.json -style=color
//	bertner -mode=evaluate -data=test.parquet -predictions=preds.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/bertner/dataset"
	"github.com/gomlx/bertner/metrics"
	"github.com/gomlx/bertner/ner"
	"github.com/gomlx/bertner/render"
	"github.com/gomlx/bertner/tokenizers/api"
	"github.com/gomlx/bertner/tokenizers/hftokenizer"
	"github.com/gomlx/bertner/tokenizers/sentencepiece"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagMode          = flag.String("mode", "decode", "One of \"align\", \"decode\" or \"evaluate\".")
	flagData          = flag.String("data", "", "Parquet file with the split, columns \"tokens\" and \"ner_tags\".")
	flagLabels        = flag.String("labels", "", "File with one label per line. Defaults to the MSRA labels.")
	flagTokenizer     = flag.String("tokenizer", "", "Tokenizer for -mode=align: a tokenizer.json, a WordPiece vocab.txt or a sentencepiece .model file.")
	flagMaxSeqLen     = flag.Int("max_seq_len", 128, "Maximum sequence length, boundary tokens included.")
	flagBatchSize     = flag.Int("batch_size", 8, "Batch size used to report the number of batches.")
	flagPredictions   = flag.String("predictions", "", "JSON file with {\"predictions\": [[[ids...]...]...], \"lengths\": [[...]...]} for -mode=decode and -mode=evaluate.")
	flagStyle         = flag.String("style", "tuples", "Output style of -mode=decode: \"tuples\" or \"color\".")
	flagWorkers       = flag.Int("workers", 0, "Number of decoding workers, 0 for one per CPU.")
	flagLeadingInside = flag.Bool("leading_inside_as_begin", false, "Treat an I- tag that does not continue an entity as the beginning of one.")
)

// predictionsFile is the format of the -predictions file: batches of per-example label ids and
// sequence lengths, as collected from the model.
type predictionsFile struct {
	Predictions [][][]int `json:"predictions"`
	Lengths     [][]int   `json:"lengths"`
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagData == "" {
		klog.Exitf("-data is required")
	}
	labels := must.M1(loadLabels(*flagLabels))
	examples := must.M1(dataset.ReadParquet(*flagData))
	klog.V(1).Infof("read %d examples from %q", len(examples), *flagData)

	switch *flagMode {
	case "align":
		must.M(align(examples, labels))
	case "decode":
		must.M(decode(examples, labels))
	case "evaluate":
		must.M(evaluate(examples, labels))
	default:
		klog.Exitf("unknown -mode=%q, valid values are \"align\", \"decode\" and \"evaluate\"", *flagMode)
	}
}

func loadLabels(path string) (*ner.LabelSet, error) {
	if path == "" {
		return ner.NewLabelSet(dataset.MSRALabels)
	}
	return dataset.ReadLabelList(path)
}

func loadTokenizer(path string) (api.WordTokenizer, error) {
	switch {
	case path == "":
		return nil, errors.New("-tokenizer is required for -mode=align")
	case strings.HasSuffix(path, ".model"):
		return sentencepiece.NewFromPath(path)
	case filepath.Ext(path) == ".txt":
		return hftokenizer.NewFromVocabFile(path)
	default:
		return hftokenizer.NewFromFile(path)
	}
}

func align(examples []ner.Example, labels *ner.LabelSet) error {
	tok, err := loadTokenizer(*flagTokenizer)
	if err != nil {
		return err
	}
	features, err := dataset.Preprocess(examples, tok, labels.NoEntityID(), *flagMaxSeqLen)
	if err != nil {
		return err
	}
	padID, err := tok.SpecialTokenID(api.TokPad)
	if err != nil {
		return errors.WithMessage(err, "tokenizer has no padding token")
	}
	loader, err := dataset.NewLoader(features, dataset.NewBatchSampler(*flagBatchSize, false, false), padID)
	if err != nil {
		return err
	}
	stats := dataset.ComputeStats(examples, features)
	fmt.Printf("examples:           %d\n", stats.Examples)
	fmt.Printf("truncated:          %d\n", stats.Truncated)
	fmt.Printf("max sequence len:   %d\n", stats.MaxSeqLen)
	fmt.Printf("total sub-tokens:   %d\n", stats.TotalSubToks)
	fmt.Printf("batches of %-3d      %d\n", *flagBatchSize, loader.Len())
	return nil
}

func readPredictions() (*predictionsFile, error) {
	if *flagPredictions == "" {
		return nil, errors.Errorf("-predictions is required for -mode=%s", *flagMode)
	}
	content, err := os.ReadFile(*flagPredictions)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read predictions from %q", *flagPredictions)
	}
	var preds predictionsFile
	if err = json.Unmarshal(content, &preds); err != nil {
		return nil, errors.Wrapf(err, "failed to parse predictions in %q", *flagPredictions)
	}
	return &preds, nil
}

func evaluate(examples []ner.Example, labels *ner.LabelSet) error {
	preds, err := readPredictions()
	if err != nil {
		return err
	}
	evaluator, err := metrics.NewChunkEvaluator(labels)
	if err != nil {
		return err
	}
	precision, recall, f1, err := evaluator.Evaluate(ner.Flatten(preds.Predictions), ner.Flatten(preds.Lengths),
		examples, labels.NoEntityID())
	if err != nil {
		return err
	}
	fmt.Printf("precision: %f, recall: %f, f1: %f\n", precision, recall, f1)
	return nil
}

func decode(examples []ner.Example, labels *ner.LabelSet) error {
	preds, err := readPredictions()
	if err != nil {
		return err
	}
	results, err := ner.DecodeParallel(context.Background(), preds.Predictions, preds.Lengths, labels, examples,
		*flagWorkers, ner.WithLeadingInsideAsBegin(*flagLeadingInside))
	if err != nil {
		return err
	}

	var format func([]ner.Span) string
	switch *flagStyle {
	case "tuples":
		format = render.Tuples
	case "color":
		format = render.New(nil).Spans
	default:
		return errors.Errorf("unknown -style=%q, valid values are \"tuples\" and \"color\"", *flagStyle)
	}
	for i, spans := range results {
		fmt.Printf("%s\t%s\n", examples[i].Text(), format(spans))
	}
	return nil
}
