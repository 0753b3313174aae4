// Package train drives the fine-tuning of a token classifier for NER: it owns the training loop,
// learning rate schedule, periodic evaluation and checkpointing.
//
// The model and optimizer are external collaborators, the driver only sequences them.
package train

import (
	"context"
	"time"

	"github.com/gomlx/bertner/checkpoint"
	"github.com/gomlx/bertner/dataset"
	"github.com/gomlx/bertner/ner"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Output of a forward pass over a batch.
type Output struct {
	// Loss is the mean loss over the batch.
	Loss float64
	// Predictions are the argmax label ids, one row per example, including the boundary positions.
	Predictions [][]int
}

// Model is a token classifier.
type Model interface {
	Forward(ctx context.Context, batch dataset.Batch) (Output, error)
	// Backward computes the gradients of the loss of the last Forward.
	Backward(ctx context.Context) error
	SetTraining(training bool)
	// StateDict serializes the model parameters into an opaque blob.
	StateDict() ([]byte, error)
}

// Optimizer updates the model parameters from their gradients.
type Optimizer interface {
	Step(ctx context.Context) error
	ClearGrad()
	SetLearningRate(lr float64)
}

// ConfigurableOptimizer is an Optimizer that takes its hyperparameters from the driver's Config.
type ConfigurableOptimizer interface {
	Optimizer
	Configure(settings OptimizerSettings) error
}

// ParameterNamer is implemented by models that expose the names of their parameters, used to
// select the ones weight decay applies to.
type ParameterNamer interface {
	ParameterNames() []string
}

// Evaluator accumulates chunk-level metrics. metrics.ChunkEvaluator implements it.
type Evaluator interface {
	Reset()
	Compute(lengths []int, predictions, labels [][]int) (numInfer, numLabel, numCorrect int, err error)
	Update(numInfer, numLabel, numCorrect int)
	Accumulate() (precision, recall, f1 float64)
}

// Store persists checkpoints. checkpoint.Store implements it.
type Store interface {
	Save(ctx context.Context, step int, blob []byte, metrics map[string]float64) error
}

// Loader yields the batches of one epoch. dataset.Loader implements it.
type Loader interface {
	Len() int
	Epoch(epoch int) []dataset.Batch
}

// EvalResult of Driver.Evaluate.
type EvalResult struct {
	Loss      float64
	Precision float64
	Recall    float64
	F1        float64
}

// Metrics returns the result as checkpoint metrics.
func (r EvalResult) Metrics() map[string]float64 {
	return map[string]float64{
		"loss":      r.Loss,
		"precision": r.Precision,
		"recall":    r.Recall,
		"f1":        r.F1,
	}
}

// Driver runs training, evaluation and prediction.
type Driver struct {
	Config    Config
	Model     Model
	Optimizer Optimizer
	Evaluator Evaluator
	// Store is optional. Without it no checkpoints are saved.
	Store Store
	// Scheduler defaults to a LinearDecayWithWarmup built by Train.
	Scheduler Scheduler

	runID string
	// now is overridden in tests.
	now func() time.Time
}

// NewDriver validates the configuration and creates a driver.
//
// If store is nil and cfg.OutputDir is set, checkpoints go to a checkpoint.Store opened there. A
// checkpoint.Store without a run id is stamped with the driver's. If optimizer is a
// ConfigurableOptimizer it's configured with cfg.OptimizerSettings, using the model's parameter
// names if it's a ParameterNamer.
func NewDriver(cfg Config, model Model, optimizer Optimizer, evaluator Evaluator, store Store) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if model == nil || optimizer == nil || evaluator == nil {
		return nil, errors.New("model, optimizer and evaluator must be given")
	}
	runID := uuid.NewString()
	if store == nil && cfg.OutputDir != "" {
		s, err := checkpoint.New(cfg.OutputDir)
		if err != nil {
			return nil, err
		}
		store = s
	}
	if s, ok := store.(*checkpoint.Store); ok && s != nil && s.RunID == "" {
		s.WithRunID(runID)
	}
	if opt, ok := optimizer.(ConfigurableOptimizer); ok {
		var names []string
		if namer, ok := model.(ParameterNamer); ok {
			names = namer.ParameterNames()
		}
		if err := opt.Configure(cfg.OptimizerSettings(names)); err != nil {
			return nil, errors.WithMessage(err, "failed to configure optimizer")
		}
	}
	return &Driver{
		Config:    cfg,
		Model:     model,
		Optimizer: optimizer,
		Evaluator: evaluator,
		Store:     store,
		runID:     runID,
		now:       time.Now,
	}, nil
}

// RunID identifies this run in logs and in the checkpoint index.
func (d *Driver) RunID() string { return d.runID }

// TotalSteps returns the number of optimizer steps Train performs for a loader of
// batchesPerEpoch batches.
func (d *Driver) TotalSteps(batchesPerEpoch int) int {
	if d.Config.MaxSteps > 0 {
		return d.Config.MaxSteps
	}
	return batchesPerEpoch * d.Config.NumTrainEpochs
}

// Train runs the training loop. evalLoader may be nil or empty, in which case checkpoints are
// saved without metrics. It returns the number of steps performed.
func (d *Driver) Train(ctx context.Context, trainLoader, evalLoader Loader) (globalStep int, err error) {
	batchesPerEpoch := trainLoader.Len()
	if batchesPerEpoch == 0 {
		return 0, errors.New("training loader has no batches")
	}
	totalSteps := d.TotalSteps(batchesPerEpoch)
	if d.Scheduler == nil {
		d.Scheduler = NewLinearDecayWithWarmup(d.Config.LearningRate, totalSteps, d.Config.warmupSteps(totalSteps))
	}
	epochs := d.Config.NumTrainEpochs
	if d.Config.MaxSteps > 0 {
		epochs = (totalSteps + batchesPerEpoch - 1) / batchesPerEpoch
	}
	klog.Infof("run %s: training %d steps (%d epochs of %d batches) on %q, rank %d/%d",
		d.runID, totalSteps, epochs, batchesPerEpoch, d.Config.Device,
		d.Config.Topology.Rank, max(1, d.Config.Topology.WorldSize))

	d.Model.SetTraining(true)
	tic := d.now()
	for epoch := range epochs {
		for step, batch := range trainLoader.Epoch(epoch) {
			if err = ctx.Err(); err != nil {
				return globalStep, errors.Wrapf(err, "training interrupted at step %d", globalStep)
			}
			globalStep++
			out, err := d.Model.Forward(ctx, batch)
			if err != nil {
				return globalStep, errors.WithMessagef(err, "forward failed at step %d", globalStep)
			}
			if globalStep%d.Config.LoggingSteps == 0 {
				elapsed := d.now().Sub(tic).Seconds()
				klog.Infof("global step %d, epoch: %d, batch: %d, loss: %f, speed: %.2f step/s",
					globalStep, epoch, step, out.Loss, float64(d.Config.LoggingSteps)/max(elapsed, 1e-9))
				tic = d.now()
			}
			if err = d.Model.Backward(ctx); err != nil {
				return globalStep, errors.WithMessagef(err, "backward failed at step %d", globalStep)
			}
			d.Optimizer.SetLearningRate(d.Scheduler.LearningRate(globalStep - 1))
			if err = d.Optimizer.Step(ctx); err != nil {
				return globalStep, errors.WithMessagef(err, "optimizer step failed at step %d", globalStep)
			}
			d.Optimizer.ClearGrad()

			if globalStep%d.Config.SaveSteps == 0 || globalStep == totalSteps {
				if err = d.checkpoint(ctx, globalStep, evalLoader); err != nil {
					return globalStep, err
				}
			}
			if globalStep >= totalSteps {
				return globalStep, nil
			}
		}
	}
	return globalStep, nil
}

// checkpoint evaluates and saves the model on the leader process only.
func (d *Driver) checkpoint(ctx context.Context, step int, evalLoader Loader) error {
	if !d.Config.Topology.IsLeader() {
		return nil
	}
	var metrics map[string]float64
	if evalLoader != nil && evalLoader.Len() > 0 {
		result, err := d.Evaluate(ctx, evalLoader)
		if err != nil {
			return errors.WithMessagef(err, "evaluation failed at step %d", step)
		}
		metrics = result.Metrics()
	}
	if d.Store == nil {
		return nil
	}
	blob, err := d.Model.StateDict()
	if err != nil {
		return errors.WithMessagef(err, "failed to serialize model at step %d", step)
	}
	if err = d.Store.Save(ctx, step, blob, metrics); err != nil {
		return errors.WithMessagef(err, "failed to save checkpoint at step %d", step)
	}
	klog.V(1).Infof("run %s: saved checkpoint for step %d", d.runID, step)
	return nil
}

// Evaluate runs the model in inference mode over loader and returns the mean loss and the chunk
// metrics. The model is left in training mode.
func (d *Driver) Evaluate(ctx context.Context, loader Loader) (EvalResult, error) {
	d.Model.SetTraining(false)
	defer d.Model.SetTraining(true)
	d.Evaluator.Reset()

	var result EvalResult
	var lossSum float64
	batches := loader.Epoch(0)
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return result, errors.Wrap(err, "evaluation interrupted")
		}
		out, err := d.Model.Forward(ctx, batch)
		if err != nil {
			return result, errors.WithMessagef(err, "forward failed on evaluation batch %d", i)
		}
		lossSum += out.Loss
		numInfer, numLabel, numCorrect, err := d.Evaluator.Compute(batch.SeqLens, out.Predictions, batch.Labels)
		if err != nil {
			return result, errors.WithMessagef(err, "failed to compute metrics on evaluation batch %d", i)
		}
		d.Evaluator.Update(numInfer, numLabel, numCorrect)
	}
	if len(batches) > 0 {
		result.Loss = lossSum / float64(len(batches))
	}
	result.Precision, result.Recall, result.F1 = d.Evaluator.Accumulate()
	klog.Infof("eval loss: %f, precision: %f, recall: %f, f1: %f",
		result.Loss, result.Precision, result.Recall, result.F1)
	return result, nil
}

// Predict runs the model over loader and decodes the predictions into spans, one list per
// example. The batches' Indices refer to positions in examples.
func (d *Driver) Predict(ctx context.Context, loader Loader, labels *ner.LabelSet, examples []ner.Example, opts ...ner.DecodeOption) ([][]ner.Span, error) {
	d.Model.SetTraining(false)
	defer d.Model.SetTraining(true)

	predictions := make([][]int, len(examples))
	lengths := make([]int, len(examples))
	seen := make([]bool, len(examples))
	for i, batch := range loader.Epoch(0) {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "prediction interrupted")
		}
		out, err := d.Model.Forward(ctx, batch)
		if err != nil {
			return nil, errors.WithMessagef(err, "forward failed on batch %d", i)
		}
		if len(out.Predictions) != batch.Size() || len(batch.Indices) != batch.Size() {
			return nil, errors.Wrapf(ner.ErrInvalidInput, "batch %d has %d examples but %d predictions",
				i, batch.Size(), len(out.Predictions))
		}
		for j, idx := range batch.Indices {
			if idx < 0 || idx >= len(examples) {
				return nil, errors.Wrapf(ner.ErrInvalidInput, "batch %d refers to example %d, only %d given",
					i, idx, len(examples))
			}
			predictions[idx] = out.Predictions[j]
			lengths[idx] = batch.SeqLens[j]
			seen[idx] = true
		}
	}
	for idx, ok := range seen {
		if !ok {
			return nil, errors.Wrapf(ner.ErrInvalidInput, "no prediction for example %d", idx)
		}
	}
	return ner.Decode([][][]int{predictions}, [][]int{lengths}, labels, examples, opts...)
}
