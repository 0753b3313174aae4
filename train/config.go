package train

import (
	"github.com/gomlx/bertner/dataset"
	"github.com/pkg/errors"
)

// TopologyKind enumerates the deployment topologies of a training run.
type TopologyKind int

const (
	// Single is a single-process run.
	Single TopologyKind = iota
	// DataParallel is one process of a data-parallel run.
	DataParallel
)

// Topology describes where this process sits in a training run. It's passed explicitly to the
// driver, never read from the environment.
type Topology struct {
	Kind      TopologyKind
	Rank      int
	WorldSize int
}

// SingleProcess returns the topology of a single-process run.
func SingleProcess() Topology {
	return Topology{Kind: Single, WorldSize: 1}
}

// DataParallelProcess returns the topology of process rank out of worldSize.
func DataParallelProcess(rank, worldSize int) Topology {
	return Topology{Kind: DataParallel, Rank: rank, WorldSize: worldSize}
}

// IsLeader reports whether this process evaluates and saves checkpoints (rank 0).
func (t Topology) IsLeader() bool {
	return t.Kind == Single || t.Rank == 0
}

// Validate checks the topology is consistent.
func (t Topology) Validate() error {
	switch t.Kind {
	case Single:
		if t.Rank != 0 || (t.WorldSize != 0 && t.WorldSize != 1) {
			return errors.Errorf("single process topology with rank %d and world size %d", t.Rank, t.WorldSize)
		}
	case DataParallel:
		if t.WorldSize <= 1 {
			return errors.Errorf("data-parallel topology needs a world size > 1, got %d", t.WorldSize)
		}
		if t.Rank < 0 || t.Rank >= t.WorldSize {
			return errors.Errorf("rank %d out of range for world size %d", t.Rank, t.WorldSize)
		}
	default:
		return errors.Errorf("unknown topology kind %d", t.Kind)
	}
	return nil
}


// Config holds the hyperparameters of a training run. Create it with DefaultConfig and adjust it
// with the With* methods.
type Config struct {
	Device         string
	BatchSize      int
	MaxSeqLength   int
	LearningRate   float64
	NumTrainEpochs int
	// MaxSteps, if > 0, overrides NumTrainEpochs as the total number of training steps.
	MaxSteps int
	// WarmupSteps of linear learning rate warmup. Ignored if WarmupProportion > 0.
	WarmupSteps int
	// WarmupProportion of the total training steps used for warmup.
	WarmupProportion float64
	AdamEpsilon      float64
	WeightDecay      float64
	LoggingSteps     int
	SaveSteps        int
	// OutputDir is where NewDriver opens the checkpoint store when none is given.
	OutputDir string
	Seed      uint64
	Topology  Topology
}

// DefaultConfig returns the usual BERT fine-tuning defaults.
func DefaultConfig() Config {
	return Config{
		Device:         "cpu",
		BatchSize:      8,
		MaxSeqLength:   128,
		LearningRate:   5e-5,
		NumTrainEpochs: 3,
		AdamEpsilon:    1e-8,
		LoggingSteps:   1,
		SaveSteps:      100,
		OutputDir:      "checkpoints",
		Seed:           1000,
		Topology:       SingleProcess(),
	}
}

// WithBatchSize sets the per-process batch size.
func (c Config) WithBatchSize(batchSize int) Config {
	c.BatchSize = batchSize
	return c
}

// WithEpochs sets the number of training epochs.
func (c Config) WithEpochs(epochs int) Config {
	c.NumTrainEpochs = epochs
	return c
}

// WithMaxSteps caps training to maxSteps steps.
func (c Config) WithMaxSteps(maxSteps int) Config {
	c.MaxSteps = maxSteps
	return c
}

// WithLearningRate sets the peak learning rate.
func (c Config) WithLearningRate(lr float64) Config {
	c.LearningRate = lr
	return c
}

// WithWarmup sets the warmup: a proportion of the total steps if < 1, a number of steps otherwise.
func (c Config) WithWarmup(warmup float64) Config {
	if warmup < 1 {
		c.WarmupProportion = warmup
		c.WarmupSteps = 0
	} else {
		c.WarmupSteps = int(warmup)
		c.WarmupProportion = 0
	}
	return c
}

// WithSteps sets the logging and checkpointing periods.
func (c Config) WithSteps(loggingSteps, saveSteps int) Config {
	c.LoggingSteps = loggingSteps
	c.SaveSteps = saveSteps
	return c
}

// WithSeed sets the base seed of the training data shuffle.
func (c Config) WithSeed(seed uint64) Config {
	c.Seed = seed
	return c
}

// WithOutputDir sets the checkpoint directory. An empty dir disables checkpointing.
func (c Config) WithOutputDir(dir string) Config {
	c.OutputDir = dir
	return c
}

// WithWeightDecay sets the weight decay applied to the parameters selected by DecayParams.
func (c Config) WithWeightDecay(weightDecay float64) Config {
	c.WeightDecay = weightDecay
	return c
}

// WithTopology sets the deployment topology.
func (c Config) WithTopology(t Topology) Config {
	c.Topology = t
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.MaxSeqLength < 2:
		return errors.Errorf("max sequence length must be at least 2, got %d", c.MaxSeqLength)
	case c.LearningRate <= 0:
		return errors.Errorf("learning rate must be positive, got %g", c.LearningRate)
	case c.NumTrainEpochs <= 0 && c.MaxSteps <= 0:
		return errors.Errorf("either epochs (%d) or max steps (%d) must be positive", c.NumTrainEpochs, c.MaxSteps)
	case c.WarmupSteps < 0 || c.WarmupProportion < 0 || c.WarmupProportion >= 1:
		return errors.Errorf("invalid warmup: %d steps, proportion %g", c.WarmupSteps, c.WarmupProportion)
	case c.LoggingSteps <= 0 || c.SaveSteps <= 0:
		return errors.Errorf("logging steps (%d) and save steps (%d) must be positive", c.LoggingSteps, c.SaveSteps)
	case c.AdamEpsilon <= 0:
		return errors.Errorf("adam epsilon must be positive, got %g", c.AdamEpsilon)
	case c.WeightDecay < 0:
		return errors.Errorf("weight decay must not be negative, got %g", c.WeightDecay)
	}
	if err := c.Topology.Validate(); err != nil {
		return errors.WithMessage(err, "invalid topology")
	}
	return nil
}

// warmupSteps resolves the warmup for a run of totalSteps.
func (c Config) warmupSteps(totalSteps int) int {
	if c.WarmupProportion > 0 {
		return int(c.WarmupProportion * float64(totalSteps))
	}
	return c.WarmupSteps
}

// Sampler returns the batch sampler of this process: BatchSize examples per batch, shuffled with
// Seed, and strided by rank for data-parallel topologies.
func (c Config) Sampler(shuffle, dropLast bool) *dataset.BatchSampler {
	s := dataset.NewBatchSampler(c.BatchSize, shuffle, dropLast).WithSeed(c.Seed)
	if c.Topology.Kind == DataParallel {
		s.WithRank(c.Topology.Rank, c.Topology.WorldSize)
	}
	return s
}

// OptimizerSettings are the hyperparameters handed to a ConfigurableOptimizer.
type OptimizerSettings struct {
	LearningRate float64
	Epsilon      float64
	WeightDecay  float64
	// DecayParams are the parameter names weight decay applies to.
	DecayParams []string
}

// OptimizerSettings returns the optimizer hyperparameters for a model with the given parameter
// names.
func (c Config) OptimizerSettings(paramNames []string) OptimizerSettings {
	return OptimizerSettings{
		LearningRate: c.LearningRate,
		Epsilon:      c.AdamEpsilon,
		WeightDecay:  c.WeightDecay,
		DecayParams:  DecayParams(paramNames),
	}
}
