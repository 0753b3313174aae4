package dataset

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

// BatchSampler yields batches of example indices for one process of a (possibly) data-parallel
// run.
//
// Every epoch the indices are optionally shuffled with a generator seeded by (Seed, epoch), so all
// ranks agree on the permutation. The permutation is then padded by wrapping around to a multiple of
// WorldSize and every rank takes the indices rank, rank+WorldSize, ... Finally they are grouped into
// batches of Size, dropping the last incomplete batch if DropLast is set.
type BatchSampler struct {
	Size      int
	Shuffle   bool
	DropLast  bool
	Rank      int
	WorldSize int
	Seed      uint64
}

// NewBatchSampler returns a single-process sampler.
func NewBatchSampler(size int, shuffle, dropLast bool) *BatchSampler {
	return &BatchSampler{Size: size, Shuffle: shuffle, DropLast: dropLast, WorldSize: 1}
}

// WithRank configures the sampler for the given rank of a data-parallel run of worldSize
// processes.
func (s *BatchSampler) WithRank(rank, worldSize int) *BatchSampler {
	s.Rank = rank
	s.WorldSize = worldSize
	return s
}

// WithSeed sets the base seed of the shuffle.
func (s *BatchSampler) WithSeed(seed uint64) *BatchSampler {
	s.Seed = seed
	return s
}

// Validate checks the configuration.
func (s *BatchSampler) Validate() error {
	if s.Size <= 0 {
		return errors.Errorf("batch size must be positive, got %d", s.Size)
	}
	if s.WorldSize <= 0 {
		return errors.Errorf("world size must be positive, got %d", s.WorldSize)
	}
	if s.Rank < 0 || s.Rank >= s.WorldSize {
		return errors.Errorf("rank %d out of range for world size %d", s.Rank, s.WorldSize)
	}
	return nil
}

// numSamples is the number of indices this rank sees per epoch.
func (s *BatchSampler) numSamples(n int) int {
	return (n + s.WorldSize - 1) / s.WorldSize
}

// Len returns the number of batches per epoch for a dataset of n examples.
func (s *BatchSampler) Len(n int) int {
	samples := s.numSamples(n)
	if s.DropLast {
		return samples / s.Size
	}
	return (samples + s.Size - 1) / s.Size
}

// Batches returns the batches of indices of the given epoch for a dataset of n examples.
func (s *BatchSampler) Batches(n, epoch int) [][]int {
	if n == 0 {
		return nil
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if s.Shuffle {
		rng := rand.New(rand.NewPCG(s.Seed, uint64(epoch)))
		rng.Shuffle(n, func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
	}

	total := s.numSamples(n) * s.WorldSize
	for i := 0; len(indices) < total; i++ {
		indices = append(indices, indices[i%n])
	}
	local := make([]int, 0, total/s.WorldSize)
	for i := s.Rank; i < total; i += s.WorldSize {
		local = append(local, indices[i])
	}

	var batches [][]int
	for start := 0; start < len(local); start += s.Size {
		end := start + s.Size
		if end > len(local) {
			if s.DropLast {
				break
			}
			end = len(local)
		}
		batches = append(batches, local[start:end])
	}
	return batches
}
