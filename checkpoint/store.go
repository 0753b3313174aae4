// Package checkpoint stores opaque model checkpoints (serialized state dicts) keyed by the global
// training step, one "model_<step>.pdparams" file each, plus a JSON index describing them.
//
// Writes are atomic (temporary file then rename) and serialized across processes with a lock file,
// so several trainers (or a trainer and an exporter) can share an output directory.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// DefaultDirCreationPerm is used when creating the checkpoint directory.
	DefaultDirCreationPerm = os.FileMode(0755)

	// DefaultFileCreationPerm is used for checkpoint and index files.
	DefaultFileCreationPerm = os.FileMode(0644)

	// LockRetryDelay is the polling period while waiting for another process to release the lock.
	LockRetryDelay = 500 * time.Millisecond
)

const (
	// IndexFilename is the name of the index file in the checkpoint directory.
	IndexFilename = "checkpoints.json"

	lockFilename = ".checkpoints.lock"
)

// Filename returns the checkpoint file name for a step.
func Filename(step int) string {
	return fmt.Sprintf("model_%d.pdparams", step)
}

// Entry describes one saved checkpoint.
type Entry struct {
	Step    int                `json:"step"`
	File    string             `json:"file"`
	Size    int64              `json:"size"`
	RunID   string             `json:"run_id,omitempty"`
	SavedAt time.Time          `json:"saved_at"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Index is the content of the index file, entries sorted by step.
type Index struct {
	Checkpoints []Entry `json:"checkpoints"`
}

// Store is a directory of checkpoints. It's safe for concurrent use.
type Store struct {
	Dir   string
	RunID string

	mu    sync.Mutex
	index Index
}

// New opens (creating if needed) the checkpoint directory dir and loads its index.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, DefaultDirCreationPerm); err != nil {
		return nil, errors.Wrapf(err, "failed to create checkpoint directory %q", dir)
	}
	s := &Store{Dir: dir}
	index, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	s.index = index
	return s, nil
}

// WithRunID sets the run id recorded with every checkpoint saved from now on.
func (s *Store) WithRunID(runID string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RunID = runID
	return s
}

// Path returns the full path of the checkpoint file of step.
func (s *Store) Path(step int) string {
	return filepath.Join(s.Dir, Filename(step))
}

// Save writes blob as the checkpoint of step, with optional evaluation metrics recorded in the
// index. Steps must increase: saving a step at or before the latest saved one is an error.
func (s *Store) Save(ctx context.Context, step int, blob []byte, metrics map[string]float64) error {
	if step < 0 {
		return errors.Errorf("invalid checkpoint step %d", step)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Checks whether context has already been cancelled, and exit immediately.
	if err := ctx.Err(); err != nil {
		return err
	}

	lockPath := filepath.Join(s.Dir, lockFilename)
	var mainErr error
	errLock := execOnFileLock(ctx, lockPath, func() {
		// Another process may have saved since we last looked.
		index, err := s.readIndex()
		if err != nil {
			mainErr = err
			return
		}
		if n := len(index.Checkpoints); n > 0 && index.Checkpoints[n-1].Step >= step {
			mainErr = errors.Errorf("checkpoint step %d is not after the latest saved step %d", step, index.Checkpoints[n-1].Step)
			return
		}

		filePath := s.Path(step)
		if err := atomicWrite(filePath, blob); err != nil {
			mainErr = err
			return
		}
		index.Checkpoints = append(index.Checkpoints, Entry{
			Step:    step,
			File:    Filename(step),
			Size:    int64(len(blob)),
			RunID:   s.RunID,
			SavedAt: time.Now().UTC(),
			Metrics: metrics,
		})
		if err := s.writeIndex(index); err != nil {
			mainErr = errors.WithMessagef(err, "checkpoint %q written but not indexed", filePath)
			return
		}
		s.index = index
		klog.V(1).Infof("saved checkpoint %q (%d bytes)", filePath, len(blob))
	})
	if mainErr != nil {
		return mainErr
	}
	if errLock != nil {
		return errors.WithMessagef(errLock, "while locking %q to save step %d", lockPath, step)
	}
	return nil
}

// Load returns the checkpoint blob of step. The file is memory-mapped and copied, so the result
// stays valid after the file is removed.
func (s *Store) Load(step int) ([]byte, error) {
	filePath := s.Path(step)
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint %q", filePath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat checkpoint %q", filePath)
	}
	if info.Size() == 0 {
		return []byte{}, nil
	}
	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap checkpoint %q", filePath)
	}
	defer func() {
		if err := mapped.Unmap(); err != nil {
			klog.Warningf("failed to unmap checkpoint %q: %v", filePath, err)
		}
	}()
	blob := make([]byte, len(mapped))
	copy(blob, mapped)
	return blob, nil
}

// Entries returns the indexed checkpoints, sorted by step.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.index.Checkpoints)
}

// Steps returns the saved steps in increasing order.
func (s *Store) Steps() []int {
	entries := s.Entries()
	steps := make([]int, len(entries))
	for i, e := range entries {
		steps[i] = e.Step
	}
	return steps
}

// Latest returns the most recent saved step.
func (s *Store) Latest() (step int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.index.Checkpoints)
	if n == 0 {
		return 0, false
	}
	return s.index.Checkpoints[n-1].Step, true
}

func (s *Store) readIndex() (Index, error) {
	indexPath := filepath.Join(s.Dir, IndexFilename)
	data, err := os.ReadFile(indexPath)
	if os.IsNotExist(err) {
		return Index{}, nil
	}
	if err != nil {
		return Index{}, errors.Wrapf(err, "failed to read checkpoint index %q", indexPath)
	}
	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return Index{}, errors.Wrapf(err, "failed to parse checkpoint index %q", indexPath)
	}
	slices.SortFunc(index.Checkpoints, func(a, b Entry) int { return a.Step - b.Step })
	return index, nil
}

func (s *Store) writeIndex(index Index) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode checkpoint index")
	}
	return atomicWrite(filepath.Join(s.Dir, IndexFilename), data)
}

// atomicWrite writes data to filePath+".tmp" and then atomically moves it to filePath.
func atomicWrite(filePath string, data []byte) (err error) {
	tmpPath := filePath + ".tmp"
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, DefaultFileCreationPerm)
	if err != nil {
		return errors.Wrapf(err, "creating temporary file %q", tmpPath)
	}
	var tmpFileClosed bool
	defer func() {
		// If we exit with an error, make sure to close and remove unfinished temporary file.
		if !tmpFileClosed {
			if err := tmpFile.Close(); err != nil {
				klog.Warningf("Failed closing temporary file %q: %v", tmpPath, err)
			}
			if err := os.Remove(tmpPath); err != nil {
				klog.Warningf("Failed removing temporary file %q: %v", tmpPath, err)
			}
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return errors.Wrapf(err, "failed to write %q", tmpPath)
	}
	if err := tmpFile.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync %q", tmpPath)
	}
	tmpFileClosed = true
	if err := tmpFile.Close(); err != nil {
		return errors.Wrapf(err, "failed to close temporary file %q", tmpPath)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return errors.Wrapf(err, "failed to move %q to %q", tmpPath, filePath)
	}
	return nil
}

// execOnFileLock opens the lockPath file (or creates if it doesn't yet exist), locks it, and executes the function.
// If the lockPath is already locked, it polls every LockRetryDelay until it acquires the lock or ctx is done.
//
// The lockPath is not removed.
func execOnFileLock(ctx context.Context, lockPath string, fn func()) (err error) {
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLockContext(ctx, LockRetryDelay)
	if err != nil {
		return errors.Wrapf(err, "while trying to lock %q", lockPath)
	}
	if !locked {
		return errors.Errorf("failed to acquire lock %q", lockPath)
	}

	// Setup clean up in a deferred function, so it happens even if `fn()` panics.
	defer func() {
		unlockErr := fileLock.Unlock()
		if unlockErr != nil {
			// If we already have an error, don't overwrite it
			if err == nil {
				err = errors.Wrapf(unlockErr, "unlocking file %q", lockPath)
			} else {
				klog.Warningf("Error unlocking file %q: %v", lockPath, unlockErr)
			}
		}
	}()

	fn()
	return
}
