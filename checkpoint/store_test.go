package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilename(t *testing.T) {
	assert.Equal(t, "model_100.pdparams", Filename(100))
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "out")
	store, err := New(dir)
	require.NoError(t, err)
	store.WithRunID("run-1")

	_, ok := store.Latest()
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, 100, []byte("weights@100"), map[string]float64{"f1": 0.5}))
	require.NoError(t, store.Save(ctx, 200, []byte("weights@200"), nil))

	assert.FileExists(t, filepath.Join(dir, "model_100.pdparams"))
	assert.NoFileExists(t, filepath.Join(dir, "model_100.pdparams.tmp"))

	blob, err := store.Load(100)
	require.NoError(t, err)
	assert.Equal(t, []byte("weights@100"), blob)

	latest, ok := store.Latest()
	require.True(t, ok)
	assert.Equal(t, 200, latest)
	assert.Equal(t, []int{100, 200}, store.Steps())

	entries := store.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "run-1", entries[0].RunID)
	assert.Equal(t, int64(len("weights@100")), entries[0].Size)
	assert.InDelta(t, 0.5, entries[0].Metrics["f1"], 1e-9)

	// A new Store on the same directory sees the index.
	reopened, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 200}, reopened.Steps())
}

func TestSave_StepsMustIncrease(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, 10, []byte("a"), nil))
	require.Error(t, store.Save(ctx, 10, []byte("b"), nil))
	require.Error(t, store.Save(ctx, 5, []byte("b"), nil))
	require.Error(t, store.Save(ctx, -1, []byte("b"), nil))

	blob, err := store.Load(10)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), blob, "failed saves must not overwrite")
}

func TestSave_SharedDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first, err := New(dir)
	require.NoError(t, err)
	second, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, first.Save(ctx, 1, []byte("x"), nil))
	// second's in-memory index is stale, the on-disk one is re-read under the lock.
	require.Error(t, second.Save(ctx, 1, []byte("y"), nil))
	require.NoError(t, second.Save(ctx, 2, []byte("y"), nil))
	assert.Equal(t, []int{1, 2}, second.Steps())
}

func TestSave_Concurrent(t *testing.T) {
	ctx := context.Background()
	store, err := New(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = store.Save(ctx, 1, []byte("same step"), nil)
		}()
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, []int{1}, store.Steps())
}

func TestSave_CancelledWhileLocked(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	other := flock.New(filepath.Join(dir, lockFilename))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, store.Save(ctx, 1, []byte("x"), nil))
	_, ok := store.Latest()
	assert.False(t, ok)
}

func TestLoad(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(7)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(store.Path(7), nil, DefaultFileCreationPerm))
	blob, err := store.Load(7)
	require.NoError(t, err)
	assert.Empty(t, blob)
}

func TestNew_CorruptIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFilename), []byte("{"), DefaultFileCreationPerm))
	_, err := New(dir)
	require.Error(t, err)
}
