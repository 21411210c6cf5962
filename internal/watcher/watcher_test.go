package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoreFiresWhenCatalogDeleted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	var restored atomic.Int32
	g, err := New(path, func() {
		restored.Add(1)
		_ = os.WriteFile(path, []byte(`{}`), 0o644)
	})
	require.NoError(t, err)
	g.debounce = 50 * time.Millisecond
	require.NoError(t, g.Start())
	defer g.Stop()

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		return restored.Load() == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.FileExists(t, path)
}

func TestAtomicReplaceDoesNotTriggerRestore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	var restored atomic.Int32
	g, err := New(path, func() { restored.Add(1) })
	require.NoError(t, err)
	g.debounce = 100 * time.Millisecond
	require.NoError(t, g.Start())
	defer g.Stop()

	// Simulate a normal save: temp file renamed over the target.
	tmp := filepath.Join(dir, "catalog.json.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`{"v":2}`), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, restored.Load())
}

func TestStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	g, err := New(filepath.Join(dir, "catalog.json"), nil)
	require.NoError(t, err)
	require.NoError(t, g.Start())
	require.NoError(t, g.Stop())
	assert.NoError(t, g.Stop())
}
