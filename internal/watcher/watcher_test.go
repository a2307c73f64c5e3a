package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DTeam-Top/docpilot/internal/cache"
)

type fakeInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeInvalidator) Invalidate(sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sourceID)
	return nil
}

func (f *fakeInvalidator) invalidated(sourceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == sourceID {
			return true
		}
	}
	return false
}

// waitFor polls until cond holds or the deadline passes. Filesystem events
// are asynchronous, so assertions on them need a grace window.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestWatcher(t *testing.T, inv Invalidator) *Watcher {
	t.Helper()
	w, err := New(inv, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/doc.pdf"))
	assert.True(t, IsRemote("http://example.com/doc.pdf"))
	assert.False(t, IsRemote("/home/user/doc.pdf"))
	assert.False(t, IsRemote("doc.pdf"))
}

func TestWatch_RemoteIsNoop(t *testing.T) {
	inv := &fakeInvalidator{}
	w := newTestWatcher(t, inv)
	require.NoError(t, w.Watch("https://example.com/doc.pdf"))
}

func TestWatch_MissingFileErrors(t *testing.T) {
	w := newTestWatcher(t, &fakeInvalidator{})
	err := w.Watch(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestWatch_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	writeFile(t, path, "v1")

	w := newTestWatcher(t, &fakeInvalidator{})
	require.NoError(t, w.Watch(path))
	require.NoError(t, w.Watch(path))
}

func TestWatch_AfterCloseErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	writeFile(t, path, "v1")

	w, err := New(&fakeInvalidator{}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.Error(t, w.Watch(path))
}

func TestWatch_ModificationInvalidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	writeFile(t, path, "v1")

	inv := &fakeInvalidator{}
	w := newTestWatcher(t, inv)
	require.NoError(t, w.Watch(path))

	writeFile(t, path, "v2 with different content")

	waitFor(t, func() bool { return inv.invalidated(path) })
}

func TestWatch_RemovalInvalidatesAndUnregisters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	writeFile(t, path, "v1")

	inv := &fakeInvalidator{}
	w := newTestWatcher(t, inv)
	require.NoError(t, w.Watch(path))

	require.NoError(t, os.Remove(path))
	waitFor(t, func() bool { return inv.invalidated(path) })

	// The registration is gone, so the path can be watched again once the
	// file reappears.
	writeFile(t, path, "recreated")
	waitFor(t, func() bool { return w.Watch(path) == nil })
}

func TestWatch_RenameInvalidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	writeFile(t, path, "v1")

	inv := &fakeInvalidator{}
	w := newTestWatcher(t, inv)
	require.NoError(t, w.Watch(path))

	require.NoError(t, os.Rename(path, filepath.Join(dir, "moved.txt")))
	waitFor(t, func() bool { return inv.invalidated(path) })
}

// End to end with the real cache: a modified source drops its cached entries
// so the next lookup misses.
func TestWatch_DropsRealCacheEntries(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	store, err := cache.New(t.TempDir(), log)
	require.NoError(t, err)
	defer store.Close()

	path := filepath.Join(t.TempDir(), "doc.txt")
	writeFile(t, path, "original")

	require.NoError(t, store.Set("summary", path, "stale summary", cache.Metadata{ProcessingStrategy: "enhanced"}))
	require.NoError(t, store.Set("outline", path, "stale outline", cache.Metadata{ProcessingStrategy: "enhanced"}))

	w, err := New(store, log)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch(path))

	writeFile(t, path, "edited content")

	waitFor(t, func() bool {
		_, _, ok, err := store.Get("summary", path)
		return err == nil && !ok
	})
	_, _, ok, err := store.Get("outline", path)
	require.NoError(t, err)
	assert.False(t, ok, "every kind for the source is dropped")
}
