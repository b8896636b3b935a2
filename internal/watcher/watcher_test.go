package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sariproject/sari/internal/model"
)

func newTestWatcher(t *testing.T, debounce time.Duration) *Watcher {
	t.Helper()
	w, err := New(model.RootID{1}, t.TempDir(), debounce)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestDebounceCollapsesBurstToLastKind(t *testing.T) {
	w := newTestWatcher(t, 30*time.Millisecond)

	w.debounceEvent("/tmp/a.go", Created, "")
	w.debounceEvent("/tmp/a.go", Modified, "")
	w.debounceEvent("/tmp/a.go", Modified, "")

	select {
	case ev := <-w.Events():
		assert.Equal(t, Modified, ev.Kind)
		assert.Equal(t, "/tmp/a.go", ev.Path)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced event")
	}
}

func TestDebounceNeverOverwritesMoved(t *testing.T) {
	w := newTestWatcher(t, 30*time.Millisecond)

	w.debounceEvent("/tmp/b.go", Moved, "/tmp/c.go")
	w.debounceEvent("/tmp/b.go", Modified, "")

	select {
	case ev := <-w.Events():
		assert.Equal(t, Moved, ev.Kind)
		assert.Equal(t, "/tmp/c.go", ev.DestPath)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced event")
	}
}
