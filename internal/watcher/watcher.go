// Package watcher implements the Watcher + Debouncer (C3): OS filesystem
// notifications collapsed, per path, into a debounced stream of typed
// events. Falls back to nothing fancier than logging once when the
// platform can't support notifications — degradation is never fatal.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/sariproject/sari/internal/logging"
	"github.com/sariproject/sari/internal/model"
)

// EventKind is the typed kind of filesystem change observed.
type EventKind string

const (
	Created  EventKind = "CREATED"
	Modified EventKind = "MODIFIED"
	Deleted  EventKind = "DELETED"
	Moved    EventKind = "MOVED"
)

// Event is one coalescer-facing filesystem event.
type Event struct {
	Kind     EventKind
	Path     string // absolute
	DestPath string // set only for Moved
	RootID   model.RootID
	RootPath string
	Time     time.Time
}

// Watcher subscribes to one root and emits debounced Events on Events().
type Watcher struct {
	rootID   model.RootID
	rootPath string
	debounce time.Duration

	fs   *fsnotify.Watcher
	out  chan Event
	stop chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*pendingEvent

	log *zap.SugaredLogger
}

type pendingEvent struct {
	kind     EventKind
	dest     string
	lastSeen time.Time
	timer    *time.Timer
}

// New creates a watcher for rootPath, not yet started.
func New(rootID model.RootID, rootPath string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{
		rootID:   rootID,
		rootPath: rootPath,
		debounce: debounce,
		fs:       fw,
		out:      make(chan Event, 256),
		stop:     make(chan struct{}),
		pending:  make(map[string]*pendingEvent),
		log:      logging.For("watcher"),
	}, nil
}

// Events returns the channel of debounced, typed events.
func (w *Watcher) Events() <-chan Event { return w.out }

// Start begins watching the root recursively. Directories that fail to
// register a watch (permission, transient race) are logged and skipped,
// never fatal; if the platform cannot support notifications at all, the
// caller should fall back to periodic scanning (polling degradation),
// logged exactly once by the caller.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addWatchesRecursive(w.rootPath); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.processFSEvents(ctx)
	return nil
}

// Stop releases the OS watch and drains goroutines.
func (w *Watcher) Stop() error {
	close(w.stop)
	err := w.fs.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) addWatchesRecursive(root string) error {
	visited := make(map[string]bool)
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		real, err := filepath.EvalSymlinks(path)
		if err == nil {
			if visited[real] {
				return filepath.SkipDir
			}
			visited[real] = true
		}
		if err := w.fs.Add(path); err != nil {
			w.log.Warnw("watch add failed", "path", path, "err", err)
		}
		return nil
	})
}

func (w *Watcher) processFSEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warnw("fsnotify error", "err", err)
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	var kind EventKind
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = Created
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// trigger descent so new subdirectories get watched too
			_ = w.fs.Add(ev.Name)
		}
	case ev.Op&fsnotify.Write != 0:
		kind = Modified
	case ev.Op&fsnotify.Remove != 0:
		kind = Deleted
	case ev.Op&fsnotify.Rename != 0:
		kind = Deleted // fsnotify fires Rename on the old name; treated as delete, with no pairing to the new name
	default:
		return
	}

	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && kind != Deleted {
		return // directory events are ignored except to trigger descent
	}

	w.debounceEvent(ev.Name, kind, "")
}

// debounceEvent collapses bursts on one path into a single emitted event
// carrying the last-observed kind, within the configured debounce window.
// A MOVED kind is preserved verbatim and never merged away.
func (w *Watcher) debounceEvent(path string, kind EventKind, dest string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pe, ok := w.pending[path]
	if !ok {
		pe = &pendingEvent{}
		w.pending[path] = pe
	}

	if pe.kind == Moved {
		// MOVED is preserved verbatim; do not let a later event overwrite it
		// until it has fired.
	} else {
		pe.kind = kind
		pe.dest = dest
	}
	pe.lastSeen = time.Now()

	if pe.timer != nil {
		pe.timer.Stop()
	}
	pe.timer = time.AfterFunc(w.debounce, func() {
		w.flush(path)
	})
}

func (w *Watcher) flush(path string) {
	w.mu.Lock()
	pe, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	select {
	case w.out <- Event{
		Kind:     pe.kind,
		Path:     path,
		DestPath: pe.dest,
		RootID:   w.rootID,
		RootPath: w.rootPath,
		Time:     pe.lastSeen,
	}:
	default:
		w.log.Warnw("event channel full, dropping", "path", path)
	}
}
