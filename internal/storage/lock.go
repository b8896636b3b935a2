package storage

import (
	"fmt"

	"github.com/gofrs/flock"
)

// WriteLock is the cross-process advisory lock: it
// serializes writers across daemon processes sharing the same database
// path, so two daemons started against the same data dir cannot corrupt
// each other's writes. It guards process starts, not in-process
// batches (those are already serialized by the single Writer goroutine).
type WriteLock struct {
	fl *flock.Flock
}

// NewWriteLock returns a lock over <dbPath>.write.lock, unacquired.
func NewWriteLock(dbPath string) *WriteLock {
	return &WriteLock{fl: flock.New(dbPath + ".write.lock")}
}

// TryAcquire attempts a non-blocking lock, returning false (no error) if
// another process already holds it.
func (w *WriteLock) TryAcquire() (bool, error) {
	ok, err := w.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire write lock: %w", err)
	}
	return ok, nil
}

// Release drops the lock, a no-op if it was never acquired.
func (w *WriteLock) Release() error {
	return w.fl.Unlock()
}
