// Package coalescer implements the Event Coalescer / Dedup Queue (C4):
// an ordered set of unique (root-id, path) keys, a map of their current
// CoalesceTask, the INDEX/DELETE merge law, MOVED splitting, overflow
// dropping, and jittered-backoff retry.
package coalescer

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/sariproject/sari/internal/logging"
	"github.com/sariproject/sari/internal/model"
)

// Options configures the coalescer's overflow, retry and shutdown policy.
type Options struct {
	MaxKeys     int           // default 100_000
	MaxRetries  int           // default 2
	BaseBackoff time.Duration // default 500ms
	DrainOnStop time.Duration // default 2s
}

func (o *Options) setDefaults() {
	if o.MaxKeys <= 0 {
		o.MaxKeys = 100_000
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 2
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	if o.DrainOnStop <= 0 {
		o.DrainOnStop = 2 * time.Second
	}
}

// Stats are the counters surfaced to status/doctor.
type Stats struct {
	Pending         int
	DroppedOverflow int64
	DroppedRetryCap int64
	DroppedShutdown int64
}

// Coalescer is the mutex-guarded map + insertion-ordered key queue that
// merges rapid-fire filesystem events for the same path into one task.
type Coalescer struct {
	opts Options
	log  interface {
		Warnw(msg string, kv ...interface{})
	}

	mu    sync.Mutex
	tasks map[model.CoalesceKey]*model.CoalesceTask
	order []model.CoalesceKey // insertion order of distinct live keys

	notify chan struct{}

	droppedOverflow int64
	droppedRetryCap int64
	droppedShutdown int64
}

func New(opts Options) *Coalescer {
	opts.setDefaults()
	return &Coalescer{
		opts:   opts,
		log:    logging.For("coalescer"),
		tasks:  make(map[model.CoalesceKey]*model.CoalesceTask),
		notify: make(chan struct{}, 1),
	}
}

// coalesce implements the merge law:
// coalesce(a, b) = DELETE if either is DELETE else INDEX.
func coalesce(a, b model.Action) model.Action {
	if a == model.ActionDelete || b == model.ActionDelete {
		return model.ActionDelete
	}
	return model.ActionIndex
}

// Enqueue submits a raw action for (rootID, path). A Moved action is
// split deterministically into DELETE(src) then INDEX(dst) before
// coalescing.
func (c *Coalescer) Enqueue(rootID model.RootID, path string, action model.Action, destPath string) {
	if action == "MOVED" {
		c.enqueueOne(rootID, path, model.ActionDelete)
		c.enqueueOne(rootID, destPath, model.ActionIndex)
		return
	}
	c.enqueueOne(rootID, path, action)
}

func (c *Coalescer) enqueueOne(rootID model.RootID, path string, action model.Action) {
	key := model.CoalesceKey{RootID: rootID, Path: path}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.tasks[key]; ok {
		existing.Action = coalesce(existing.Action, action)
		existing.LastSeenAt = now
		// attempts is retained as the max, i.e. unchanged by a fresh arrival
		c.signal()
		return
	}

	if len(c.tasks) >= c.opts.MaxKeys {
		c.droppedOverflow++
		c.log.Warnw("coalesce map at capacity, dropping new key", "path", path)
		return
	}

	c.tasks[key] = &model.CoalesceTask{
		RootID:     rootID,
		Path:       path,
		Action:     action,
		Attempts:   0,
		EnqueuedAt: now,
		LastSeenAt: now,
	}
	c.order = append(c.order, key)
	c.signal()
}

func (c *Coalescer) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest live task, or ok=false if empty.
// Callers (the scheduler) are responsible for re-enqueuing on retry.
func (c *Coalescer) Pop() (model.CoalesceTask, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.order) > 0 {
		key := c.order[0]
		c.order = c.order[1:]
		t, ok := c.tasks[key]
		if !ok {
			continue // was already removed (shouldn't normally happen)
		}
		delete(c.tasks, key)
		return *t, true
	}
	return model.CoalesceTask{}, false
}

// Wait blocks until a task may be available, or the context is done.
func (c *Coalescer) Wait(ctx context.Context) {
	select {
	case <-c.notify:
	case <-ctx.Done():
	}
}

// Retry schedules a failed task for re-processing with jittered
// exponential backoff: attempts+1, capped at
// MaxRetries; exceeding the cap drops and counts the task.
func (c *Coalescer) Retry(task model.CoalesceTask, after func(d time.Duration, fn func())) {
	task.Attempts++
	if task.Attempts > c.opts.MaxRetries {
		c.mu.Lock()
		c.droppedRetryCap++
		c.mu.Unlock()
		c.log.Warnw("task exceeded retry cap, dropping", "path", task.Path, "attempts", task.Attempts)
		return
	}

	delay := jitteredBackoff(c.opts.BaseBackoff, task.Attempts)
	after(delay, func() {
		c.mu.Lock()
		key := task.Key()
		if existing, ok := c.tasks[key]; ok {
			// A newer action arrived while we were backing off: merge,
			// keeping the max attempts.
			existing.Action = coalesce(existing.Action, task.Action)
			if task.Attempts > existing.Attempts {
				existing.Attempts = task.Attempts
			}
			c.mu.Unlock()
			return
		}
		c.tasks[key] = &task
		c.order = append(c.order, key)
		c.mu.Unlock()
		c.signal()
	})
}

// jitteredBackoff computes
// 0.5s * 2^(attempts-1) * uniform(0.8, 1.2): backoff/v5's ExponentialBackOff
// supplies the doubling curve and randomization factor, advanced to the
// given attempt count.
func jitteredBackoff(base time.Duration, attempts int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.2

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = eb.NextBackOff()
	}
	return d
}

// Stats returns a snapshot of coalescer counters.
func (c *Coalescer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Pending:         len(c.order),
		DroppedOverflow: c.droppedOverflow,
		DroppedRetryCap: c.droppedRetryCap,
		DroppedShutdown: c.droppedShutdown,
	}
}

// Shutdown allows in-flight work to drain for DrainOnStop, then abandons
// and counts whatever remains.
func (c *Coalescer) Shutdown() int {
	deadline := time.Now().Add(c.opts.DrainOnStop)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		remaining := len(c.order)
		c.mu.Unlock()
		if remaining == 0 {
			return 0
		}
		time.Sleep(20 * time.Millisecond)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := len(c.order)
	c.droppedShutdown += int64(remaining)
	c.order = nil
	c.tasks = make(map[model.CoalesceKey]*model.CoalesceTask)
	c.log.Warnw("shutdown drain window elapsed, abandoning pending tasks", "count", remaining)
	return remaining
}
