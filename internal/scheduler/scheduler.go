// Package scheduler implements the Fair Scheduler (C5): a strictly
// higher-priority queue for user-triggered/live-watcher tasks, and a fair
// queue that round-robins bulk/scan tasks across roots so no one
// workspace starves another, plus a read-priority backpressure hook.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sariproject/sari/internal/model"
)

// Task wraps a model.CoalesceTask with the priority class it was
// submitted under and a monotonic sequence number for FIFO tie-break.
type Task struct {
	model.CoalesceTask
	Priority bool // true = priority queue (user-triggered / live watcher)
	seq      int64
}

// Scheduler is the two-level priority/bulk queue.
type Scheduler struct {
	mu sync.Mutex

	priority []Task

	// fair queue: per-root FIFO, drained round-robin
	fairRoots  []model.RootID
	fairByRoot map[model.RootID][]Task
	rrIndex    int

	seq int64

	notify chan struct{}

	readPenalty chan struct{}
	penaltyWait time.Duration

	sem *semaphore.Weighted
}

// Options configures worker concurrency and the read-priority penalty.
type Options struct {
	MaxConcurrency int           // bounded worker pool, default 4
	PenaltyWait    time.Duration // sleep inserted after a readPenalty signal, default 20ms
}

func New(opts Options) *Scheduler {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if opts.PenaltyWait <= 0 {
		opts.PenaltyWait = 20 * time.Millisecond
	}
	return &Scheduler{
		fairByRoot:  make(map[model.RootID][]Task),
		notify:      make(chan struct{}, 1),
		readPenalty: make(chan struct{}, 1),
		penaltyWait: opts.PenaltyWait,
		sem:         semaphore.NewWeighted(int64(opts.MaxConcurrency)),
	}
}

// SubmitFair enqueues a bulk/scan task into the fair, per-root round-robin
// queue.
func (s *Scheduler) SubmitFair(t model.CoalesceTask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	task := Task{CoalesceTask: t, Priority: false, seq: s.seq}

	if _, ok := s.fairByRoot[t.RootID]; !ok {
		s.fairRoots = append(s.fairRoots, t.RootID)
	}
	s.fairByRoot[t.RootID] = append(s.fairByRoot[t.RootID], task)
	s.signal()
}

// SubmitPriority enqueues a user-triggered or live-watcher task into the
// strictly-higher-priority queue; FIFO is preserved within the class.
func (s *Scheduler) SubmitPriority(t model.CoalesceTask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.priority = append(s.priority, Task{CoalesceTask: t, Priority: true, seq: s.seq})
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// SignalReadPressure lets the read path request that writers briefly
// yield; the next Dequeue call sleeps PenaltyWait before returning.
func (s *Scheduler) SignalReadPressure() {
	select {
	case s.readPenalty <- struct{}{}:
	default:
	}
}

// Dequeue blocks until a task is available or ctx is done. The priority
// queue is always drained first; otherwise the fair queue round-robins
// across roots.
func (s *Scheduler) Dequeue(ctx context.Context) (Task, bool) {
	for {
		select {
		case <-s.readPenalty:
			time.Sleep(s.penaltyWait)
		default:
		}

		if t, ok := s.tryDequeueLocked(); ok {
			return t, true
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Task{}, false
		}
	}
}

func (s *Scheduler) tryDequeueLocked() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.priority) > 0 {
		t := s.priority[0]
		s.priority = s.priority[1:]
		return t, true
	}

	for i := 0; i < len(s.fairRoots); i++ {
		idx := (s.rrIndex + i) % len(s.fairRoots)
		root := s.fairRoots[idx]
		q := s.fairByRoot[root]
		if len(q) == 0 {
			continue
		}
		t := q[0]
		s.fairByRoot[root] = q[1:]
		s.rrIndex = (idx + 1) % len(s.fairRoots)
		return t, true
	}
	return Task{}, false
}

// Acquire/Release bound the number of concurrently running workers; the
// caller is expected to call Acquire before processing a dequeued task
// and Release when done.
func (s *Scheduler) Acquire(ctx context.Context) error {
	return s.sem.Acquire(ctx, 1)
}

func (s *Scheduler) Release() {
	s.sem.Release(1)
}

// Depth returns the total number of queued tasks, for status/doctor.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.priority)
	for _, q := range s.fairByRoot {
		n += len(q)
	}
	return n
}
