package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sariproject/sari/internal/model"
)

// EngineSyncer is the hook the DB writer calls after a batch commits:
// the external engine adapter is invoked, and an engine failure does not
// roll back the already-committed SQL transaction. The concrete
// implementation lives in internal/engine; storage only depends on this
// narrow interface so it never imports the engine package.
type EngineSyncer interface {
	SyncBatch(ctx context.Context, writes []FileWrite, deletePaths []string) error
}

// WriterOptions configures batching, backpressure and shutdown.
type WriterOptions struct {
	MaxBatchWait     time.Duration // default 200ms
	BatchSize        int           // default 200
	QueueHighWater   int           // default 5_000, throttle hint for Scheduler
	QueueHardCap     int           // default 50_000, Enqueue refuses beyond this
	EngineRetryAfter time.Duration // default 5m, DLQ next_retry on engine failure
}

func (o *WriterOptions) setDefaults() {
	if o.MaxBatchWait <= 0 {
		o.MaxBatchWait = 200 * time.Millisecond
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
	if o.QueueHighWater <= 0 {
		o.QueueHighWater = 5_000
	}
	if o.QueueHardCap <= 0 {
		o.QueueHardCap = 50_000
	}
	if o.EngineRetryAfter <= 0 {
		o.EngineRetryAfter = 5 * time.Minute
	}
}

// WriteItem is one unit of work submitted to the Writer. Exactly one
// field should be set.
type WriteItem struct {
	Delete            string
	File              *FileWrite
	RepoMeta          *RepoMetaUpdate
	FailedTask        *model.FailedTask
	ClearedFailedTask *model.CoalesceKey
}

// Writer is the single long-lived DB writer thread: it drains a queue
// in bounded batches under one transaction each, then hands the
// committed batch to the engine syncer.
type Writer struct {
	db     *DB
	engine EngineSyncer
	opts   WriterOptions

	queue chan WriteItem
	done  chan struct{}
	wg    sync.WaitGroup

	depth       int64 // atomic, current queue length estimate
	droppedFull int64 // atomic, Enqueue refused: hard cap reached

	latMu        sync.Mutex
	lastBatchNS  int64
	lastCommitTS int64 // unix seconds, 0 until the first batch commits
}

// NewWriter builds a Writer bound to db, optionally syncing every
// committed batch to engine (nil disables the engine-sync step, the
// documented "external engine absent" mode).
func NewWriter(db *DB, engine EngineSyncer, opts WriterOptions) *Writer {
	opts.setDefaults()
	return &Writer{
		db:     db,
		engine: engine,
		opts:   opts,
		queue:  make(chan WriteItem, opts.QueueHardCap),
		done:   make(chan struct{}),
	}
}

// Enqueue submits one item, returning false (and counting it) if the
// hard cap is reached — the "hard cap on pending futures" backstop
// against unbounded memory growth.
func (w *Writer) Enqueue(item WriteItem) bool {
	select {
	case w.queue <- item:
		atomic.AddInt64(&w.depth, 1)
		return true
	default:
		atomic.AddInt64(&w.droppedFull, 1)
		return false
	}
}

// QueueDepth is the current queue length: the backpressure signal behind
// HighWater and the writer queue depth that status reports.
func (w *Writer) QueueDepth() int {
	return int(atomic.LoadInt64(&w.depth))
}

// HighWater reports whether QueueDepth has crossed the configured
// high-water mark; Run checks it before each receive and drops its
// batch size to 1 while it holds.
func (w *Writer) HighWater() bool {
	return w.QueueDepth() >= w.opts.QueueHighWater
}

// LastBatchLatency returns the duration of the most recently committed
// batch, for the published backpressure metric.
func (w *Writer) LastBatchLatency() time.Duration {
	w.latMu.Lock()
	defer w.latMu.Unlock()
	return time.Duration(w.lastBatchNS)
}

// LastCommitTS returns the unix-second timestamp of the most recently
// committed batch, the status/doctor freshness signal; 0 before the
// first commit.
func (w *Writer) LastCommitTS() int64 {
	w.latMu.Lock()
	defer w.latMu.Unlock()
	return w.lastCommitTS
}

// DroppedFull returns how many Enqueue calls were refused because the
// hard cap was reached.
func (w *Writer) DroppedFull() int64 {
	return atomic.LoadInt64(&w.droppedFull)
}

// Run drains the queue until ctx is cancelled or Stop is called,
// committing bounded batches with a maximum wait between flushes. It
// blocks; callers run it in its own goroutine.
func (w *Writer) Run(ctx context.Context) {
	w.wg.Add(1)
	defer w.wg.Done()

	batchSize := w.opts.BatchSize
	ticker := time.NewTicker(w.opts.MaxBatchWait)
	defer ticker.Stop()

	var pending []WriteItem

	flush := func() {
		if len(pending) == 0 {
			return
		}
		items := pending
		pending = nil
		atomic.AddInt64(&w.depth, -int64(len(items)))
		w.commit(ctx, items)
	}

	for {
		// Under backpressure the batch size drops to 1, trading
		// throughput for faster per-item commit so readers see fresher
		// last_seen/content sooner.
		if w.HighWater() {
			batchSize = 1
		} else {
			batchSize = w.opts.BatchSize
		}

		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			for drained := false; !drained; {
				select {
				case item := <-w.queue:
					pending = append(pending, item)
				default:
					drained = true
				}
			}
			flush()
			return
		case item := <-w.queue:
			pending = append(pending, item)
			if len(pending) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Stop signals Run to commit its pending batch and every item still in
// the queue, then return; it waits up to timeout and returns whether the
// queue fully drained. Enqueue is not disabled: an item enqueued after
// Run has returned stays uncommitted.
func (w *Writer) Stop(timeout time.Duration) bool {
	close(w.done)

	drained := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		remaining := w.QueueDepth()
		if remaining > 0 {
			log.Warnw("writer stopped with undrained queue", "remaining", remaining)
		}
		return remaining == 0
	case <-time.After(timeout):
		log.Warnw("writer stop timed out", "remaining", w.QueueDepth())
		return false
	}
}

func (w *Writer) commit(ctx context.Context, items []WriteItem) {
	start := time.Now()
	b := itemsToBatch(items)
	if !b.Empty() {
		if err := w.db.ApplyBatch(ctx, b); err != nil {
			log.Errorw("batch commit failed", "error", err)
			w.retryIndividually(ctx, items)
			return
		}
	}

	w.latMu.Lock()
	w.lastBatchNS = int64(time.Since(start))
	w.lastCommitTS = time.Now().Unix()
	w.latMu.Unlock()

	if w.engine != nil && (len(b.Files) > 0 || len(b.DeletePaths) > 0) {
		if err := w.engine.SyncBatch(ctx, b.Files, b.DeletePaths); err != nil {
			log.Warnw("engine sync failed, queuing DLQ entries", "error", err)
			w.queueEngineFailureDLQ(ctx, b, err)
		}
	}
}

// retryIndividually is the batch-failure fallback: retry each task on
// its own; persistent single-task failures are logged and skipped
// rather than blocking the rest of the batch forever.
func (w *Writer) retryIndividually(ctx context.Context, items []WriteItem) {
	for _, item := range items {
		single := itemsToBatch([]WriteItem{item})
		if single.Empty() {
			continue
		}
		if err := w.db.ApplyBatch(ctx, single); err != nil {
			log.Errorw("single-task retry failed, skipping", "error", err)
		}
	}
}

func (w *Writer) queueEngineFailureDLQ(ctx context.Context, b Batch, syncErr error) {
	now := time.Now()
	var dlq Batch
	for _, fw := range b.Files {
		if fw.RefreshOnly {
			continue
		}
		dlq.FailedTasks = append(dlq.FailedTasks, model.FailedTask{
			Path: fw.File.RelPath, RootID: fw.File.RootID,
			Error: syncErr.Error(), TS: now.Unix(),
			NextRetry: now.Add(w.opts.EngineRetryAfter).Unix(),
		})
	}
	if dlq.Empty() {
		return
	}
	if err := w.db.ApplyBatch(ctx, dlq); err != nil {
		log.Errorw("failed to record engine-sync DLQ entries", "error", err)
	}
}

func itemsToBatch(items []WriteItem) Batch {
	var b Batch
	for _, it := range items {
		switch {
		case it.Delete != "":
			b.DeletePaths = append(b.DeletePaths, it.Delete)
		case it.File != nil:
			b.Files = append(b.Files, *it.File)
		case it.RepoMeta != nil:
			b.RepoMeta = append(b.RepoMeta, *it.RepoMeta)
		case it.FailedTask != nil:
			b.FailedTasks = append(b.FailedTasks, *it.FailedTask)
		case it.ClearedFailedTask != nil:
			b.ClearedFailedTasks = append(b.ClearedFailedTasks, *it.ClearedFailedTask)
		}
	}
	return b
}
