// Package daemon is the composition root: it wires the path resolver,
// scanner, watcher, coalescer, fair scheduler, index worker, storage
// writer, external engine, search/read services and tool surface into
// one running process, with explicit settings and no global state.
package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sariproject/sari/internal/coalescer"
	"github.com/sariproject/sari/internal/config"
	"github.com/sariproject/sari/internal/engine"
	"github.com/sariproject/sari/internal/errs"
	"github.com/sariproject/sari/internal/indexworker"
	"github.com/sariproject/sari/internal/logging"
	"github.com/sariproject/sari/internal/mcptools"
	"github.com/sariproject/sari/internal/model"
	"github.com/sariproject/sari/internal/parser"
	"github.com/sariproject/sari/internal/pathutil"
	"github.com/sariproject/sari/internal/readsvc"
	"github.com/sariproject/sari/internal/scanner"
	"github.com/sariproject/sari/internal/scheduler"
	"github.com/sariproject/sari/internal/search"
	"github.com/sariproject/sari/internal/storage"
	"github.com/sariproject/sari/internal/watcher"
)

// Options configures one daemon instance. Every setting is passed in
// explicitly; nothing is read from a global.
type Options struct {
	DataDir      string
	RootPaths    []string
	EngineDir    string // defaults to <DataDir>/engine-index/<roots-hash> when empty
	EnableEngine bool
}

// Daemon owns every long-lived component and their lifecycle.
type Daemon struct {
	cfg  *config.Config
	opts Options

	roots    []pathutil.ResolvedRoot
	rootByID map[model.RootID]pathutil.ResolvedRoot

	db        *storage.DB
	writeLock *storage.WriteLock
	writer    *storage.Writer
	eng       engine.Engine

	registry *parser.Registry
	worker   *indexworker.Worker

	coalescer *coalescer.Coalescer
	scheduler *scheduler.Scheduler

	watchers []*watcher.Watcher

	searcher *search.Searcher
	reader   *readsvc.Service
	tools    *mcptools.Toolset

	log *zap.SugaredLogger

	startedAt time.Time

	slowMu    sync.Mutex
	slowFiles []slowFile

	cancel  context.CancelFunc
	eg      *errgroup.Group
	running bool
}

type slowFile struct {
	path string
	d    time.Duration
}

// New resolves the workspace roots, opens storage and (optionally) the
// external engine, and wires every component. The daemon is not started
// until Start is called.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	roots, err := pathutil.ResolveWorkspaceRoots(opts.RootPaths, pathutil.ResolveOptions{
		FollowSymlinks:  cfg.Index.FollowSymlinks,
		KeepNestedRoots: cfg.Index.KeepNestedRoots,
	})
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgs, errs.ClassInput, "resolve workspace roots", err)
	}
	if len(roots) == 0 {
		return nil, errs.New(errs.InvalidArgs, errs.ClassInput, "no workspace roots resolved")
	}

	dbPath := filepath.Join(opts.DataDir, "index.db")
	lock := storage.NewWriteLock(dbPath)
	acquired, err := lock.TryAcquire()
	if err != nil {
		return nil, errs.Wrap(errs.DBError, errs.ClassCatastrophic, "acquire write lock", err)
	}
	if !acquired {
		return nil, errs.New(errs.DBError, errs.ClassCatastrophic,
			"another sari process already holds the write lock for "+opts.DataDir)
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		_ = lock.Release()
		return nil, errs.Wrap(errs.DBError, errs.ClassCatastrophic, "open storage", err)
	}

	var eng engine.Engine
	if opts.EnableEngine {
		engDir := opts.EngineDir
		if engDir == "" {
			h := sha256.New()
			for _, r := range roots {
				h.Write(r.ID[:])
			}
			engDir = filepath.Join(opts.DataDir, "engine-index", hex.EncodeToString(h.Sum(nil))[:16])
		}
		sqliteEng, err := engine.Open(engDir, configHash(cfg))
		if err != nil {
			// The external engine is always optional: a failure to open it
			// degrades to the SQL-backed retrieval chain rather than
			// blocking the daemon.
			logging.For("daemon").Warnw("external engine unavailable, degrading to SQL retrieval", "err", err)
		} else {
			eng = sqliteEng
		}
	}

	registry := parser.NewDefault()
	worker := indexworker.New(cfg, registry)

	writer := storage.NewWriter(db, engineSyncer(eng), storage.WriterOptions{})

	d := &Daemon{
		cfg:       cfg,
		opts:      opts,
		roots:     roots,
		rootByID:  make(map[model.RootID]pathutil.ResolvedRoot, len(roots)),
		db:        db,
		writeLock: lock,
		writer:    writer,
		eng:       eng,
		registry:  registry,
		worker:    worker,
		coalescer: coalescer.New(coalescer.Options{}),
		scheduler: scheduler.New(scheduler.Options{MaxConcurrency: cfg.Index.Workers}),
		log:       logging.For("daemon"),
	}
	for _, r := range roots {
		d.rootByID[r.ID] = r
	}

	d.searcher = search.New(db, eng)
	d.reader = readsvc.New(db)
	d.tools = mcptools.New(d.searcher, d.reader, db, eng, d, d)

	return d, nil
}

// configHash identifies the configuration the external engine was built
// under; a mismatch against the stored sidecar means a rebuild is owed.
func configHash(cfg *config.Config) string {
	return fmt.Sprintf("v1-mem%d-threads%d-maxdoc%d", cfg.Engine.MemMB, cfg.Engine.Threads, cfg.Engine.MaxDocBytes)
}

// engineSyncer adapts the optional engine.Engine to the narrow
// storage.EngineSyncer the writer calls after every committed batch; a
// nil engine yields a nil syncer, storage's documented "engine absent"
// mode.
func engineSyncer(eng engine.Engine) storage.EngineSyncer {
	if eng == nil {
		return nil
	}
	return &engineAdapter{eng: eng}
}

type engineAdapter struct{ eng engine.Engine }

func (a *engineAdapter) SyncBatch(ctx context.Context, writes []storage.FileWrite, deletePaths []string) error {
	var docs []engine.Document
	for _, w := range writes {
		if w.RefreshOnly || w.File.Deleted {
			continue
		}
		f := w.File
		docs = append(docs, engine.Document{
			ID: f.Path, RootID: f.RootID, Repo: f.Repo, Path: f.Path, RelPath: f.RelPath,
			PathText: f.RelPath, BodyText: f.FTSContent, Preview: preview(f.Content),
			Mtime: f.Mtime, Size: f.Size,
		})
	}
	if len(docs) > 0 {
		if err := a.eng.UpsertDocuments(ctx, docs); err != nil {
			return err
		}
	}
	all := append([]string{}, deletePaths...)
	for _, w := range writes {
		if w.File.Deleted {
			all = append(all, w.File.Path)
		}
	}
	if len(all) > 0 {
		return a.eng.DeleteDocuments(ctx, all)
	}
	return nil
}

func preview(content string) string {
	const n = 200
	if len(content) <= n {
		return content
	}
	return content[:n]
}

// Tools returns the wired tool surface, for cmd/sari's transport
// registration.
func (d *Daemon) Tools() *mcptools.Toolset { return d.tools }

// Start registers every root and brings up the DB writer and scheduler
// workers, then for each root starts a watcher and runs an initial full
// scan. A root whose watcher cannot be created or started is neither
// watched nor scanned here. It returns once every root has been handled;
// ingestion continues on its own goroutines until Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(runCtx)
	d.cancel = cancel
	d.eg = eg
	d.startedAt = time.Now()

	now := time.Now().Unix()
	for _, r := range d.roots {
		if err := d.db.RegisterRoot(egCtx, r.ID, r.Path, r.Path, r.Label, now); err != nil {
			cancel()
			return errs.Wrap(errs.DBError, errs.ClassCatastrophic, "register root "+r.Path, err)
		}
	}

	eg.Go(func() error {
		d.writer.Run(egCtx)
		return nil
	})

	for i := 0; i < maxInt(d.cfg.Index.Workers, 1); i++ {
		eg.Go(func() error { return d.workerLoop(egCtx) })
	}

	for _, r := range d.roots {
		r := r
		w, err := watcher.New(r.ID, r.Path, d.cfg.Index.WatchDebounce)
		if err != nil {
			// Degradation, never fatal: this root falls back to whatever
			// rescans the caller triggers explicitly.
			d.log.Warnw("watcher unavailable for root, live updates disabled", "root", r.Path, "err", err)
			continue
		}
		if err := w.Start(egCtx); err != nil {
			d.log.Warnw("watcher failed to start", "root", r.Path, "err", err)
			continue
		}
		d.watchers = append(d.watchers, w)
		eg.Go(func() error { return d.watchEvents(egCtx, w) })

		runID := uuid.New()
		d.log.Infow("initial scan starting", "run_id", runID, "root", r.Path)
		if _, err := d.ScanOnce(egCtx, r.Label); err != nil {
			d.log.Warnw("initial scan failed", "run_id", runID, "root", r.Path, "err", err)
		}
	}

	d.running = true
	return nil
}

// Stop signals every component to shut down, drains the coalescer within
// its own drain window and the writer within what is left of timeout, and
// releases the write lock. Calling it on a daemon that is not running is
// a no-op.
func (d *Daemon) Stop(timeout time.Duration) error {
	if !d.running {
		return nil
	}
	deadline := time.Now().Add(timeout)

	for _, w := range d.watchers {
		_ = w.Stop()
	}
	d.coalescer.Shutdown()

	if d.cancel != nil {
		d.cancel()
	}
	if d.eg != nil {
		_ = d.eg.Wait()
	}

	remain := time.Until(deadline)
	if remain < 0 {
		remain = 0
	}
	d.writer.Stop(remain)

	if d.eng != nil {
		_ = d.eng.Close()
	}
	if err := d.db.Close(); err != nil {
		d.log.Warnw("close storage", "err", err)
	}
	if err := d.writeLock.Release(); err != nil {
		d.log.Warnw("release write lock", "err", err)
	}

	logging.Sync()
	d.running = false
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// watchEvents bridges one root's debounced filesystem events into the
// coalescer, the live-update entry point to the priority queue.
func (d *Daemon) watchEvents(ctx context.Context, w *watcher.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			rel := pathutil.ToRelative(ev.Path, ev.RootPath)
			switch ev.Kind {
			case watcher.Created, watcher.Modified:
				d.coalescer.Enqueue(ev.RootID, rel, model.ActionIndex, "")
			case watcher.Deleted:
				d.coalescer.Enqueue(ev.RootID, rel, model.ActionDelete, "")
			case watcher.Moved:
				dest := pathutil.ToRelative(ev.DestPath, ev.RootPath)
				d.coalescer.Enqueue(ev.RootID, rel, "MOVED", dest)
			}
			d.drainCoalescerOnce()
		}
	}
}

// drainCoalescerOnce moves every currently-coalesced task onto the
// scheduler's priority queue: watcher-sourced work always preempts bulk
// scan work, per the fair scheduler's contract.
func (d *Daemon) drainCoalescerOnce() {
	for {
		t, ok := d.coalescer.Pop()
		if !ok {
			return
		}
		d.scheduler.SubmitPriority(t)
	}
}

// workerLoop is one bounded scheduler worker: it dequeues a task,
// processes it through the index worker, and hands the result to the DB
// writer.
func (d *Daemon) workerLoop(ctx context.Context) error {
	for {
		if err := d.scheduler.Acquire(ctx); err != nil {
			return nil
		}
		task, ok := d.scheduler.Dequeue(ctx)
		if !ok {
			d.scheduler.Release()
			return nil
		}
		d.processTask(ctx, task.CoalesceTask)
		d.scheduler.Release()
	}
}

func (d *Daemon) rootPath(id model.RootID) (string, bool) {
	r, ok := d.rootByID[id]
	if !ok {
		return "", false
	}
	return r.Path, true
}

func (d *Daemon) processTask(ctx context.Context, task model.CoalesceTask) {
	root, ok := d.rootPath(task.RootID)
	if !ok {
		d.log.Warnw("task for unknown root, dropping", "root_id", task.RootID.Hex(), "path", task.Path)
		return
	}
	abs := filepath.Join(root, filepath.FromSlash(task.Path))

	start := time.Now()
	res, err := d.worker.Process(task, abs, d.db.Lookup, time.Now())
	if err != nil {
		d.enqueueFailure(task, err)
		return
	}
	d.recordSlow(task.Path, time.Since(start))

	switch {
	case res.Action == model.ActionDelete:
		d.writer.Enqueue(storage.WriteItem{Delete: res.File.Path})
	case res.RefreshOnly:
		d.writer.Enqueue(storage.WriteItem{File: &storage.FileWrite{File: res.File, RefreshOnly: true}})
	default:
		d.writer.Enqueue(storage.WriteItem{File: &storage.FileWrite{
			File: res.File, Symbols: res.Symbols, Relations: res.Relations,
		}})
		if res.ManifestUpdate != nil {
			d.writer.Enqueue(storage.WriteItem{RepoMeta: &storage.RepoMetaUpdate{
				RepoName: pathutil.RepoLabel(task.Path), Update: *res.ManifestUpdate,
			}})
		}
	}
	d.writer.Enqueue(storage.WriteItem{ClearedFailedTask: &model.CoalesceKey{RootID: task.RootID, Path: task.Path}})
}

func (d *Daemon) enqueueFailure(task model.CoalesceTask, cause error) {
	now := time.Now().Unix()
	next := now + 30
	d.writer.Enqueue(storage.WriteItem{FailedTask: &model.FailedTask{
		Path: task.Path, RootID: task.RootID, Attempts: task.Attempts + 1,
		Error: cause.Error(), TS: now, NextRetry: next,
	}})
}

func (d *Daemon) recordSlow(path string, dur time.Duration) {
	const keep = 10
	d.slowMu.Lock()
	defer d.slowMu.Unlock()
	d.slowFiles = append(d.slowFiles, slowFile{path: path, d: dur})
	sort.Slice(d.slowFiles, func(i, j int) bool { return d.slowFiles[i].d > d.slowFiles[j].d })
	if len(d.slowFiles) > keep {
		d.slowFiles = d.slowFiles[:keep]
	}
}

// newScanner builds a scanner for one root from the daemon's config.
// RespectGitignore is recorded but left unwired: no gitignore-pattern
// library is part of the adopted stack, so the filter is a documented
// no-op until one is.
func (d *Daemon) newScanner() *scanner.Scanner {
	return scanner.New(scanner.Options{
		MaxDepth:       d.cfg.Index.MaxDepth,
		MaxFileBytes:   d.cfg.Scan.MaxFileBytes,
		FollowSymlinks: d.cfg.Index.FollowSymlinks,
		IncludeExt:     d.cfg.Scan.IncludeExt,
		IncludeGlobs:   d.cfg.Scan.IncludeGlobs,
		ExcludeDirs:    d.cfg.Scan.ExcludeDirs,
		ExcludeGlobs:   d.cfg.Scan.ExcludeGlobs,
	})
}

func (d *Daemon) findRoot(label string) (pathutil.ResolvedRoot, bool) {
	for _, r := range d.roots {
		if r.Label == label || r.Path == label {
			return r, true
		}
	}
	return pathutil.ResolvedRoot{}, false
}

// --- mcptools.Indexer ---

// ScanOnce runs one synchronous full scan of root, staging every
// discovered file and merging+pruning in a single pass, and returns the
// number of files scanned.
func (d *Daemon) ScanOnce(ctx context.Context, rootLabel string) (int, error) {
	root, ok := d.findRoot(rootLabel)
	if !ok {
		return 0, errs.New(errs.RepoNotFound, errs.ClassInput, "unknown root: "+rootLabel)
	}

	scanStarted := time.Now().Unix()
	if err := d.db.BeginScan(ctx, root.ID, scanStarted); err != nil {
		return 0, errs.Wrap(errs.DBError, errs.ClassTransient, "begin scan", err)
	}

	count := 0
	sc := d.newScanner()
	walkErr := sc.Walk(root.Path, func(e scanner.Entry) error {
		if e.Excluded {
			return nil
		}
		task := model.CoalesceTask{RootID: root.ID, Path: e.RelPath, Action: model.ActionIndex}
		res, err := d.worker.Process(task, e.AbsPath, d.db.Lookup, time.Now())
		if err != nil {
			d.log.Warnw("scan: process failed, skipping file", "path", e.RelPath, "err", err)
			return nil
		}
		if res.Action == model.ActionDelete {
			return nil
		}
		if res.RefreshOnly {
			// Unchanged outside the safety window: touch last_seen
			// directly rather than staging a row, so the merge's
			// content upsert never overwrites live content with the
			// empty body a RefreshOnly result deliberately omits.
			if err := d.db.TouchLastSeen(ctx, res.File.Path, res.File.LastSeen); err != nil {
				return err
			}
			count++
			return nil
		}
		if err := d.db.StageFile(ctx, res.File); err != nil {
			return err
		}
		if len(res.Symbols) > 0 || len(res.Relations) > 0 {
			d.writer.Enqueue(storage.WriteItem{File: &storage.FileWrite{
				File: res.File, Symbols: res.Symbols, Relations: res.Relations,
			}})
		}
		if res.ManifestUpdate != nil {
			d.writer.Enqueue(storage.WriteItem{RepoMeta: &storage.RepoMetaUpdate{
				RepoName: pathutil.RepoLabel(e.RelPath), Update: *res.ManifestUpdate,
			}})
		}
		count++
		return nil
	})
	if walkErr != nil {
		return count, errs.Wrap(errs.IOError, errs.ClassTransient, "walk root "+root.Path, walkErr)
	}

	if _, err := d.db.MergeScan(ctx, root.ID, scanStarted); err != nil {
		return count, errs.Wrap(errs.DBError, errs.ClassTransient, "merge scan", err)
	}
	return count, nil
}

// Rescan walks root to count its non-excluded files, then runs ScanOnce
// for it in a background goroutine and returns that count without
// waiting for the scan. The scan runs outside the scheduler: it is not
// placed on the fair (bulk) queue.
func (d *Daemon) Rescan(ctx context.Context, rootLabel string) (int, error) {
	root, ok := d.findRoot(rootLabel)
	if !ok {
		return 0, errs.New(errs.RepoNotFound, errs.ClassInput, "unknown root: "+rootLabel)
	}

	var paths []string
	sc := d.newScanner()
	if err := sc.Walk(root.Path, func(e scanner.Entry) error {
		if !e.Excluded {
			paths = append(paths, e.RelPath)
		}
		return nil
	}); err != nil {
		return 0, errs.Wrap(errs.IOError, errs.ClassTransient, "walk root "+root.Path, err)
	}

	runID := uuid.New()
	d.log.Infow("rescan queued", "run_id", runID, "root", root.Path, "files", len(paths))
	go func() {
		if _, err := d.ScanOnce(context.Background(), root.Label); err != nil {
			d.log.Warnw("rescan failed", "run_id", runID, "root", root.Path, "err", err)
		}
	}()
	return len(paths), nil
}

// IndexFile reindexes exactly one file synchronously and commits it
// immediately, bypassing the writer's batch window so an on-demand
// index_file call observes its own write.
func (d *Daemon) IndexFile(ctx context.Context, fileKey string) (bool, error) {
	var matched pathutil.ResolvedRoot
	var relPath string
	found := false
	for _, r := range d.roots {
		if key := pathutil.FileKey(r.ID, relativeTo(fileKey, r.ID)); key == fileKey {
			matched, relPath, found = r, relativeTo(fileKey, r.ID), true
			break
		}
	}
	if !found {
		return false, errs.New(errs.NotIndexed, errs.ClassInput, "file key not under any root: "+fileKey)
	}

	abs := filepath.Join(matched.Path, filepath.FromSlash(relPath))
	task := model.CoalesceTask{RootID: matched.ID, Path: relPath, Action: model.ActionIndex}
	res, err := d.worker.Process(task, abs, d.db.Lookup, time.Now())
	if err != nil {
		return false, errs.Wrap(errs.IOError, errs.ClassTransient, "index file "+fileKey, err)
	}

	var batch storage.Batch
	switch {
	case res.Action == model.ActionDelete:
		batch.DeletePaths = []string{res.File.Path}
	case res.RefreshOnly:
		batch.Files = []storage.FileWrite{{File: res.File, RefreshOnly: true}}
	default:
		batch.Files = []storage.FileWrite{{File: res.File, Symbols: res.Symbols, Relations: res.Relations}}
	}
	if err := d.db.ApplyBatch(ctx, batch); err != nil {
		return false, errs.Wrap(errs.DBError, errs.ClassTransient, "apply index_file batch", err)
	}
	return true, nil
}

// relativeTo strips a fileKey's "<root-id>/" prefix if it belongs to id,
// otherwise returns the key unchanged (the caller's match check fails).
func relativeTo(fileKey string, id model.RootID) string {
	prefix := id.Hex() + "/"
	if len(fileKey) > len(prefix) && fileKey[:len(prefix)] == prefix {
		return fileKey[len(prefix):]
	}
	return fileKey
}

// --- mcptools.StatusSource ---

// QueueDepths reports the coalescer's pending-dedup depth and the DB
// writer's pending-batch depth.
func (d *Daemon) QueueDepths() (discovery int, dbWriter int) {
	return d.coalescer.Stats().Pending, d.writer.QueueDepth()
}

// LastCommitTS reports the unix timestamp of the most recently committed
// batch; 0 until the first batch commits.
func (d *Daemon) LastCommitTS() int64 {
	return d.writer.LastCommitTS()
}

// DLQSize reports the current dead-letter queue size.
func (d *Daemon) DLQSize(ctx context.Context) int {
	n, err := d.db.CountFailedTasks(ctx)
	if err != nil {
		d.log.Warnw("count failed tasks", "err", err)
		return 0
	}
	return n
}

// TopSlowFiles reports the slowest recently-processed files, most
// expensive first.
func (d *Daemon) TopSlowFiles() []string {
	d.slowMu.Lock()
	defer d.slowMu.Unlock()
	out := make([]string, 0, len(d.slowFiles))
	for _, sf := range d.slowFiles {
		out = append(out, fmt.Sprintf("%s (%s)", sf.path, sf.d.Round(time.Millisecond)))
	}
	return out
}
