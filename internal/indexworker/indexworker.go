// Package indexworker implements the Index Worker (C7): the per-task
// pipeline that turns one coalesced INDEX action into a files row plus
// symbol/relation rows, following a fixed step order: stat, compare,
// cap, decode, redact, parse, truncate, emit.
package indexworker

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/sariproject/sari/internal/config"
	"github.com/sariproject/sari/internal/errs"
	"github.com/sariproject/sari/internal/manifest"
	"github.com/sariproject/sari/internal/model"
	"github.com/sariproject/sari/internal/parser"
	"github.com/sariproject/sari/internal/pathutil"
	"github.com/sariproject/sari/internal/redact"
)

// Existing is the prior stored state of a file, as needed for the
// unchanged-content short-circuit.
type Existing struct {
	Mtime       int64
	Size        int64
	ContentHash uint64
	Found       bool
}

// Lookup retrieves the prior stored state for fileKey. Implemented by
// the storage layer; a worker never reads the DB directly.
type Lookup func(fileKey string) Existing

// Result is what one Process call contributes to the DB writer.
type Result struct {
	Action         model.Action
	File           model.File
	Symbols        []model.Symbol
	Relations      []model.Relation
	ManifestUpdate *manifest.Update
	EnqueuedAt     time.Time

	// RefreshOnly is true when the file is unchanged outside the safety
	// window: only File.LastSeen should be written, nothing else.
	RefreshOnly bool
}

const truncationMarker = "\n/* ... content truncated ... */\n"

// Worker runs the per-task pipeline described above.
type Worker struct {
	cfg      *config.Config
	registry *parser.Registry
}

// New builds a Worker bound to cfg's limits and registry's language
// profiles.
func New(cfg *config.Config, registry *parser.Registry) *Worker {
	return &Worker{cfg: cfg, registry: registry}
}

// Process runs one coalesced task. absPath is the task's resolved
// filesystem path; lookup retrieves the file's prior stored state. now
// is the instant Process is invoked, used for the safety-window check
// and to timestamp the result; it is passed in rather than read from
// the clock so callers stay in control of time (and tests stay
// deterministic).
func (w *Worker) Process(task model.CoalesceTask, absPath string, lookup Lookup, now time.Time) (Result, error) {
	fileKey := pathutil.FileKey(task.RootID, task.Path)
	repo := pathutil.RepoLabel(task.Path)

	if task.Action == model.ActionDelete {
		return Result{
			Action:     model.ActionDelete,
			EnqueuedAt: task.EnqueuedAt,
			File: model.File{
				Path: fileKey, RelPath: task.Path, RootID: task.RootID, Repo: repo,
				Deleted: true, LastSeen: now.Unix(),
			},
		}, nil
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Step 1: a vanished file synthesizes a DELETE rather than an error.
			return Result{
				Action:     model.ActionDelete,
				EnqueuedAt: task.EnqueuedAt,
				File: model.File{
					Path: fileKey, RelPath: task.Path, RootID: task.RootID, Repo: repo,
					Deleted: true, LastSeen: now.Unix(),
				},
			}, nil
		}
		return Result{}, errs.Wrap(errs.IOError, errs.ClassTransient,
			fmt.Sprintf("stat %s", task.Path), err)
	}

	mtime := info.ModTime().Unix()
	size := info.Size()

	// Step 2: unchanged-content short-circuit, gated by the AI safety
	// window so near-simultaneous edits are never trusted on mtime/size
	// alone.
	existing := lookup(fileKey)
	insideSafetyWindow := now.Sub(info.ModTime()) < w.cfg.Index.SafetyWindow
	if existing.Found && existing.Mtime == mtime && existing.Size == size && !insideSafetyWindow {
		return Result{
			Action:      model.ActionIndex,
			EnqueuedAt:  task.EnqueuedAt,
			RefreshOnly: true,
			File: model.File{
				Path: fileKey, RelPath: task.Path, RootID: task.RootID, Repo: repo,
				Mtime: mtime, Size: size, LastSeen: now.Unix(),
			},
		}, nil
	}

	file := model.File{
		Path: fileKey, RelPath: task.Path, RootID: task.RootID, Repo: repo,
		Mtime: mtime, Size: size, LastSeen: now.Unix(),
	}

	// Step 3: max_file_bytes cap. Above it, the task yields no content:
	// the row is still emitted (so directory listings and stats stay
	// accurate) but carries neither body nor symbols.
	if size > w.cfg.Scan.MaxFileBytes {
		file.ParseStatus = model.ParseSkipped
		file.ParseReason = "exceeds max_file_bytes"
		return Result{Action: model.ActionIndex, EnqueuedAt: task.EnqueuedAt, File: file}, nil
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return Result{}, errs.Wrap(errs.IOError, errs.ClassTransient,
			fmt.Sprintf("read %s", task.Path), err)
	}
	file.ContentHash = xxhash.Sum64(raw)

	if isBinary(raw) {
		file.IsBinary = true
		file.ParseStatus = model.ParseSkipped
		file.ParseReason = "binary content"
		return Result{Action: model.ActionIndex, EnqueuedAt: task.EnqueuedAt, File: file}, nil
	}

	// Step 4: lossy UTF-8 decode, then optional redaction.
	content := strings.ToValidUTF8(string(raw), "�")
	if w.cfg.Redact {
		scrubbed, found := redact.Scrub(content)
		content = scrubbed
		if found {
			file.MetadataJSON = `{"redacted":true}`
		}
	}

	file.IsMinified = isMinified(content)

	// Symbols/relations are extracted from the full decoded (redacted)
	// text; only the *stored* body is size-constrained (step 5).
	parsed, perr := w.registry.Parse(fileKey, content)
	if perr != nil {
		file.ParseStatus = model.ParseFailed
		file.ParseReason = perr.Error()
	} else {
		file.ParseStatus = model.ParseOK
	}

	file.ContentBytes = int64(len(content))
	file.Content = truncate(content, w.cfg.Index.ExcludeContentBytes)
	file.FTSContent = truncate(content, w.cfg.Engine.MaxDocBytes)

	res := Result{
		Action:     model.ActionIndex,
		EnqueuedAt: task.EnqueuedAt,
		File:       file,
		Symbols:    parsed.Symbols,
		Relations:  parsed.Relations,
	}

	// package.json additionally contributes repo metadata.
	if manifest.IsManifestPath(task.Path) {
		u := manifest.Parse(content)
		if !u.IsZero() {
			res.ManifestUpdate = &u
		}
	}

	return res, nil
}

// truncate caps body at maxBytes, appending a visible marker so callers
// can tell stored content is not the whole file. maxBytes <= 0 disables
// the cap.
func truncate(content string, maxBytes int64) string {
	if maxBytes <= 0 || int64(len(content)) <= maxBytes {
		return content
	}
	cut := int(maxBytes)
	if cut > len(content) {
		cut = len(content)
	}
	return content[:cut] + truncationMarker
}

// isMinified flags content as minified when it is long but carries
// almost no line breaks, the same long-line heuristic most editors use
// to warn before syntax-highlighting a file.
func isMinified(content string) bool {
	const (
		minBytes        = 2000
		maxAvgLineBytes = 300
	)
	n := len(content)
	if n < minBytes {
		return false
	}
	lines := strings.Count(content, "\n") + 1
	return n/lines > maxAvgLineBytes
}

// isBinary is the worker's own fallback binary check: the scanner
// already filters obvious binaries by byte cap, this catches a NUL byte
// anywhere in the first chunk, the same magic-number-adjacent signal
// most text tools use.
func isBinary(raw []byte) bool {
	n := len(raw)
	if n > 8000 {
		n = 8000
	}
	for _, b := range raw[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}
