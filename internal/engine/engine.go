// Package engine implements the External Engine Adapter (C10): a
// pluggable full-text retrieval interface that the Search/Ranking
// Engine (C11) consults first when ready, falling back to SQL FTS/LIKE/
// regex otherwise (all features must work without the
// external engine).
package engine

import (
	"context"

	"github.com/sariproject/sari/internal/model"
)

// Document is one engine-indexed unit, keyed by doc-id = file-key.
type Document struct {
	ID       string // file-key, "<root-id>/<rel-path>"
	RootID   model.RootID
	Repo     string
	Path     string // same as ID
	RelPath  string
	PathText string // tokenizable form of the path, for path-substring matches
	BodyText string // fts_content-equivalent, already capped upstream
	Preview  string
	Mtime    int64
	Size     int64
}

// Hit is one scored result from Search.
type Hit struct {
	DocID string
	Score float64
}

// Limits bounds and filters a Search call's "filtered
// by root-id, repo, file type, path pattern, and exclude patterns".
type Limits struct {
	Max          int
	RootID       *model.RootID
	Repo         string
	FileExt      string
	PathGlob     string
	ExcludeGlobs []string
}

// SearchMeta carries any out-of-band information about a Search call
// (e.g. a regex compile error would be carried here by the search
// package's own regex path; the engine path reports nothing beyond
// having run).
type SearchMeta struct {
	TotalMode string // "exact" or "approx" output caps
	Total     int
}

// Status is the adapter's self-reported readiness
type Status struct {
	Ready    bool
	Version  string
	DocCount int
	Reason   string
	Hint     string
}

// Engine is the adapter contract. A nil Engine (or one whose Status()
// reports Ready=false) must never block correctness — every caller
// falls back to the SQL-backed retrieval chain.
type Engine interface {
	UpsertDocuments(ctx context.Context, docs []Document) error
	DeleteDocuments(ctx context.Context, docIDs []string) error
	Search(ctx context.Context, query string, limits Limits) ([]Hit, SearchMeta, error)
	Status(ctx context.Context) Status
	Close() error
}
