package search

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hbollon/go-edlib"
	"github.com/surgebase/porter2"

	"github.com/sariproject/sari/internal/engine"
	"github.com/sariproject/sari/internal/model"
)

const (
	hardCapHits    = 20
	hardCapFiles   = 200
	hardCapSymbols = 50

	// retrievalMultiple over-fetches candidates before ranking+capping, so
	// the top opts.Max survive the cut instead of an arbitrary DB-order
	// prefix of them.
	retrievalMultiple = 10
	minRetrieval      = 200

	// fuzzyVocabularySize bounds the did-you-mean candidate set: a
	// workspace-wide scan would be too slow to run on every zero-hit
	// query.
	fuzzyVocabularySize = 2000
)

// Store is the read surface search needs from the primary database.
// *storage.DB satisfies this directly.
type Store interface {
	FTSMatch(ctx context.Context, matchExpr string, limit int) ([]string, error)
	LikeMatch(ctx context.Context, likePattern string, limit int) ([]string, error)
	RegexCandidates(ctx context.Context, limit int) ([]model.File, error)
	GetFilesByPaths(ctx context.Context, paths []string) ([]model.File, error)
	ListSymbolsByName(ctx context.Context, nameLower string) ([]model.Symbol, error)
	GetRepoMeta(ctx context.Context, repoName string) (model.RepoMeta, bool)
	DistinctSymbolNames(ctx context.Context, limit int) ([]string, error)
}

// Options configures one Search call.
type Options struct {
	Max          int
	Offset       int
	SnippetLines int
	UseRegex     bool
	RootID       *model.RootID
	Repo         string
	FileExt      string
	PathGlob     string
	ExcludeGlobs []string

	// StemFallback enables the porter2 stemmed-term retry when the exact
	// and substring layers produce zero hits.
	StemFallback bool
	// FuzzySuggest enables a Jaro-Winkler did-you-mean suggestion when a
	// symbol-name query finds nothing.
	FuzzySuggest bool
}

// Hit is one ranked, snippeted result.
type Hit struct {
	Path      string
	RelPath   string
	RootID    model.RootID
	Repo      string
	Score     float64
	Snippet   string
	SymbolHit bool
}

// Meta carries the out-of-band facts about a Search call.
type Meta struct {
	TotalMode  string // "exact" or "approx"
	Total      int    // -1 when approx and unknown
	RegexError string
	DidYouMean string
}

// Result is what Search returns.
type Result struct {
	Hits []Hit
	Meta Meta
}

// Searcher runs the retrieval/rank/snippet pipeline over a Store, with
// an optional external Engine consulted first when ready.
type Searcher struct {
	store Store
	eng   engine.Engine // nil-able; nil or not-Ready always falls through
	now   func() time.Time
}

// New builds a Searcher. eng may be nil: every code path below is
// written to work correctly with no external engine at all.
func New(store Store, eng engine.Engine) *Searcher {
	return &Searcher{store: store, eng: eng, now: time.Now}
}

// Search runs the full pipeline: parse, retrieve (engine -> FTS -> LIKE
// -> regex), hybrid symbol merge, rank, cap, snippet.
func (s *Searcher) Search(ctx context.Context, rawQuery string, opts Options) (Result, error) {
	max := opts.Max
	if max <= 0 || max > hardCapHits {
		max = hardCapHits
	}
	snippetLines := opts.SnippetLines

	q := Parse(rawQuery, opts.UseRegex)
	if q.UseRegex && q.RegexErr != "" {
		return Result{Meta: Meta{TotalMode: "exact", Total: 0, RegexError: q.RegexErr}}, nil
	}
	if q.Empty() {
		return Result{Meta: Meta{TotalMode: "exact", Total: 0}}, nil
	}

	retrievalLimit := max * retrievalMultiple
	if retrievalLimit < minRetrieval {
		retrievalLimit = minRetrieval
	}

	var (
		paths      []string
		approx     bool
		usedEngine bool
	)

	switch {
	case q.UseRegex:
		files, err := s.store.RegexCandidates(ctx, retrievalLimit*5)
		if err != nil {
			return Result{}, err
		}
		paths, approx = regexFilter(files, q.Pattern, retrievalLimit)
	case !q.SkipFTS && s.eng != nil && s.eng.Status(ctx).Ready:
		usedEngine = true
		hits, _, err := s.eng.Search(ctx, rawQuery, engine.Limits{
			Max: retrievalLimit, RootID: opts.RootID, Repo: opts.Repo,
			FileExt: opts.FileExt, PathGlob: opts.PathGlob, ExcludeGlobs: opts.ExcludeGlobs,
		})
		if err != nil {
			return Result{}, err
		}
		for _, h := range hits {
			paths = append(paths, h.DocID)
		}
		approx = true
	case !q.SkipFTS:
		ps, err := s.store.FTSMatch(ctx, q.FTSMatchExpr(), retrievalLimit)
		if err != nil {
			// Operational FTS failure falls back to LIKE.
			ps, err = s.store.LikeMatch(ctx, q.LikePattern(), retrievalLimit)
			if err != nil {
				return Result{}, err
			}
			approx = true
		}
		paths = ps
		if opts.StemFallback && len(paths) == 0 {
			if stemmed := stemmedMatchExpr(q); stemmed != "" {
				if ps, err := s.store.FTSMatch(ctx, stemmed, retrievalLimit); err == nil && len(ps) > 0 {
					paths = ps
					approx = true
				}
			}
		}
	default:
		ps, err := s.store.LikeMatch(ctx, q.LikePattern(), retrievalLimit)
		if err != nil {
			return Result{}, err
		}
		paths = ps
	}

	symbolHitPaths, err := s.symbolHitPaths(ctx, q)
	if err != nil {
		return Result{}, err
	}
	paths = unionPreserveOrder(paths, keysOf(symbolHitPaths))

	if len(opts.ExcludeGlobs) > 0 {
		approx = true
	}

	files, err := s.store.GetFilesByPaths(ctx, paths)
	if err != nil {
		return Result{}, err
	}
	files = applyFilters(files, opts)

	now := s.now()
	hits := make([]Hit, 0, len(files))
	repoCache := map[string]int{}
	for _, f := range files {
		priority := s.repoPriority(ctx, f.Repo, repoCache)
		_, isSymbolHit := symbolHitPaths[f.Path]
		score := Score(ScoreInput{
			RelPath: f.RelPath, Mtime: f.Mtime, RepoPriority: priority,
			IsSymbolHit: isSymbolHit, Query: q, Now: now,
		})
		hits = append(hits, Hit{
			Path: f.Path, RelPath: f.RelPath, RootID: f.RootID, Repo: f.Repo,
			Score: score, SymbolHit: isSymbolHit,
			Snippet: Snippet(f.Content, q.AllTerms(), snippetLines),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].RelPath != hits[j].RelPath {
			fi, fj := fileOf(files, hits[i].Path), fileOf(files, hits[j].Path)
			if fi.Mtime != fj.Mtime {
				return fi.Mtime > fj.Mtime
			}
		}
		return hits[i].Path < hits[j].Path
	})

	total := len(hits)
	totalMode := "exact"
	if usedEngine || q.UseRegex || approx || total >= retrievalLimit {
		totalMode = "approx"
		total = -1
	}

	if opts.Offset > 0 && opts.Offset < len(hits) {
		hits = hits[opts.Offset:]
	} else if opts.Offset >= len(hits) {
		hits = nil
	}
	if len(hits) > max {
		hits = hits[:max]
	}

	meta := Meta{TotalMode: totalMode, Total: total}
	if opts.FuzzySuggest && len(symbolHitPaths) == 0 && len(hits) == 0 {
		meta.DidYouMean = s.didYouMean(ctx, q)
	}
	return Result{Hits: hits, Meta: meta}, nil
}

func fileOf(files []model.File, path string) model.File {
	for _, f := range files {
		if f.Path == path {
			return f
		}
	}
	return model.File{}
}

// symbolHitPaths returns the set of file paths containing a symbol
// whose name exactly matches (case-insensitively) any query term: the
// "symbol-definition" side of the hybrid merge.
func (s *Searcher) symbolHitPaths(ctx context.Context, q Query) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for _, term := range q.AllTerms() {
		syms, err := s.store.ListSymbolsByName(ctx, strings.ToLower(term))
		if err != nil {
			return nil, err
		}
		for _, sym := range syms {
			out[sym.Path] = struct{}{}
		}
	}
	return out, nil
}

func (s *Searcher) repoPriority(ctx context.Context, repo string, cache map[string]int) int {
	if p, ok := cache[repo]; ok {
		return p
	}
	p := 0
	if m, ok := s.store.GetRepoMeta(ctx, repo); ok {
		p = m.Priority
	}
	cache[repo] = p
	return p
}

// didYouMean suggests the closest known symbol name to the query's
// primary term via Jaro-Winkler distance, surfaced only in meta, never
// affecting hits.
func (s *Searcher) didYouMean(ctx context.Context, q Query) string {
	term := q.primaryTerm()
	if term == "" {
		return ""
	}
	candidates, err := s.store.DistinctSymbolNames(ctx, fuzzyVocabularySize)
	if err != nil || len(candidates) == 0 {
		return ""
	}
	best, err := edlib.FuzzySearch(term, candidates, edlib.JaroWinkler)
	if err != nil {
		return ""
	}
	return best
}

// stemmedMatchExpr reduces every term to its porter2 stem and rebuilds a
// conjunctive FTS expression, the stemmed-term fallback layer used only
// when the exact/substring layers found nothing.
func stemmedMatchExpr(q Query) string {
	var parts []string
	for _, t := range q.Tokens {
		stem := porter2.Stem(t)
		if stem == "" {
			continue
		}
		parts = append(parts, `"`+strings.ReplaceAll(stem, `"`, `""`)+`"*`)
	}
	return strings.Join(parts, " AND ")
}

func regexFilter(files []model.File, pattern *regexp.Regexp, limit int) ([]string, bool) {
	var out []string
	truncated := false
	for _, f := range files {
		if pattern.MatchString(f.Content) {
			out = append(out, f.Path)
			if len(out) >= limit {
				truncated = true
				break
			}
		}
	}
	return out, truncated
}

func applyFilters(files []model.File, opts Options) []model.File {
	if opts.RootID == nil && opts.Repo == "" && opts.FileExt == "" && opts.PathGlob == "" && len(opts.ExcludeGlobs) == 0 {
		return files
	}
	out := files[:0:0]
	for _, f := range files {
		if opts.RootID != nil && f.RootID != *opts.RootID {
			continue
		}
		if opts.Repo != "" && f.Repo != opts.Repo {
			continue
		}
		if opts.FileExt != "" && !strings.HasSuffix(f.RelPath, opts.FileExt) {
			continue
		}
		if opts.PathGlob != "" {
			if ok, _ := doublestar.Match(opts.PathGlob, f.RelPath); !ok {
				continue
			}
		}
		excluded := false
		for _, ex := range opts.ExcludeGlobs {
			if ok, _ := doublestar.Match(ex, f.RelPath); ok {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		out = append(out, f)
	}
	return out
}

func unionPreserveOrder(base []string, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, p := range base {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, p := range extra {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func keysOf(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
