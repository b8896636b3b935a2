// Package mcptools implements the tool surface: one handler method per
// tool named in the external interface, each producing a pack1 typed
// response that the caller renders either as PACK1 text or as JSON.
package mcptools

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sariproject/sari/internal/engine"
	"github.com/sariproject/sari/internal/errs"
	"github.com/sariproject/sari/internal/model"
	"github.com/sariproject/sari/internal/pack1"
	"github.com/sariproject/sari/internal/readsvc"
	"github.com/sariproject/sari/internal/search"
)

// globMatch reports whether path matches glob, treating an invalid
// pattern as no match rather than an error — list_files filters are
// best-effort, never a hard failure.
func globMatch(glob, path string) bool {
	ok, err := doublestar.Match(glob, path)
	return err == nil && ok
}

// Store is the storage-layer surface mcptools needs beyond what
// search.Store and readsvc.Store already cover: repo/path listing and
// snippet CRUD.
type Store interface {
	ListPaths(ctx context.Context, repo string) ([]string, error)
	ListRepoMetas(ctx context.Context) ([]model.RepoMeta, error)
	SearchSymbolsByNameSubstring(ctx context.Context, substrLower string, limit int) ([]model.Symbol, error)
	CreateSnippet(ctx context.Context, s model.Snippet, now int64) (model.Snippet, error)
	ListSnippets(ctx context.Context, tag string) ([]model.Snippet, error)
	DeleteSnippet(ctx context.Context, id int64) (bool, error)
}

// Indexer is the ingestion-side surface the rescan/scan_once/index_file
// tools drive; the daemon wires a concrete implementation over the
// scanner/watcher/index-worker pipeline.
type Indexer interface {
	Rescan(ctx context.Context, root string) (queued int, err error)
	ScanOnce(ctx context.Context, root string) (filesScanned int, err error)
	IndexFile(ctx context.Context, path string) (indexed bool, err error)
}

// StatusSource is the health/metrics surface the status/doctor tools
// read; the daemon wires it to the scheduler's queue depths and the DB
// writer's commit clock.
type StatusSource interface {
	QueueDepths() (discovery, dbWriter int)
	LastCommitTS() int64
	DLQSize(ctx context.Context) int
	TopSlowFiles() []string
}

const (
	maxHits      = 20
	maxFiles     = 200
	maxSymbols   = 50
	guideVersion = "1"
)

// Toolset composes the already-built services into tool handlers; it
// holds no state of its own beyond what it was constructed with.
type Toolset struct {
	Searcher  *search.Searcher
	Reader    *readsvc.Service
	Store     Store
	Eng       engine.Engine
	Indexer   Indexer
	StatusSrc StatusSource
	Now       func() time.Time
}

// New builds a Toolset; eng/indexer/status may be nil where the caller
// has not wired that concern yet — handlers that need them return a
// typed INTERNAL error rather than panicking.
func New(searcher *search.Searcher, reader *readsvc.Service, store Store, eng engine.Engine, idx Indexer, status StatusSource) *Toolset {
	return &Toolset{Searcher: searcher, Reader: reader, Store: store, Eng: eng, Indexer: idx, StatusSrc: status, Now: time.Now}
}

func clamp(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// Search runs the search tool.
func (t *Toolset) Search(ctx context.Context, req pack1.SearchRequest) (pack1.SearchResponse, error) {
	opts := search.Options{
		Max:          clamp(req.Max, maxHits, maxHits),
		Offset:       req.Offset,
		SnippetLines: req.SnippetLines,
		UseRegex:     req.Regex,
		Repo:         req.Repo,
		FileExt:      req.FileExt,
		PathGlob:     req.PathGlob,
		ExcludeGlobs: req.ExcludeGlobs,
		StemFallback: true,
		FuzzySuggest: true,
	}
	result, err := t.Searcher.Search(ctx, req.Query, opts)
	if err != nil {
		return pack1.SearchResponse{}, err
	}
	hits := make([]pack1.SearchHit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, pack1.SearchHit{
			Path: h.Path, RelPath: h.RelPath, Repo: h.Repo, Score: h.Score, Snippet: h.Snippet,
		})
	}
	return pack1.SearchResponse{
		OK: true, Hits: hits, Returned: len(hits),
		Total: result.Meta.Total, TotalMode: result.Meta.TotalMode,
		RegexError: result.Meta.RegexError, DidYouMean: result.Meta.DidYouMean,
	}, nil
}

func symbolResult(s model.Symbol) pack1.SymbolResult {
	return pack1.SymbolResult{
		Name: s.Name, Kind: string(s.Kind), Path: s.Path,
		Line: s.Line, EndLine: s.EndLine, Parent: s.Parent, DeclLine: s.DeclLine,
	}
}

// SearchSymbols runs the search_symbols tool.
func (t *Toolset) SearchSymbols(ctx context.Context, req pack1.SearchSymbolsRequest) (pack1.SearchSymbolsResponse, error) {
	max := clamp(req.Max, maxSymbols, maxSymbols)
	syms, err := t.Store.SearchSymbolsByNameSubstring(ctx, strings.ToLower(req.Name), max)
	if err != nil {
		return pack1.SearchSymbolsResponse{}, errs.Wrap(errs.DBError, errs.ClassTransient, "symbol search failed", err)
	}
	results := make([]pack1.SymbolResult, 0, len(syms))
	for _, s := range syms {
		results = append(results, symbolResult(s))
	}
	return pack1.SearchSymbolsResponse{OK: true, Results: results, Returned: len(results)}, nil
}

// handlerNameHints is the vocabulary search_api_endpoints matches a
// symbol's name against, identifying route/handler registrations.
var handlerNameHints = []string{"handle", "handler", "route", "endpoint", "serve"}

// SearchAPIEndpoints runs the search_api_endpoints tool: a symbol search
// restricted to function/method symbols whose name looks like a
// route/handler registration. There is no dedicated "endpoint" concept
// in storage, so this is a naming-convention filter over the same
// symbol table search_symbols uses.
func (t *Toolset) SearchAPIEndpoints(ctx context.Context, req pack1.SearchAPIEndpointsRequest) (pack1.SearchAPIEndpointsResponse, error) {
	max := clamp(req.Max, maxSymbols, maxSymbols)
	pattern := strings.ToLower(req.Pattern)

	candidates := handlerNameHints
	if pattern != "" {
		candidates = []string{pattern}
	}

	seen := map[string]bool{}
	var results []pack1.SymbolResult
	for _, term := range candidates {
		syms, err := t.Store.SearchSymbolsByNameSubstring(ctx, term, max)
		if err != nil {
			return pack1.SearchAPIEndpointsResponse{}, errs.Wrap(errs.DBError, errs.ClassTransient, "endpoint search failed", err)
		}
		for _, s := range syms {
			if s.Kind != model.KindFunction && s.Kind != model.KindMethod {
				continue
			}
			key := s.Path + ":" + s.Name + ":" + strconv.Itoa(s.Line)
			if seen[key] {
				continue
			}
			seen[key] = true
			results = append(results, symbolResult(s))
			if len(results) >= max {
				break
			}
		}
		if len(results) >= max {
			break
		}
	}
	return pack1.SearchAPIEndpointsResponse{OK: true, Results: results, Returned: len(results)}, nil
}

// ListFiles runs the list_files tool.
func (t *Toolset) ListFiles(ctx context.Context, req pack1.ListFilesRequest) (pack1.ListFilesResponse, error) {
	paths, err := t.Store.ListPaths(ctx, req.Repo)
	if err != nil {
		return pack1.ListFilesResponse{}, errs.Wrap(errs.DBError, errs.ClassTransient, "list_files failed", err)
	}
	filtered := make([]string, 0, len(paths))
	for _, p := range paths {
		if req.PathGlob != "" && !globMatch(req.PathGlob, p) {
			continue
		}
		excluded := false
		for _, g := range req.ExcludeGlobs {
			if globMatch(g, p) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		filtered = append(filtered, p)
	}

	total := len(filtered)
	offset := req.Offset
	if offset > len(filtered) {
		offset = len(filtered)
	}
	filtered = filtered[offset:]

	max := clamp(req.Max, maxFiles, maxFiles)
	if len(filtered) > max {
		filtered = filtered[:max]
	}
	return pack1.ListFilesResponse{
		OK: true, Paths: filtered, Returned: len(filtered), Total: total, TotalMode: "exact",
	}, nil
}

// ReadFile runs the read_file tool.
func (t *Toolset) ReadFile(ctx context.Context, req pack1.ReadFileRequest) (pack1.ReadFileResponse, error) {
	f, err := t.Reader.ReadFile(ctx, req.Key)
	if err != nil {
		return pack1.ReadFileResponse{}, err
	}
	return pack1.ReadFileResponse{
		OK: true, Path: f.Path, Content: f.Content, ContentBytes: f.ContentBytes, Mtime: f.Mtime,
	}, nil
}

// ReadSymbol runs the read_symbol tool.
func (t *Toolset) ReadSymbol(ctx context.Context, req pack1.ReadSymbolRequest) (pack1.ReadSymbolResponse, error) {
	block, err := t.Reader.ReadSymbol(ctx, req.Key, req.Name)
	if err != nil {
		return pack1.ReadSymbolResponse{}, err
	}
	return pack1.ReadSymbolResponse{
		OK: true, Name: req.Name, Kind: string(block.Symbol.Kind), Path: req.Key,
		StartLine: block.StartLine, EndLine: block.EndLine, Content: strings.Join(block.Lines, "\n"),
	}, nil
}

func relationResult(r model.Relation) pack1.RelationResult {
	return pack1.RelationResult{
		FromSymbol: r.FromSymbol, FromPath: r.FromPath, ToSymbol: r.ToSymbol,
		RelType: string(r.RelType), Line: r.Line,
	}
}

// GetCallers runs the get_callers tool.
func (t *Toolset) GetCallers(ctx context.Context, req pack1.GetCallersRequest) (pack1.GetCallersResponse, error) {
	rels, err := t.Reader.GetCallers(ctx, req.Name)
	if err != nil {
		return pack1.GetCallersResponse{}, err
	}
	out := make([]pack1.RelationResult, 0, len(rels))
	for _, r := range rels {
		out = append(out, relationResult(r))
	}
	return pack1.GetCallersResponse{OK: true, Results: out, Returned: len(out)}, nil
}

// GetImplementations runs the get_implementations tool.
func (t *Toolset) GetImplementations(ctx context.Context, req pack1.GetImplementationsRequest) (pack1.GetImplementationsResponse, error) {
	rels, err := t.Reader.GetImplementations(ctx, req.Name)
	if err != nil {
		return pack1.GetImplementationsResponse{}, err
	}
	out := make([]pack1.RelationResult, 0, len(rels))
	for _, r := range rels {
		out = append(out, relationResult(r))
	}
	return pack1.GetImplementationsResponse{OK: true, Results: out, Returned: len(out)}, nil
}

// CallGraph runs the call_graph tool.
func (t *Toolset) CallGraph(ctx context.Context, req pack1.CallGraphRequest) (pack1.CallGraphResponse, error) {
	result, err := t.Reader.CallGraph(ctx, req.Name, req.Depth)
	if err != nil {
		return pack1.CallGraphResponse{}, err
	}
	edges := make([]pack1.CallGraphEdge, 0, len(result.Edges))
	for _, e := range result.Edges {
		edges = append(edges, pack1.CallGraphEdge{From: e.From, To: e.To, Path: e.Path, Line: e.Line})
	}
	return pack1.CallGraphResponse{
		OK: true, Root: req.Name, Nodes: result.Nodes, Edges: edges, Truncated: result.Truncated,
	}, nil
}

// RepoCandidates runs the repo_candidates tool.
func (t *Toolset) RepoCandidates(ctx context.Context, _ pack1.RepoCandidatesRequest) (pack1.RepoCandidatesResponse, error) {
	metas, err := t.Store.ListRepoMetas(ctx)
	if err != nil {
		return pack1.RepoCandidatesResponse{}, errs.Wrap(errs.DBError, errs.ClassTransient, "repo_candidates failed", err)
	}
	out := make([]pack1.RepoCandidate, 0, len(metas))
	for _, m := range metas {
		out = append(out, pack1.RepoCandidate{
			RepoName: m.RepoName, Domain: m.Domain, Description: m.Description, Tags: m.Tags, Priority: m.Priority,
		})
	}
	return pack1.RepoCandidatesResponse{OK: true, Candidates: out}, nil
}

// Status runs the status tool.
func (t *Toolset) Status(ctx context.Context, _ pack1.StatusRequest) (pack1.StatusResponse, error) {
	if t.StatusSrc == nil {
		return pack1.StatusResponse{}, errs.New(errs.Internal, errs.ClassCatastrophic, "status source not wired")
	}
	discovery, dbWriter := t.StatusSrc.QueueDepths()
	resp := pack1.StatusResponse{
		OK: true, QueueDiscovery: discovery, QueueDBWriter: dbWriter,
		LastCommitTS: t.StatusSrc.LastCommitTS(), DLQSize: t.StatusSrc.DLQSize(ctx),
		TopSlowFiles: t.StatusSrc.TopSlowFiles(),
	}
	if t.Eng != nil {
		st := t.Eng.Status(ctx)
		resp.EngineReady = st.Ready
		resp.EngineReason = st.Reason
	}
	return resp, nil
}

// Doctor runs the doctor tool: status plus a short list of named,
// never-mutating checks.
func (t *Toolset) Doctor(ctx context.Context, req pack1.StatusRequest) (pack1.DoctorResponse, error) {
	status, err := t.Status(ctx, req)
	if err != nil {
		return pack1.DoctorResponse{}, err
	}
	checks := []pack1.DoctorCheck{
		{Name: "db_writer_queue", OK: status.QueueDBWriter < 10000, Detail: "queue depth under backpressure threshold"},
		{Name: "engine_reachable", OK: t.Eng == nil || status.EngineReady, Detail: status.EngineReason},
	}
	return pack1.DoctorResponse{StatusResponse: status, Checks: checks}, nil
}

// Rescan runs the rescan tool.
func (t *Toolset) Rescan(ctx context.Context, req pack1.RescanRequest) (pack1.RescanResponse, error) {
	if t.Indexer == nil {
		return pack1.RescanResponse{}, errs.New(errs.Internal, errs.ClassCatastrophic, "indexer not wired")
	}
	queued, err := t.Indexer.Rescan(ctx, req.Root)
	if err != nil {
		return pack1.RescanResponse{}, err
	}
	return pack1.RescanResponse{OK: true, Queued: queued}, nil
}

// ScanOnce runs the scan_once tool.
func (t *Toolset) ScanOnce(ctx context.Context, req pack1.ScanOnceRequest) (pack1.ScanOnceResponse, error) {
	if t.Indexer == nil {
		return pack1.ScanOnceResponse{}, errs.New(errs.Internal, errs.ClassCatastrophic, "indexer not wired")
	}
	n, err := t.Indexer.ScanOnce(ctx, req.Root)
	if err != nil {
		return pack1.ScanOnceResponse{}, err
	}
	return pack1.ScanOnceResponse{OK: true, FilesScanned: n}, nil
}

// IndexFile runs the index_file tool.
func (t *Toolset) IndexFile(ctx context.Context, req pack1.IndexFileRequest) (pack1.IndexFileResponse, error) {
	if t.Indexer == nil {
		return pack1.IndexFileResponse{}, errs.New(errs.Internal, errs.ClassCatastrophic, "indexer not wired")
	}
	indexed, err := t.Indexer.IndexFile(ctx, req.Path)
	if err != nil {
		return pack1.IndexFileResponse{}, err
	}
	return pack1.IndexFileResponse{OK: true, Indexed: indexed}, nil
}

func toPack1Snippet(s model.Snippet) pack1.Snippet {
	return pack1.Snippet{
		ID: s.ID, Tag: s.Tag, Path: s.Path, StartLine: s.StartLine, EndLine: s.EndLine,
		Content: s.Content, CreatedTS: s.CreatedTS, UpdatedTS: s.UpdatedTS,
	}
}

// SnippetCreate runs the snippet-create tool.
func (t *Toolset) SnippetCreate(ctx context.Context, req pack1.SnippetCreateRequest) (pack1.SnippetResponse, error) {
	if req.Tag == "" || req.Path == "" {
		return pack1.SnippetResponse{}, errs.New(errs.InvalidArgs, errs.ClassInput, "tag and path are required")
	}
	s := model.Snippet{Tag: req.Tag, Path: req.Path, StartLine: req.StartLine, EndLine: req.EndLine}
	created, err := t.Store.CreateSnippet(ctx, s, t.Now().Unix())
	if err != nil {
		return pack1.SnippetResponse{}, errs.Wrap(errs.DBError, errs.ClassTransient, "snippet create failed", err)
	}
	return pack1.SnippetResponse{OK: true, Snippet: toPack1Snippet(created)}, nil
}

// SnippetList runs the snippet-list tool.
func (t *Toolset) SnippetList(ctx context.Context, req pack1.SnippetListRequest) (pack1.SnippetListResponse, error) {
	snips, err := t.Store.ListSnippets(ctx, req.Tag)
	if err != nil {
		return pack1.SnippetListResponse{}, errs.Wrap(errs.DBError, errs.ClassTransient, "snippet list failed", err)
	}
	out := make([]pack1.Snippet, 0, len(snips))
	for _, s := range snips {
		out = append(out, toPack1Snippet(s))
	}
	return pack1.SnippetListResponse{OK: true, Snippets: out, Returned: len(out)}, nil
}

// SnippetDelete runs the snippet-delete tool.
func (t *Toolset) SnippetDelete(ctx context.Context, req pack1.SnippetDeleteRequest) (pack1.SnippetDeleteResponse, error) {
	deleted, err := t.Store.DeleteSnippet(ctx, req.ID)
	if err != nil {
		return pack1.SnippetDeleteResponse{}, errs.Wrap(errs.DBError, errs.ClassTransient, "snippet delete failed", err)
	}
	return pack1.SnippetDeleteResponse{OK: true, Deleted: deleted}, nil
}

// toolOrdering is the search-first discipline the sari_guide tool
// documents: narrow with search before spending a read/graph call.
var toolOrdering = []string{
	"search", "search_symbols", "search_api_endpoints", "list_files",
	"read_file", "read_symbol", "get_callers", "get_implementations", "call_graph",
	"repo_candidates", "status",
}

// Guide runs the sari_guide/help tool.
func (t *Toolset) Guide(context.Context) (pack1.GuideResponse, error) {
	return pack1.GuideResponse{
		OK: true, Version: guideVersion, Ordering: toolOrdering,
		Notes: []string{
			"Call search first; it ranks hits and suggests did-you-mean before you spend a read_file/read_symbol call.",
			"call_graph depth is clamped to [1,6] and truncates at 200 nodes; re-issue with a narrower root symbol rather than a deeper depth.",
		},
	}, nil
}
