// Package readsvc implements the Read Services (C12): file-by-key reads,
// symbol-block reads, and the caller/implementation/call-graph queries
// tool callers run once search has narrowed down a candidate.
package readsvc

import (
	"context"
	"sort"
	"strings"

	"github.com/sariproject/sari/internal/errs"
	"github.com/sariproject/sari/internal/model"
)

const (
	// legacyEndLineSpan is the fallback span for a symbol row stored
	// before end_line was tracked.
	legacyEndLineSpan = 10

	defaultCallGraphDepth = 2
	maxCallGraphDepth     = 6
	maxCallGraphNodes     = 200
)

// Store is the read surface this package needs from the primary
// database.
type Store interface {
	GetFile(ctx context.Context, path string) (model.File, bool)
	ListSymbolsByPath(ctx context.Context, path string) ([]model.Symbol, error)
	ListRelationsTo(ctx context.Context, name string) ([]model.Relation, error)
	ListRelationsFrom(ctx context.Context, name string) ([]model.Relation, error)
}

// Service answers read queries against a Store.
type Service struct {
	store Store
}

// New builds a Service over store.
func New(store Store) *Service {
	return &Service{store: store}
}

// ReadFile returns the stored content for a file key (the path resolved
// upstream by the caller's workspace-scope lookup).
func (s *Service) ReadFile(ctx context.Context, key string) (model.File, error) {
	f, ok := s.store.GetFile(ctx, key)
	if !ok {
		return model.File{}, errs.New(errs.NotIndexed, errs.ClassInput, "file not found: "+key)
	}
	return f, nil
}

// SymbolBlock is the line range and content a read_symbol call returns.
type SymbolBlock struct {
	Symbol    model.Symbol
	StartLine int
	EndLine   int
	Lines     []string
}

// ReadSymbol resolves name within key's file (picking the best match by
// declaration heuristics when more than one symbol in the file shares the
// name) and returns its line range. A zero end_line (a legacy row) falls
// back to min(start_line+10, EOF).
func (s *Service) ReadSymbol(ctx context.Context, key, name string) (SymbolBlock, error) {
	f, ok := s.store.GetFile(ctx, key)
	if !ok {
		return SymbolBlock{}, errs.New(errs.NotIndexed, errs.ClassInput, "file not found: "+key)
	}

	syms, err := s.store.ListSymbolsByPath(ctx, key)
	if err != nil {
		return SymbolBlock{}, errs.Wrap(errs.DBError, errs.ClassTransient, "listing symbols", err)
	}

	sym, ok := bestSymbolMatch(syms, name)
	if !ok {
		return SymbolBlock{}, errs.New(errs.NotIndexed, errs.ClassInput, "symbol not found: "+name)
	}

	lines := strings.Split(f.Content, "\n")
	start := sym.Line
	end := sym.EndLine
	if end <= 0 {
		end = start + legacyEndLineSpan
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start < 1 {
		start = 1
	}
	if start > end {
		start = end
	}

	var block []string
	if start >= 1 && start <= len(lines) {
		block = lines[start-1 : end]
	}

	return SymbolBlock{Symbol: sym, StartLine: start, EndLine: end, Lines: block}, nil
}

// bestSymbolMatch picks the symbol in syms whose name equals name
// case-insensitively. When several declarations share the name (e.g. an
// overloaded method), the one with the widest [Line, EndLine] span wins —
// it is the most likely to be the canonical definition rather than a
// forward declaration or partial stub.
func bestSymbolMatch(syms []model.Symbol, name string) (model.Symbol, bool) {
	lower := strings.ToLower(name)
	var candidates []model.Symbol
	for _, sym := range syms {
		if sym.NameLower == lower || strings.ToLower(sym.Name) == lower {
			candidates = append(candidates, sym)
		}
	}
	if len(candidates) == 0 {
		return model.Symbol{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		spanI := candidates[i].EndLine - candidates[i].Line
		spanJ := candidates[j].EndLine - candidates[j].Line
		return spanI > spanJ
	})
	return candidates[0], true
}

// GetCallers returns every relation whose to_symbol is name: the
// "who calls/references this" query.
func (s *Service) GetCallers(ctx context.Context, name string) ([]model.Relation, error) {
	rels, err := s.store.ListRelationsTo(ctx, name)
	if err != nil {
		return nil, errs.Wrap(errs.DBError, errs.ClassTransient, "listing callers", err)
	}
	return rels, nil
}

// GetImplementations narrows GetCallers to extends/implements edges: the
// "who extends/implements this" query.
func (s *Service) GetImplementations(ctx context.Context, name string) ([]model.Relation, error) {
	rels, err := s.store.ListRelationsTo(ctx, name)
	if err != nil {
		return nil, errs.Wrap(errs.DBError, errs.ClassTransient, "listing implementations", err)
	}
	out := rels[:0:0]
	for _, r := range rels {
		if r.RelType == model.RelationExtends || r.RelType == model.RelationImplements {
			out = append(out, r)
		}
	}
	return out, nil
}

// CallGraphEdge is one directed edge surfaced in a call-graph result.
type CallGraphEdge struct {
	From, To string
	Path     string
	Line     int
}

// CallGraphResult is the bounded BFS traversal result.
type CallGraphResult struct {
	Root      string
	Nodes     []string
	Edges     []CallGraphEdge
	Truncated bool // node cap was hit before the BFS frontier emptied
}

// CallGraph runs a bidirectional BFS over "calls" relations starting at
// name, bounded by depth (clamped to [1, 6], default 2) and a total node
// cap, so a hub symbol with thousands of callers can't blow up the
// response.
func (s *Service) CallGraph(ctx context.Context, name string, depth int) (CallGraphResult, error) {
	if depth <= 0 {
		depth = defaultCallGraphDepth
	}
	if depth > maxCallGraphDepth {
		depth = maxCallGraphDepth
	}

	visited := map[string]struct{}{name: {}}
	order := []string{name}
	var edges []CallGraphEdge
	truncated := false

	frontier := []string{name}
	for level := 0; level < depth && len(frontier) > 0 && !truncated; level++ {
		var next []string
		for _, sym := range frontier {
			// Callers: edges where to_symbol == sym, i.e. from_symbol calls sym.
			callers, err := s.store.ListRelationsTo(ctx, sym)
			if err != nil {
				return CallGraphResult{}, errs.Wrap(errs.DBError, errs.ClassTransient, "call graph traversal", err)
			}
			// Callees: edges where from_symbol == sym, i.e. sym calls to_symbol.
			callees, err := s.store.ListRelationsFrom(ctx, sym)
			if err != nil {
				return CallGraphResult{}, errs.Wrap(errs.DBError, errs.ClassTransient, "call graph traversal", err)
			}

			for _, r := range callers {
				if r.RelType != model.RelationCalls {
					continue
				}
				edges = append(edges, CallGraphEdge{From: r.FromSymbol, To: r.ToSymbol, Path: r.FromPath, Line: r.Line})
				if _, ok := visited[r.FromSymbol]; !ok {
					if len(order) >= maxCallGraphNodes {
						truncated = true
						break
					}
					visited[r.FromSymbol] = struct{}{}
					order = append(order, r.FromSymbol)
					next = append(next, r.FromSymbol)
				}
			}
			if truncated {
				break
			}
			for _, r := range callees {
				if r.RelType != model.RelationCalls {
					continue
				}
				edges = append(edges, CallGraphEdge{From: r.FromSymbol, To: r.ToSymbol, Path: r.FromPath, Line: r.Line})
				if _, ok := visited[r.ToSymbol]; !ok {
					if len(order) >= maxCallGraphNodes {
						truncated = true
						break
					}
					visited[r.ToSymbol] = struct{}{}
					order = append(order, r.ToSymbol)
					next = append(next, r.ToSymbol)
				}
			}
			if truncated {
				break
			}
		}
		frontier = next
	}

	return CallGraphResult{Root: name, Nodes: order, Edges: dedupeEdges(edges), Truncated: truncated}, nil
}

func dedupeEdges(edges []CallGraphEdge) []CallGraphEdge {
	seen := make(map[CallGraphEdge]struct{}, len(edges))
	out := edges[:0:0]
	for _, e := range edges {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
