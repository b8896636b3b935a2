package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sariproject/sari/internal/model"
)

type fakeStore struct {
	files       map[string]model.File
	ftsPaths    []string
	ftsErr      error
	likePaths   []string
	regexFiles  []model.File
	symbols     map[string][]model.Symbol
	repoMeta    map[string]model.RepoMeta
	symbolNames []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		files:    map[string]model.File{},
		symbols:  map[string][]model.Symbol{},
		repoMeta: map[string]model.RepoMeta{},
	}
}

func (f *fakeStore) FTSMatch(ctx context.Context, matchExpr string, limit int) ([]string, error) {
	if f.ftsErr != nil {
		return nil, f.ftsErr
	}
	return f.ftsPaths, nil
}

func (f *fakeStore) LikeMatch(ctx context.Context, likePattern string, limit int) ([]string, error) {
	return f.likePaths, nil
}

func (f *fakeStore) RegexCandidates(ctx context.Context, limit int) ([]model.File, error) {
	return f.regexFiles, nil
}

func (f *fakeStore) GetFilesByPaths(ctx context.Context, paths []string) ([]model.File, error) {
	var out []model.File
	for _, p := range paths {
		if file, ok := f.files[p]; ok {
			out = append(out, file)
		}
	}
	return out, nil
}

func (f *fakeStore) ListSymbolsByName(ctx context.Context, nameLower string) ([]model.Symbol, error) {
	return f.symbols[nameLower], nil
}

func (f *fakeStore) GetRepoMeta(ctx context.Context, repoName string) (model.RepoMeta, bool) {
	m, ok := f.repoMeta[repoName]
	return m, ok
}

func (f *fakeStore) DistinctSymbolNames(ctx context.Context, limit int) ([]string, error) {
	return f.symbolNames, nil
}

func TestSearchFTSPathRanksByScore(t *testing.T) {
	store := newFakeStore()
	store.ftsPaths = []string{"a.go", "b.go"}
	store.files["a.go"] = model.File{Path: "a.go", RelPath: "greeter.go", Content: "func Greet() {}"}
	store.files["b.go"] = model.File{Path: "b.go", RelPath: "other/greeter_mock.go", Content: "func Greet() {}"}

	s := New(store, nil)
	res, err := s.Search(context.Background(), "greet", Options{Max: 10})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "a.go", res.Hits[0].Path)
}

func TestSearchShortQueryFallsBackToLike(t *testing.T) {
	store := newFakeStore()
	store.likePaths = []string{"a.go"}
	store.files["a.go"] = model.File{Path: "a.go", RelPath: "a.go", Content: "id"}

	s := New(store, nil)
	res, err := s.Search(context.Background(), "id", Options{Max: 10})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "a.go", res.Hits[0].Path)
}

func TestSearchFTSErrorFallsBackToLike(t *testing.T) {
	store := newFakeStore()
	store.ftsErr = assertErr{}
	store.likePaths = []string{"a.go"}
	store.files["a.go"] = model.File{Path: "a.go", RelPath: "a.go", Content: "widget factory"}

	s := New(store, nil)
	res, err := s.Search(context.Background(), "widget factory", Options{Max: 10})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "approx", res.Meta.TotalMode)
}

func TestSearchRegexPathFiltersByPattern(t *testing.T) {
	store := newFakeStore()
	store.regexFiles = []model.File{
		{Path: "a.go", RelPath: "a.go", Content: "func Greet() {}"},
		{Path: "b.go", RelPath: "b.go", Content: "func Farewell() {}"},
	}
	store.files["a.go"] = store.regexFiles[0]
	store.files["b.go"] = store.regexFiles[1]

	s := New(store, nil)
	res, err := s.Search(context.Background(), `Greet\(\)`, Options{Max: 10, UseRegex: true})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "a.go", res.Hits[0].Path)
	assert.Equal(t, "approx", res.Meta.TotalMode)
}

func TestSearchInvalidRegexReturnsRegexError(t *testing.T) {
	store := newFakeStore()
	s := New(store, nil)
	res, err := s.Search(context.Background(), `(unclosed`, Options{Max: 10, UseRegex: true})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.NotEmpty(t, res.Meta.RegexError)
}

func TestSearchHybridMergeIncludesSymbolDefiningFile(t *testing.T) {
	store := newFakeStore()
	// FTS/LIKE find nothing on their own; the symbol index does.
	store.files["def.go"] = model.File{Path: "def.go", RelPath: "def.go", Content: "func Widget() {}"}
	store.symbols["widget"] = []model.Symbol{{Path: "def.go", Name: "Widget"}}

	s := New(store, nil)
	res, err := s.Search(context.Background(), "widget", Options{Max: 10})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "def.go", res.Hits[0].Path)
	assert.True(t, res.Hits[0].SymbolHit)
}

func TestSearchEmptyQueryReturnsNoHits(t *testing.T) {
	store := newFakeStore()
	s := New(store, nil)
	res, err := s.Search(context.Background(), "   ", Options{Max: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Equal(t, "exact", res.Meta.TotalMode)
}

func TestSearchCapsHitsAtMax(t *testing.T) {
	store := newFakeStore()
	store.ftsPaths = []string{"a.go", "b.go", "c.go"}
	for _, p := range store.ftsPaths {
		store.files[p] = model.File{Path: p, RelPath: p, Content: "widget"}
	}

	s := New(store, nil)
	res, err := s.Search(context.Background(), "widget", Options{Max: 2})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 2)
}

func TestSearchFuzzySuggestOnlyWhenNoHits(t *testing.T) {
	store := newFakeStore()
	store.symbolNames = []string{"Greeter", "Farewell"}

	s := New(store, nil)
	res, err := s.Search(context.Background(), "greetr", Options{Max: 10, FuzzySuggest: true})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.NotEmpty(t, res.Meta.DidYouMean)
}

// assertErr is a trivial error used to exercise the FTS-failure fallback
// path without depending on a specific sentinel error type.
type assertErr struct{}

func (assertErr) Error() string { return "fts unavailable" }
