package mcptools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sariproject/sari/internal/model"
	"github.com/sariproject/sari/internal/pack1"
	"github.com/sariproject/sari/internal/readsvc"
	"github.com/sariproject/sari/internal/search"
)

// fakeDataStore satisfies search.Store and readsvc.Store with the
// minimum needed per test, plus mcptools.Store.
type fakeDataStore struct {
	files         map[string]model.File
	symbolsByPath map[string][]model.Symbol
	symbolsByName map[string][]model.Symbol
	relsTo        map[string][]model.Relation
	relsFrom      map[string][]model.Relation
	repoMetas     []model.RepoMeta
	paths         []string
	snippets      []model.Snippet
	nextID        int64
}

func newFakeDataStore() *fakeDataStore {
	return &fakeDataStore{
		files:         map[string]model.File{},
		symbolsByPath: map[string][]model.Symbol{},
		symbolsByName: map[string][]model.Symbol{},
		relsTo:        map[string][]model.Relation{},
		relsFrom:      map[string][]model.Relation{},
	}
}

func (f *fakeDataStore) FTSMatch(ctx context.Context, matchExpr string, limit int) ([]string, error) {
	return nil, nil
}
func (f *fakeDataStore) LikeMatch(ctx context.Context, likePattern string, limit int) ([]string, error) {
	var out []string
	for p := range f.files {
		out = append(out, p)
	}
	return out, nil
}
func (f *fakeDataStore) RegexCandidates(ctx context.Context, limit int) ([]model.File, error) {
	return nil, nil
}
func (f *fakeDataStore) GetFilesByPaths(ctx context.Context, paths []string) ([]model.File, error) {
	var out []model.File
	for _, p := range paths {
		if file, ok := f.files[p]; ok {
			out = append(out, file)
		}
	}
	return out, nil
}
func (f *fakeDataStore) ListSymbolsByName(ctx context.Context, nameLower string) ([]model.Symbol, error) {
	return f.symbolsByName[nameLower], nil
}
func (f *fakeDataStore) GetRepoMeta(ctx context.Context, repoName string) (model.RepoMeta, bool) {
	for _, m := range f.repoMetas {
		if m.RepoName == repoName {
			return m, true
		}
	}
	return model.RepoMeta{}, false
}
func (f *fakeDataStore) DistinctSymbolNames(ctx context.Context, limit int) ([]string, error) {
	return nil, nil
}

func (f *fakeDataStore) GetFile(ctx context.Context, path string) (model.File, bool) {
	file, ok := f.files[path]
	return file, ok
}
func (f *fakeDataStore) ListSymbolsByPath(ctx context.Context, path string) ([]model.Symbol, error) {
	return f.symbolsByPath[path], nil
}
func (f *fakeDataStore) ListRelationsTo(ctx context.Context, name string) ([]model.Relation, error) {
	return f.relsTo[name], nil
}
func (f *fakeDataStore) ListRelationsFrom(ctx context.Context, name string) ([]model.Relation, error) {
	return f.relsFrom[name], nil
}

func (f *fakeDataStore) ListPaths(ctx context.Context, repo string) ([]string, error) {
	if repo == "" {
		return f.paths, nil
	}
	var out []string
	for _, p := range f.paths {
		if file, ok := f.files[p]; ok && file.Repo == repo {
			out = append(out, p)
		}
	}
	return out, nil
}
func (f *fakeDataStore) ListRepoMetas(ctx context.Context) ([]model.RepoMeta, error) {
	return f.repoMetas, nil
}
func (f *fakeDataStore) SearchSymbolsByNameSubstring(ctx context.Context, substrLower string, limit int) ([]model.Symbol, error) {
	var out []model.Symbol
	for _, syms := range f.symbolsByPath {
		for _, s := range syms {
			if containsFold(s.NameLower, substrLower) {
				out = append(out, s)
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
func (f *fakeDataStore) CreateSnippet(ctx context.Context, s model.Snippet, now int64) (model.Snippet, error) {
	f.nextID++
	s.ID = f.nextID
	s.CreatedTS, s.UpdatedTS = now, now
	f.snippets = append(f.snippets, s)
	return s, nil
}
func (f *fakeDataStore) ListSnippets(ctx context.Context, tag string) ([]model.Snippet, error) {
	if tag == "" {
		return f.snippets, nil
	}
	var out []model.Snippet
	for _, s := range f.snippets {
		if s.Tag == tag {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeDataStore) DeleteSnippet(ctx context.Context, id int64) (bool, error) {
	for i, s := range f.snippets {
		if s.ID == id {
			f.snippets = append(f.snippets[:i], f.snippets[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

type fakeStatus struct{}

func (fakeStatus) QueueDepths() (int, int)         { return 1, 2 }
func (fakeStatus) LastCommitTS() int64             { return 100 }
func (fakeStatus) DLQSize(ctx context.Context) int { return 0 }
func (fakeStatus) TopSlowFiles() []string          { return nil }

func newToolset(store *fakeDataStore) *Toolset {
	searcher := search.New(store, nil)
	reader := readsvc.New(store)
	return New(searcher, reader, store, nil, nil, fakeStatus{})
}

func TestSearchReturnsHits(t *testing.T) {
	store := newFakeDataStore()
	store.files["a.go"] = model.File{Path: "a.go", RelPath: "a.go", Content: "package a\nfunc Greet() {}\n"}
	store.paths = []string{"a.go"}

	ts := newToolset(store)
	resp, err := ts.Search(context.Background(), pack1.SearchRequest{Query: "greet"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestListFilesFiltersByGlob(t *testing.T) {
	store := newFakeDataStore()
	store.paths = []string{"a.go", "b.md", "sub/c.go"}
	store.files["a.go"] = model.File{Path: "a.go", Repo: "."}
	store.files["b.md"] = model.File{Path: "b.md", Repo: "."}
	store.files["sub/c.go"] = model.File{Path: "sub/c.go", Repo: "."}

	ts := newToolset(store)
	resp, err := ts.ListFiles(context.Background(), pack1.ListFilesRequest{PathGlob: "**/*.go"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.go", "sub/c.go"}, resp.Paths)
}

func TestReadFileReturnsContent(t *testing.T) {
	store := newFakeDataStore()
	store.files["a.go"] = model.File{Path: "a.go", Content: "package a"}

	ts := newToolset(store)
	resp, err := ts.ReadFile(context.Background(), pack1.ReadFileRequest{Key: "a.go"})
	require.NoError(t, err)
	assert.Equal(t, "package a", resp.Content)
}

func TestReadFileMissingReturnsError(t *testing.T) {
	store := newFakeDataStore()
	ts := newToolset(store)
	_, err := ts.ReadFile(context.Background(), pack1.ReadFileRequest{Key: "missing.go"})
	assert.Error(t, err)
}

func TestCallGraphDelegatesToReader(t *testing.T) {
	store := newFakeDataStore()
	store.relsFrom["A"] = []model.Relation{{FromSymbol: "A", ToSymbol: "B", RelType: model.RelationCalls}}

	ts := newToolset(store)
	resp, err := ts.CallGraph(context.Background(), pack1.CallGraphRequest{Name: "A", Depth: 1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, resp.Nodes)
}

func TestRepoCandidatesReturnsStoredMetas(t *testing.T) {
	store := newFakeDataStore()
	store.repoMetas = []model.RepoMeta{{RepoName: "core", Priority: 5}}

	ts := newToolset(store)
	resp, err := ts.RepoCandidates(context.Background(), pack1.RepoCandidatesRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "core", resp.Candidates[0].RepoName)
}

func TestStatusReportsQueueDepths(t *testing.T) {
	store := newFakeDataStore()
	ts := newToolset(store)
	resp, err := ts.Status(context.Background(), pack1.StatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.QueueDiscovery)
	assert.Equal(t, 2, resp.QueueDBWriter)
}

func TestRescanWithoutIndexerReturnsError(t *testing.T) {
	store := newFakeDataStore()
	ts := newToolset(store)
	_, err := ts.Rescan(context.Background(), pack1.RescanRequest{})
	assert.Error(t, err)
}

func TestSnippetCreateListDelete(t *testing.T) {
	store := newFakeDataStore()
	ts := newToolset(store)

	created, err := ts.SnippetCreate(context.Background(), pack1.SnippetCreateRequest{Tag: "x", Path: "a.go", StartLine: 1, EndLine: 2})
	require.NoError(t, err)
	assert.NotZero(t, created.Snippet.ID)

	listed, err := ts.SnippetList(context.Background(), pack1.SnippetListRequest{Tag: "x"})
	require.NoError(t, err)
	require.Len(t, listed.Snippets, 1)

	deleted, err := ts.SnippetDelete(context.Background(), pack1.SnippetDeleteRequest{ID: created.Snippet.ID})
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
}

func TestSnippetCreateRequiresTagAndPath(t *testing.T) {
	store := newFakeDataStore()
	ts := newToolset(store)
	_, err := ts.SnippetCreate(context.Background(), pack1.SnippetCreateRequest{})
	assert.Error(t, err)
}

func TestGuideListsSearchFirst(t *testing.T) {
	ts := newToolset(newFakeDataStore())
	resp, err := ts.Guide(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "search", resp.Ordering[0])
}
