package readsvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sariproject/sari/internal/errs"
	"github.com/sariproject/sari/internal/model"
)

type fakeStore struct {
	files    map[string]model.File
	symbols  map[string][]model.Symbol // path -> symbols
	relsTo   map[string][]model.Relation
	relsFrom map[string][]model.Relation
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		files:    map[string]model.File{},
		symbols:  map[string][]model.Symbol{},
		relsTo:   map[string][]model.Relation{},
		relsFrom: map[string][]model.Relation{},
	}
}

func (f *fakeStore) GetFile(ctx context.Context, path string) (model.File, bool) {
	file, ok := f.files[path]
	return file, ok
}

func (f *fakeStore) ListSymbolsByPath(ctx context.Context, path string) ([]model.Symbol, error) {
	return f.symbols[path], nil
}

func (f *fakeStore) ListRelationsTo(ctx context.Context, name string) ([]model.Relation, error) {
	return f.relsTo[name], nil
}

func (f *fakeStore) ListRelationsFrom(ctx context.Context, name string) ([]model.Relation, error) {
	return f.relsFrom[name], nil
}

func TestReadFileReturnsStoredContent(t *testing.T) {
	store := newFakeStore()
	store.files["a.go"] = model.File{Path: "a.go", Content: "package a"}

	svc := New(store)
	f, err := svc.ReadFile(context.Background(), "a.go")
	require.NoError(t, err)
	assert.Equal(t, "package a", f.Content)
}

func TestReadFileMissingReturnsNotIndexed(t *testing.T) {
	svc := New(newFakeStore())
	_, err := svc.ReadFile(context.Background(), "missing.go")
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.NotIndexed))
}

func TestReadSymbolReturnsLineRange(t *testing.T) {
	store := newFakeStore()
	content := "package a\n\nfunc Greet() string {\n\treturn \"hi\"\n}\n"
	store.files["a.go"] = model.File{Path: "a.go", Content: content}
	store.symbols["a.go"] = []model.Symbol{
		{Path: "a.go", Name: "Greet", NameLower: "greet", Line: 3, EndLine: 5},
	}

	svc := New(store)
	block, err := svc.ReadSymbol(context.Background(), "a.go", "Greet")
	require.NoError(t, err)
	assert.Equal(t, 3, block.StartLine)
	assert.Equal(t, 5, block.EndLine)
	assert.Len(t, block.Lines, 3)
}

func TestReadSymbolLegacyZeroEndLineFallsBackToSpan(t *testing.T) {
	store := newFakeStore()
	content := ""
	for i := 0; i < 30; i++ {
		content += "line\n"
	}
	store.files["a.go"] = model.File{Path: "a.go", Content: content}
	store.symbols["a.go"] = []model.Symbol{
		{Path: "a.go", Name: "Old", NameLower: "old", Line: 5, EndLine: 0},
	}

	svc := New(store)
	block, err := svc.ReadSymbol(context.Background(), "a.go", "Old")
	require.NoError(t, err)
	assert.Equal(t, 5, block.StartLine)
	assert.Equal(t, 15, block.EndLine)
}

func TestReadSymbolAmbiguousPicksWidestSpan(t *testing.T) {
	store := newFakeStore()
	content := ""
	for i := 0; i < 30; i++ {
		content += "line\n"
	}
	store.files["a.go"] = model.File{Path: "a.go", Content: content}
	store.symbols["a.go"] = []model.Symbol{
		{Path: "a.go", Name: "Do", NameLower: "do", Line: 1, EndLine: 2},
		{Path: "a.go", Name: "Do", NameLower: "do", Line: 10, EndLine: 20},
	}

	svc := New(store)
	block, err := svc.ReadSymbol(context.Background(), "a.go", "Do")
	require.NoError(t, err)
	assert.Equal(t, 10, block.StartLine)
	assert.Equal(t, 20, block.EndLine)
}

func TestReadSymbolNotFoundReturnsTypedError(t *testing.T) {
	store := newFakeStore()
	store.files["a.go"] = model.File{Path: "a.go", Content: "package a\n"}

	svc := New(store)
	_, err := svc.ReadSymbol(context.Background(), "a.go", "Missing")
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.NotIndexed))
}

func TestGetCallersReturnsRelationsToName(t *testing.T) {
	store := newFakeStore()
	store.relsTo["Widget"] = []model.Relation{
		{FromSymbol: "Caller", ToSymbol: "Widget", RelType: model.RelationCalls},
	}

	svc := New(store)
	rels, err := svc.GetCallers(context.Background(), "Widget")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "Caller", rels[0].FromSymbol)
}

func TestGetImplementationsFiltersByRelType(t *testing.T) {
	store := newFakeStore()
	store.relsTo["Shape"] = []model.Relation{
		{FromSymbol: "Circle", ToSymbol: "Shape", RelType: model.RelationImplements},
		{FromSymbol: "Caller", ToSymbol: "Shape", RelType: model.RelationCalls},
	}

	svc := New(store)
	rels, err := svc.GetImplementations(context.Background(), "Shape")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "Circle", rels[0].FromSymbol)
}

func TestCallGraphTraversesBothDirections(t *testing.T) {
	store := newFakeStore()
	store.relsTo["B"] = []model.Relation{
		{FromSymbol: "A", ToSymbol: "B", RelType: model.RelationCalls},
	}
	store.relsFrom["B"] = []model.Relation{
		{FromSymbol: "B", ToSymbol: "C", RelType: model.RelationCalls},
	}

	svc := New(store)
	result, err := svc.CallGraph(context.Background(), "B", 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"B", "A", "C"}, result.Nodes)
	assert.False(t, result.Truncated)
}

func TestCallGraphDepthBoundsTraversal(t *testing.T) {
	store := newFakeStore()
	store.relsFrom["A"] = []model.Relation{{FromSymbol: "A", ToSymbol: "B", RelType: model.RelationCalls}}
	store.relsFrom["B"] = []model.Relation{{FromSymbol: "B", ToSymbol: "C", RelType: model.RelationCalls}}
	store.relsFrom["C"] = []model.Relation{{FromSymbol: "C", ToSymbol: "D", RelType: model.RelationCalls}}

	svc := New(store)
	result, err := svc.CallGraph(context.Background(), "A", 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, result.Nodes)
}

func TestCallGraphIgnoresNonCallsRelations(t *testing.T) {
	store := newFakeStore()
	store.relsFrom["A"] = []model.Relation{{FromSymbol: "A", ToSymbol: "B", RelType: model.RelationExtends}}

	svc := New(store)
	result, err := svc.CallGraph(context.Background(), "A", 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A"}, result.Nodes)
	assert.Empty(t, result.Edges)
}
