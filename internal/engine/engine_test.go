package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sariproject/sari/internal/model"
)

func openTestEngine(t *testing.T, configHash string) *SQLiteEngine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(filepath.Join(dir, "engine-index"), configHash)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestStatusNotBuiltBeforeAnyUpsert(t *testing.T) {
	e := openTestEngine(t, "cfg-1")
	st := e.Status(context.Background())
	assert.False(t, st.Ready)
	assert.Equal(t, "NOT_BUILT", st.Reason)
}

func TestUpsertThenSearchFindsDocument(t *testing.T) {
	e := openTestEngine(t, "cfg-1")
	ctx := context.Background()
	id := rootID(t, 9)

	require.NoError(t, e.UpsertDocuments(ctx, []Document{{
		ID: id.Hex() + "/greeter.go", RootID: id, Repo: ".", Path: id.Hex() + "/greeter.go",
		RelPath: "greeter.go", PathText: "greeter go", BodyText: "func Greet(name string) string",
		Preview: "func Greet", Mtime: 100, Size: 42,
	}}))

	hits, meta, err := e.Search(ctx, "Greet", Limits{Max: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id.Hex()+"/greeter.go", hits[0].DocID)
	assert.Equal(t, "approx", meta.TotalMode)
}

func TestSearchRespectsRootFilter(t *testing.T) {
	e := openTestEngine(t, "cfg-1")
	ctx := context.Background()
	idA := rootID(t, 1)
	idB := rootID(t, 2)

	require.NoError(t, e.UpsertDocuments(ctx, []Document{
		{ID: "a", RootID: idA, Path: "a.go", BodyText: "widget factory"},
		{ID: "b", RootID: idB, Path: "b.go", BodyText: "widget factory"},
	}))

	hits, _, err := e.Search(ctx, "widget", Limits{Max: 10, RootID: &idA})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].DocID)
}

func TestDeleteDocumentsRemovesFromSearch(t *testing.T) {
	e := openTestEngine(t, "cfg-1")
	ctx := context.Background()
	id := rootID(t, 3)

	require.NoError(t, e.UpsertDocuments(ctx, []Document{
		{ID: "x", RootID: id, Path: "x.go", BodyText: "orphan cleanup routine"},
	}))
	require.NoError(t, e.DeleteDocuments(ctx, []string{"x"}))

	hits, _, err := e.Search(ctx, "orphan", Limits{Max: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStatusReadyAfterUpsertWithMatchingConfigHash(t *testing.T) {
	e := openTestEngine(t, "cfg-1")
	ctx := context.Background()
	id := rootID(t, 4)

	require.NoError(t, e.UpsertDocuments(ctx, []Document{
		{ID: "y", RootID: id, Path: "y.go", BodyText: "anything"},
	}))

	st := e.Status(ctx)
	assert.True(t, st.Ready)
	assert.Equal(t, EngineVersion, st.Version)
	assert.Equal(t, 1, st.DocCount)
}

func TestStatusNotReadyWhenConfigHashChanges(t *testing.T) {
	dir := t.TempDir()
	e1, err := Open(filepath.Join(dir, "engine-index"), "cfg-old")
	require.NoError(t, err)
	require.NoError(t, e1.UpsertDocuments(context.Background(), []Document{{ID: "z", Path: "z.go"}}))
	require.NoError(t, e1.Close())

	e2, err := Open(filepath.Join(dir, "engine-index"), "cfg-new")
	require.NoError(t, err)
	defer e2.Close()

	st := e2.Status(context.Background())
	assert.False(t, st.Ready)
	assert.Equal(t, "CONFIG_CHANGED", st.Reason)
}

func TestSearchEmptyQueryReturnsNoHits(t *testing.T) {
	e := openTestEngine(t, "cfg-1")
	hits, meta, err := e.Search(context.Background(), "   ", Limits{Max: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, "exact", meta.TotalMode)
}

func rootID(t *testing.T, b byte) model.RootID {
	t.Helper()
	var r model.RootID
	r[0] = b
	return r
}
