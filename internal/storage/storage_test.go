package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sariproject/sari/internal/manifest"
	"github.com/sariproject/sari/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func rootID(b byte) model.RootID {
	var r model.RootID
	r[0] = b
	return r
}

func TestApplyBatchUpsertsFileSymbolsAndRelations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := rootID(1)

	b := Batch{
		Files: []FileWrite{{
			File: model.File{
				Path: id.Hex() + "/a.go", RelPath: "a.go", RootID: id, Repo: model.RootLevelRepo,
				Mtime: 100, Size: 42, Content: "package main", LastSeen: 1000,
			},
			Symbols: []model.Symbol{{
				SymbolID: 7, Path: id.Hex() + "/a.go", RootID: id, Name: "Greet",
				NameLower: "greet", Kind: model.KindFunction, Line: 3, EndLine: 5,
			}},
			Relations: []model.Relation{{
				FromPath: id.Hex() + "/a.go", FromRootID: id, FromSymbol: "Greet",
				FromSymbolID: 7, ToSymbol: "println", RelType: model.RelationCalls, Line: 4,
			}},
		}},
	}
	require.NoError(t, db.ApplyBatch(ctx, b))

	f, ok := db.GetFile(ctx, id.Hex()+"/a.go")
	require.True(t, ok)
	assert.Equal(t, int64(42), f.Size)
	assert.Equal(t, id, f.RootID)

	syms, err := db.ListSymbolsByPath(ctx, id.Hex()+"/a.go")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "Greet", syms[0].Name)

	rels, err := db.ListRelationsFrom(ctx, "Greet")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "println", rels[0].ToSymbol)
}

func TestApplyBatchDeletePathRemovesFileAndSymbols(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := rootID(2)
	path := id.Hex() + "/b.go"

	require.NoError(t, db.ApplyBatch(ctx, Batch{Files: []FileWrite{{
		File:    model.File{Path: path, RelPath: "b.go", RootID: id, Repo: model.RootLevelRepo},
		Symbols: []model.Symbol{{SymbolID: 1, Path: path, RootID: id, Name: "X", Kind: model.KindFunction}},
	}}}))

	require.NoError(t, db.ApplyBatch(ctx, Batch{DeletePaths: []string{path}}))

	_, ok := db.GetFile(ctx, path)
	assert.False(t, ok)
	syms, err := db.ListSymbolsByPath(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, syms)
}

func TestApplyBatchRefreshOnlyTouchesOnlyLastSeen(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := rootID(3)
	path := id.Hex() + "/c.go"

	require.NoError(t, db.ApplyBatch(ctx, Batch{Files: []FileWrite{{
		File: model.File{Path: path, RelPath: "c.go", RootID: id, Repo: model.RootLevelRepo,
			Content: "original", LastSeen: 1},
	}}}))

	require.NoError(t, db.ApplyBatch(ctx, Batch{Files: []FileWrite{{
		RefreshOnly: true,
		File:        model.File{Path: path, LastSeen: 2000},
	}}}))

	f, ok := db.GetFile(ctx, path)
	require.True(t, ok)
	assert.Equal(t, "original", f.Content, "refresh-only must not touch content")
	assert.EqualValues(t, 2000, f.LastSeen)
}

func TestApplyBatchMergesRepoMeta(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.ApplyBatch(ctx, Batch{RepoMeta: []RepoMetaUpdate{{
		RepoName: "web",
		Update:   manifest.Update{Description: "first", Tags: []string{"search"}},
	}}}))
	require.NoError(t, db.ApplyBatch(ctx, Batch{RepoMeta: []RepoMetaUpdate{{
		RepoName: "web",
		Update:   manifest.Update{Description: "second", Tags: []string{"daemon"}},
	}}}))

	m, ok := db.GetRepoMeta(ctx, "web")
	require.True(t, ok)
	assert.Equal(t, "second", m.Description)
	assert.ElementsMatch(t, []string{"search", "daemon"}, m.Tags)
}

func TestMergeScanPrunesUnseenFiles(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := rootID(4)

	scanStart := time.Now().Unix()
	require.NoError(t, db.ApplyBatch(ctx, Batch{Files: []FileWrite{{
		File: model.File{Path: id.Hex() + "/stale.go", RelPath: "stale.go", RootID: id,
			Repo: model.RootLevelRepo, LastSeen: scanStart - 100},
	}}}))

	require.NoError(t, db.BeginScan(ctx, id, scanStart))
	require.NoError(t, db.StageFile(ctx, model.File{
		Path: id.Hex() + "/fresh.go", RelPath: "fresh.go", RootID: id,
		Repo: model.RootLevelRepo, LastSeen: scanStart + 1,
	}))

	pruned, err := db.MergeScan(ctx, id, scanStart)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	_, ok := db.GetFile(ctx, id.Hex()+"/stale.go")
	assert.False(t, ok)
	_, ok = db.GetFile(ctx, id.Hex()+"/fresh.go")
	assert.True(t, ok)
}

func TestWriterCommitsEnqueuedBatch(t *testing.T) {
	db := openTestDB(t)
	id := rootID(5)
	w := NewWriter(db, nil, WriterOptions{MaxBatchWait: 20 * time.Millisecond, BatchSize: 10})

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	path := id.Hex() + "/w.go"
	ok := w.Enqueue(WriteItem{File: &FileWrite{
		File: model.File{Path: path, RelPath: "w.go", RootID: id, Repo: model.RootLevelRepo},
	}})
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, found := db.GetFile(context.Background(), path)
		return found
	}, time.Second, 10*time.Millisecond)

	cancel()
	w.Stop(time.Second)
}

func TestWriterEnqueueRefusedAtHardCap(t *testing.T) {
	db := openTestDB(t)
	w := NewWriter(db, nil, WriterOptions{QueueHardCap: 1})
	// Fill the one slot without a running Run loop to drain it.
	assert.True(t, w.Enqueue(WriteItem{Delete: "x"}))
	assert.False(t, w.Enqueue(WriteItem{Delete: "y"}))
	assert.EqualValues(t, 1, w.DroppedFull())
}
