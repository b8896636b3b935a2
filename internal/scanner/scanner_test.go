package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWalkYieldsFilesAndExcludesDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main")
	writeFile(t, filepath.Join(root, "node_modules", "x.js"), "ignored")
	writeFile(t, filepath.Join(root, "pkg", "util.go"), "package pkg")

	s := New(Options{ExcludeDirs: []string{"node_modules"}})

	var rels []string
	err := s.Walk(root, func(e Entry) error {
		if !e.Excluded {
			rels = append(rels, e.RelPath)
		}
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main.go", "pkg/util.go"}, rels)
}

func TestWalkMarksOversizeFilesExcludedNotDropped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "big.txt"), "0123456789")

	s := New(Options{MaxFileBytes: 5})

	var saw Entry
	found := false
	err := s.Walk(root, func(e Entry) error {
		if e.RelPath == "big.txt" {
			saw = e
			found = true
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, saw.Excluded)
	assert.Equal(t, "too-large", saw.Reason)
}

func TestWalkRespectsIncludeExtension(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "x")
	writeFile(t, filepath.Join(root, "a.md"), "x")

	s := New(Options{IncludeExt: []string{".go"}})

	var included []string
	err := s.Walk(root, func(e Entry) error {
		if !e.Excluded {
			included = append(included, e.RelPath)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, included)
}

func TestWalkStopsEarlyOnYieldError(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "x")
	writeFile(t, filepath.Join(root, "b.go"), "x")

	boom := assertErr{}
	count := 0
	err := New(Options{}).Walk(root, func(e Entry) error {
		count++
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, count)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
