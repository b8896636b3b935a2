package pathutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sariproject/sari/internal/model"
)

func TestRootIDStableAcrossCalls(t *testing.T) {
	p, err := Normalize("/tmp/workspace-a/", false)
	require.NoError(t, err)

	id1 := RootID(p)
	id2 := RootID(p)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1.Hex(), 16)
}

func TestRootIDDiffersForDifferentPaths(t *testing.T) {
	a, _ := Normalize("/tmp/a", false)
	b, _ := Normalize("/tmp/b", false)
	assert.NotEqual(t, RootID(a), RootID(b))
}

func TestResolveWorkspaceRootsFirstSeenWins(t *testing.T) {
	t.Setenv("ROOTS_JSON", "")
	t.Setenv("WORKSPACE_ROOT", "")
	for i := 0; i < 4; i++ {
		t.Setenv("ROOT_"+itoa(i), "")
	}

	roots, err := ResolveWorkspaceRoots([]string{"/tmp/proj", "/tmp/proj"}, ResolveOptions{})
	require.NoError(t, err)
	require.Len(t, roots, 1)
}

func TestResolveWorkspaceRootsDropsNested(t *testing.T) {
	roots, err := ResolveWorkspaceRoots([]string{"/tmp/proj", "/tmp/proj/sub"}, ResolveOptions{KeepNestedRoots: false})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, mustNormalize(t, "/tmp/proj"), roots[0].Path)
}

func TestResolveWorkspaceRootsKeepsNestedWhenRequested(t *testing.T) {
	roots, err := ResolveWorkspaceRoots([]string{"/tmp/proj", "/tmp/proj/sub"}, ResolveOptions{KeepNestedRoots: true})
	require.NoError(t, err)
	assert.Len(t, roots, 2)
}

func TestIsPathAllowed(t *testing.T) {
	root := mustNormalize(t, "/tmp/proj")
	assert.True(t, IsPathAllowed(root, []string{root}))
	assert.True(t, IsPathAllowed(filepath.Join(root, "a/b.go"), []string{root}))
	assert.False(t, IsPathAllowed(mustNormalize(t, "/tmp/other"), []string{root}))
}

func TestFileKeyAndRepoLabel(t *testing.T) {
	root := mustNormalize(t, "/tmp/proj")
	id := RootID(root)

	assert.Equal(t, id.Hex()+"/pkg/main.go", FileKey(id, "pkg/main.go"))
	assert.Equal(t, "pkg", RepoLabel("pkg/main.go"))
	assert.Equal(t, model.RootLevelRepo, RepoLabel("main.go"))
}

func mustNormalize(t *testing.T, p string) string {
	t.Helper()
	n, err := Normalize(p, false)
	require.NoError(t, err)
	return n
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := "0123456789"
	var b []byte
	for i > 0 {
		b = append([]byte{digits[i%10]}, b...)
		i /= 10
	}
	return string(b)
}
