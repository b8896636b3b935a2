// Package pathutil implements the Path/Workspace Resolver (C1): path
// normalization, stable root-id derivation, multi-source root resolution,
// and containment checks.
package pathutil

import (
	"crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/sariproject/sari/internal/model"
)

// caseInsensitiveFS reports whether the host filesystem is conventionally
// case-insensitive. Only used to decide whether normalization lowercases.
func caseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// Normalize expands ~, cleans the path, optionally resolves symlinks and
// lowercases it on case-insensitive hosts, and strips any trailing
// separator.
func Normalize(path string, followSymlinks bool) (string, error) {
	if path == "" {
		return "", os_ErrEmptyPath
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			if path == "~" {
				path = home
			} else if strings.HasPrefix(path, "~/") {
				path = filepath.Join(home, path[2:])
			}
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	if followSymlinks {
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
	}

	abs = strings.TrimRight(abs, string(filepath.Separator))
	if abs == "" {
		abs = string(filepath.Separator)
	}

	if caseInsensitiveFS() {
		abs = strings.ToLower(abs)
	}
	return abs, nil
}

var os_ErrEmptyPath = &emptyPathError{}

type emptyPathError struct{}

func (*emptyPathError) Error() string { return "pathutil: empty path" }

// RootID derives the stable 8-byte identifier for a normalized root path:
// the first 8 bytes of sha256(normalizedPath). Stability across restarts
// follows directly from Normalize being a pure function of the path.
func RootID(normalizedPath string) model.RootID {
	sum := sha256.Sum256([]byte(normalizedPath))
	var id model.RootID
	copy(id[:], sum[:8])
	return id
}

// ResolveOptions controls ResolveWorkspaceRoots behavior.
type ResolveOptions struct {
	FollowSymlinks  bool
	KeepNestedRoots bool
}

// ResolvedRoot pairs a normalized path with its derived id and the label
// (basename) used for display.
type ResolvedRoot struct {
	ID    model.RootID
	Path  string
	Label string
}

// ResolveWorkspaceRoots merges root candidates, in first-seen-wins
// order, from: explicit arguments, ROOTS_JSON, numbered ROOT_<N>, and
// WORKSPACE_ROOT.
func ResolveWorkspaceRoots(explicit []string, opts ResolveOptions) ([]ResolvedRoot, error) {
	var candidates []string
	candidates = append(candidates, explicit...)

	if raw := os.Getenv("ROOTS_JSON"); raw != "" {
		var fromJSON []string
		if err := json.Unmarshal([]byte(raw), &fromJSON); err == nil {
			candidates = append(candidates, fromJSON...)
		}
	}

	for i := 0; ; i++ {
		v := os.Getenv("ROOT_" + strconv.Itoa(i))
		if v == "" {
			break
		}
		candidates = append(candidates, v)
	}

	if v := os.Getenv("WORKSPACE_ROOT"); v != "" {
		candidates = append(candidates, v)
	}

	seen := make(map[string]bool)
	var normalized []string
	for _, c := range candidates {
		n, err := Normalize(c, opts.FollowSymlinks)
		if err != nil {
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		normalized = append(normalized, n)
	}

	if !opts.KeepNestedRoots {
		normalized = dropNested(normalized)
	}

	out := make([]ResolvedRoot, 0, len(normalized))
	for _, p := range normalized {
		out = append(out, ResolvedRoot{
			ID:    RootID(p),
			Path:  p,
			Label: filepath.Base(p),
		})
	}
	return out, nil
}

// dropNested removes any path that is equal to, or nested under, an
// already-accepted path, preserving first-seen order.
func dropNested(paths []string) []string {
	// Sort a copy by length so shorter (ancestor) paths are considered
	// first, but preserve the caller's first-seen order in the output.
	order := make(map[string]int, len(paths))
	for i, p := range paths {
		order[p] = i
	}
	byLen := append([]string(nil), paths...)
	sort.SliceStable(byLen, func(i, j int) bool {
		return len(byLen[i]) < len(byLen[j])
	})

	var accepted []string
	for _, p := range byLen {
		nested := false
		for _, a := range accepted {
			if p == a || IsPathAllowed(p, []string{a}) {
				nested = true
				break
			}
		}
		if !nested {
			accepted = append(accepted, p)
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return order[accepted[i]] < order[accepted[j]]
	})
	return accepted
}

// IsPathAllowed reports whether path is equal to, or nested under, one of
// roots. All inputs are assumed already normalized.
func IsPathAllowed(path string, roots []string) bool {
	for _, r := range roots {
		if path == r {
			return true
		}
		if strings.HasPrefix(path, r+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ToRelative converts an absolute path to a root-relative, forward-slash
// path. Falls back to the absolute path if the conversion fails or the
// path lies outside root.
func ToRelative(absPath, root string) string {
	if absPath == "" || root == "" {
		return absPath
	}
	rel, err := filepath.Rel(root, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(absPath)
	}
	return filepath.ToSlash(rel)
}

// FileKey builds the canonical "<root-id>/<rel-path>" key used to
// address a file across the storage and search layers.
func FileKey(id model.RootID, relPath string) string {
	return id.Hex() + "/" + filepath.ToSlash(relPath)
}

// RepoLabel derives the "repo" attribute for a file: its top-level
// subdirectory name under the root, or model.RootLevelRepo for root-level
// files.
func RepoLabel(relPath string) string {
	relPath = filepath.ToSlash(relPath)
	relPath = strings.TrimPrefix(relPath, "/")
	idx := strings.IndexByte(relPath, '/')
	if idx < 0 {
		return model.RootLevelRepo
	}
	return relPath[:idx]
}
