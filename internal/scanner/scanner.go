// Package scanner implements the Filesystem Scanner (C2): a lazy,
// iterative traversal of one workspace root with include/exclude
// filtering, a symlink-cycle guard, and a byte-size cap.
package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Entry is one yielded (path, stat, excluded) triple. Excluded is
// returned rather than dropped so downstream can distinguish "deliberately
// skipped" from "not found".
type Entry struct {
	AbsPath  string
	RelPath  string // forward-slash, root-relative
	Info     fs.FileInfo
	Excluded bool
	Reason   string
}

// Options mirrors the scan's configurable filters.
type Options struct {
	MaxDepth       int
	MaxFileBytes   int64
	FollowSymlinks bool
	IncludeExt     []string // lowercase, with leading dot, e.g. ".go"
	IncludeGlobs   []string
	ExcludeDirs    []string // names or globs, basename or rel-path
	ExcludeGlobs   []string
	GitignoreMatch func(relPath string, isDir bool) bool // nil to disable
}

// Scanner walks one root and yields Entry values through a callback,
// iteratively (no recursion) so MaxDepth and symlink-cycle detection are
// simple bookkeeping rather than stack-based.
type Scanner struct {
	opts Options
}

func New(opts Options) *Scanner {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 30
	}
	return &Scanner{opts: opts}
}

type frame struct {
	path  string
	depth int
}

// Walk traverses root and invokes yield for every regular file found
// (directories are never yielded, only descended into). Returning a
// non-nil error from yield stops the walk early and the error is
// propagated.
func (s *Scanner) Walk(root string, yield func(Entry) error) error {
	visitedReal := make(map[string]bool)
	stack := []frame{{path: root, depth: 0}}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur.depth > s.opts.MaxDepth {
			continue
		}

		entries, err := os.ReadDir(cur.path)
		if err != nil {
			continue // permission/IO error on a directory: skip it, not fatal
		}

		for _, de := range entries {
			abs := filepath.Join(cur.path, de.Name())
			rel, relErr := filepath.Rel(root, abs)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			info, statErr := de.Info()
			isSymlink := de.Type()&os.ModeSymlink != 0

			if isSymlink {
				if !s.opts.FollowSymlinks {
					continue
				}
				real, err := filepath.EvalSymlinks(abs)
				if err != nil {
					continue
				}
				if visitedReal[real] {
					continue // cycle guard
				}
				visitedReal[real] = true
				ri, err := os.Stat(real)
				if err != nil {
					continue
				}
				info = ri
				abs = real
			}

			if statErr != nil && info == nil {
				continue
			}

			if de.IsDir() || (info != nil && info.IsDir()) {
				if s.isExcludedDir(de.Name(), rel) {
					continue
				}
				stack = append(stack, frame{path: abs, depth: cur.depth + 1})
				continue
			}

			excluded, reason := s.classify(de.Name(), rel, info)
			entry := Entry{AbsPath: abs, RelPath: rel, Info: info, Excluded: excluded, Reason: reason}
			if err := yield(entry); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scanner) isExcludedDir(name, rel string) bool {
	for _, d := range s.opts.ExcludeDirs {
		if d == name {
			return true
		}
		if ok, _ := doublestar.Match(d, name); ok {
			return true
		}
		if ok, _ := doublestar.Match(d, rel); ok {
			return true
		}
	}
	return false
}

func (s *Scanner) classify(name, rel string, info fs.FileInfo) (excluded bool, reason string) {
	if len(s.opts.IncludeExt) > 0 {
		ext := strings.ToLower(filepath.Ext(name))
		ok := false
		for _, want := range s.opts.IncludeExt {
			if strings.ToLower(want) == ext {
				ok = true
				break
			}
		}
		if !ok {
			return true, "extension-not-included"
		}
	}

	if len(s.opts.IncludeGlobs) > 0 {
		ok := false
		for _, g := range s.opts.IncludeGlobs {
			if matched, _ := doublestar.Match(g, name); matched {
				ok = true
				break
			}
			if matched, _ := doublestar.Match(g, rel); matched {
				ok = true
				break
			}
		}
		if !ok {
			return true, "glob-not-included"
		}
	}

	for _, g := range s.opts.ExcludeGlobs {
		if matched, _ := doublestar.Match(g, name); matched {
			return true, "excluded-glob"
		}
		if matched, _ := doublestar.Match(g, rel); matched {
			return true, "excluded-glob"
		}
	}

	if s.opts.GitignoreMatch != nil && s.opts.GitignoreMatch(rel, false) {
		return true, "gitignore"
	}

	if info != nil && s.opts.MaxFileBytes > 0 && info.Size() > s.opts.MaxFileBytes {
		return true, "too-large"
	}

	return false, ""
}
