package fs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// searchExcludes are version-control and dependency directories never descended into.
func searchExcludes() map[string]struct{} {
	names := []string{
		".git",
		".hg",
		".svn",
		"node_modules",
		".pnpm-store",
		"vendor",
		".venv",
		"venv",
		"__pycache__",
		".cache",
	}
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

var errStopWalk = errors.New("stop walk")

// searchByBase walks the root in lexical order and returns the first regular file named base.
func (s *Store) searchByBase(ctx context.Context, base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == "/" {
		return "", nil
	}
	root := s.res.Root()
	excludes := searchExcludes()

	found := ""
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped.
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p == root {
				return nil
			}
			if _, skip := excludes[d.Name()]; skip {
				return fs.SkipDir
			}
			if depthUnder(root, p) > s.searchDepth {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || d.Name() != base {
			return nil
		}
		rel, rerr := s.res.Rel(p)
		if rerr != nil {
			return nil
		}
		found = rel
		return errStopWalk
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return "", err
	}
	return found, nil
}

// FindGitDirs returns workspace-relative directories (up to maxDepth levels deep) that contain
// a .git entry. Nested repositories under a match are not reported.
func (s *Store) FindGitDirs(ctx context.Context, maxDepth int) ([]string, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	if maxDepth <= 0 {
		maxDepth = 3
	}
	root := s.res.Root()
	excludes := searchExcludes()

	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.IsDir() || p == root {
			return nil
		}
		if _, skip := excludes[d.Name()]; skip {
			return fs.SkipDir
		}
		if depthUnder(root, p) > maxDepth {
			return fs.SkipDir
		}
		if _, serr := os.Lstat(filepath.Join(p, ".git")); serr == nil {
			if rel, rerr := s.res.Rel(p); rerr == nil && rel != "" {
				out = append(out, rel)
			}
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func depthUnder(root string, p string) int {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(filepath.ToSlash(rel), "/") + 1
}
