package fs

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a path canonicalizes outside the workspace root.
var ErrPathEscape = errors.New("path escapes workspace root")

// Resolver confines paths to one workspace root.
type Resolver struct {
	root string
}

// NewResolver canonicalizes root (absolute, cleaned, symlinks evaluated when it exists).
func NewResolver(root string) (*Resolver, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("missing workspace root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs = filepath.Clean(abs)
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return &Resolver{root: abs}, nil
}

func (r *Resolver) Root() string {
	if r == nil {
		return ""
	}
	return r.root
}

// Clean normalizes a workspace-relative path to its POSIX form ("" for the root).
// A leading "/" means the workspace root, not the host root.
func Clean(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// Resolve maps a workspace-relative path to an absolute host path under the root.
func (r *Resolver) Resolve(rel string) (string, error) {
	if r == nil || r.root == "" {
		return "", errors.New("resolver not initialized")
	}
	rel = Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrPathEscape
	}

	abs := filepath.Join(r.root, filepath.FromSlash(rel))
	ok, err := isWithinRoot(abs, r.root)
	if err != nil || !ok {
		return "", ErrPathEscape
	}

	// Symlinks inside the workspace must not lead out of it.
	real, err := evalExisting(abs)
	if err != nil {
		return "", err
	}
	ok, err = isWithinRoot(real, r.root)
	if err != nil || !ok {
		return "", ErrPathEscape
	}
	return abs, nil
}

// Rel maps an absolute path under the root back to its workspace-relative POSIX form.
func (r *Resolver) Rel(abs string) (string, error) {
	if r == nil || r.root == "" {
		return "", errors.New("resolver not initialized")
	}
	ok, err := isWithinRoot(abs, r.root)
	if err != nil || !ok {
		return "", ErrPathEscape
	}
	rel, err := filepath.Rel(r.root, filepath.Clean(abs))
	if err != nil {
		return "", err
	}
	return Clean(filepath.ToSlash(rel)), nil
}

func isWithinRoot(p string, root string) (bool, error) {
	p = filepath.Clean(p)
	root = filepath.Clean(root)
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false, err
	}
	rel = filepath.Clean(rel)
	if rel == "." {
		return true, nil
	}
	if rel == ".." {
		return false, nil
	}
	if strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false, nil
	}
	return true, nil
}

// evalExisting resolves symlinks along the longest existing prefix of p.
func evalExisting(p string) (string, error) {
	p = filepath.Clean(p)
	rest := ""
	cur := p
	for {
		if _, err := os.Lstat(cur); err == nil {
			real, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
			if rest == "" {
				return real, nil
			}
			return filepath.Join(real, rest), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		if rest == "" {
			rest = filepath.Base(cur)
		} else {
			rest = filepath.Join(filepath.Base(cur), rest)
		}
		cur = parent
	}
}
