package fs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// ErrInvalidWorkspace is returned for workspace ids that cannot name a directory.
var ErrInvalidWorkspace = errors.New("invalid workspace id")

var workspaceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,127}$`)

type WorkspacesOptions struct {
	Logger *slog.Logger
	// Base holds one directory per workspace.
	Base        string
	Tracker     Tracker
	SearchDepth int
}

// Workspaces hands out one Store per workspace, rooted at Base/<workspace id>.
type Workspaces struct {
	opts WorkspacesOptions

	mu     sync.Mutex
	stores map[string]*Store
}

func NewWorkspaces(opts WorkspacesOptions) (*Workspaces, error) {
	base := strings.TrimSpace(opts.Base)
	if base == "" {
		return nil, errors.New("missing workspace base directory")
	}
	if opts.Tracker == nil {
		return nil, errors.New("missing Tracker")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	opts.Base = abs
	return &Workspaces{opts: opts, stores: make(map[string]*Store)}, nil
}

// For returns the Store of workspaceID, creating its root directory on first use.
func (w *Workspaces) For(workspaceID string) (*Store, error) {
	if w == nil {
		return nil, errors.New("workspaces not initialized")
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if !workspaceIDPattern.MatchString(workspaceID) || strings.Contains(workspaceID, "..") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWorkspace, workspaceID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.stores[workspaceID]; ok {
		return s, nil
	}
	root := filepath.Join(w.opts.Base, workspaceID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	res, err := NewResolver(root)
	if err != nil {
		return nil, err
	}
	s, err := NewStore(Options{Logger: w.opts.Logger, Resolver: res, Tracker: w.opts.Tracker, SearchDepth: w.opts.SearchDepth})
	if err != nil {
		return nil, err
	}
	w.stores[workspaceID] = s
	return s, nil
}
