package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/floegence/repopilot/internal/diff"
	"github.com/floegence/repopilot/internal/statestore"
)

var (
	// ErrNotFound is returned when neither the exact path nor a basename search finds the file.
	ErrNotFound = errors.New("file not found")
	// ErrConflict is matched by *ConflictError.
	ErrConflict = errors.New("file changed since it was last read")
)

// ConflictError reports a write whose expected hash no longer matches the stored one.
// The file on disk is left untouched.
type ConflictError struct {
	Path         string       `json:"path"`
	ExpectedHash string       `json:"expected_hash"`
	CurrentHash  string       `json:"current_hash"`
	Preview      diff.Preview `json:"preview"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict writing %s: expected hash %s, current %s", e.Path, shortHash(e.ExpectedHash), shortHash(e.CurrentHash))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Tracker persists TrackedFile records.
type Tracker interface {
	GetTrackedFile(ctx context.Context, workspaceID string, path string) (*statestore.TrackedFile, error)
	UpsertTrackedFile(ctx context.Context, f statestore.TrackedFile) error
	TouchTrackedFile(ctx context.Context, workspaceID string, path string) error
}

type Options struct {
	Logger   *slog.Logger
	Resolver *Resolver
	Tracker  Tracker
	// SearchDepth bounds the basename fallback search. <= 0 uses a default.
	SearchDepth int
}

// Store reads and writes workspace files, using content hashes as optimistic-concurrency tokens.
type Store struct {
	log         *slog.Logger
	res         *Resolver
	tracker     Tracker
	searchDepth int
}

const defaultSearchDepth = 8

func NewStore(opts Options) (*Store, error) {
	if opts.Resolver == nil {
		return nil, errors.New("missing Resolver")
	}
	if opts.Tracker == nil {
		return nil, errors.New("missing Tracker")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	depth := opts.SearchDepth
	if depth <= 0 {
		depth = defaultSearchDepth
	}
	return &Store{log: logger, res: opts.Resolver, tracker: opts.Tracker, searchDepth: depth}, nil
}

func (s *Store) Resolver() *Resolver {
	if s == nil {
		return nil
	}
	return s.res
}

// Hash returns the lowercase hex SHA-256 of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

const (
	KindFile = "file"
	KindDir  = "dir"
)

type Entry struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// List returns the entries of a directory, directories first, then by name.
func (s *Store) List(ctx context.Context, workspaceID string, rel string) ([]Entry, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	abs, err := s.res.Resolve(rel)
	if err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	dir := Clean(rel)
	out := make([]Entry, 0, len(ents))
	for _, e := range ents {
		kind := KindFile
		if e.IsDir() {
			kind = KindDir
		}
		out = append(out, Entry{Name: e.Name(), Kind: kind})
		if kind != KindFile {
			continue
		}
		if err := s.tracker.TouchTrackedFile(ctx, workspaceID, path.Join(dir, e.Name())); err != nil {
			s.log.Warn("track listed file failed", "workspace_id", workspaceID, "path", path.Join(dir, e.Name()), "error", err)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == KindDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

type ReadResult struct {
	Path          string `json:"path"`
	RequestedPath string `json:"requested_path"`
	Content       []byte `json:"-"`
	Hash          string `json:"hash"`
	// ResolvedViaSearch is set when the exact path was missing and Path was found by basename.
	ResolvedViaSearch bool `json:"resolved_via_search"`
}

// Read returns a file and records its hash. A missing exact path falls back to a
// bounded basename search; the result then carries ResolvedViaSearch.
func (s *Store) Read(ctx context.Context, workspaceID string, rel string) (ReadResult, error) {
	if s == nil {
		return ReadResult{}, errors.New("store not initialized")
	}
	requested := Clean(rel)
	if requested == "" {
		return ReadResult{}, errors.New("missing path")
	}
	abs, err := s.res.Resolve(requested)
	if err != nil {
		return ReadResult{}, err
	}

	out := ReadResult{Path: requested, RequestedPath: requested}
	b, err := readRegular(abs)
	if errors.Is(err, fs.ErrNotExist) {
		found, ferr := s.searchByBase(ctx, path.Base(requested))
		if ferr != nil {
			return ReadResult{}, ferr
		}
		if found == "" {
			return ReadResult{}, ErrNotFound
		}
		s.log.Info("read resolved via search", "workspace_id", workspaceID, "requested", requested, "found", found)
		out.Path = found
		out.ResolvedViaSearch = true
		abs, err = s.res.Resolve(found)
		if err != nil {
			return ReadResult{}, err
		}
		b, err = readRegular(abs)
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ReadResult{}, ErrNotFound
		}
		return ReadResult{}, err
	}

	out.Content = b
	out.Hash = Hash(b)
	prev, err := s.tracker.GetTrackedFile(ctx, workspaceID, out.Path)
	if err != nil {
		return ReadResult{}, err
	}
	rec := statestore.TrackedFile{WorkspaceID: workspaceID, Path: out.Path, Hash: out.Hash}
	if prev != nil {
		rec.Selected = prev.Selected
	}
	if err := s.tracker.UpsertTrackedFile(ctx, rec); err != nil {
		return ReadResult{}, err
	}
	return out, nil
}

type WriteResult struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// Write replaces a file's content. When the path has a recorded hash, expectedHash must match
// it, otherwise a *ConflictError carrying the current hash is returned and nothing is written.
func (s *Store) Write(ctx context.Context, workspaceID string, rel string, content []byte, expectedHash string) (WriteResult, error) {
	if s == nil {
		return WriteResult{}, errors.New("store not initialized")
	}
	p := Clean(rel)
	if p == "" {
		return WriteResult{}, errors.New("missing path")
	}
	abs, err := s.res.Resolve(p)
	if err != nil {
		return WriteResult{}, err
	}

	prev, err := s.tracker.GetTrackedFile(ctx, workspaceID, p)
	if err != nil {
		return WriteResult{}, err
	}
	expectedHash = strings.ToLower(strings.TrimSpace(expectedHash))
	if prev != nil && prev.Hash != "" && prev.Hash != expectedHash {
		cerr := &ConflictError{Path: p, ExpectedHash: expectedHash, CurrentHash: prev.Hash}
		if cur, rerr := readRegular(abs); rerr == nil {
			cerr.Preview = diff.Lines(string(cur), string(content), 0)
		}
		return WriteResult{}, cerr
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return WriteResult{}, err
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return WriteResult{}, err
	}
	h := Hash(content)
	if err := s.tracker.UpsertTrackedFile(ctx, statestore.TrackedFile{WorkspaceID: workspaceID, Path: p, Hash: h, Modified: true, Selected: true}); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Path: p, Hash: h}, nil
}

type UploadResult struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// Upload stores data as targetDir/<base of filename>, creating targetDir as needed.
func (s *Store) Upload(ctx context.Context, workspaceID string, filename string, data []byte, targetDir string) (UploadResult, error) {
	if s == nil {
		return UploadResult{}, errors.New("store not initialized")
	}
	name := path.Base(Clean(filename))
	if name == "" || name == "." || name == "/" || name == ".." {
		return UploadResult{}, errors.New("missing filename")
	}
	p := path.Join(Clean(targetDir), name)
	abs, err := s.res.Resolve(p)
	if err != nil {
		return UploadResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return UploadResult{}, err
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return UploadResult{}, err
	}
	h := Hash(data)
	if err := s.tracker.UpsertTrackedFile(ctx, statestore.TrackedFile{WorkspaceID: workspaceID, Path: p, Hash: h, Modified: true}); err != nil {
		return UploadResult{}, err
	}
	return UploadResult{Path: p, Size: int64(len(data)), Hash: h}, nil
}

// Mkdir creates a directory and its parents. Existing directories are not an error.
func (s *Store) Mkdir(ctx context.Context, rel string) (string, error) {
	if s == nil {
		return "", errors.New("store not initialized")
	}
	p := Clean(rel)
	if p == "" {
		return "", errors.New("missing path")
	}
	abs, err := s.res.Resolve(p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", err
	}
	return p, nil
}

// RemoveAll deletes a workspace path recursively. The workspace root itself is refused.
func (s *Store) RemoveAll(rel string) error {
	if s == nil {
		return errors.New("store not initialized")
	}
	p := Clean(rel)
	if p == "" {
		return errors.New("refusing to remove workspace root")
	}
	abs, err := s.res.Resolve(p)
	if err != nil {
		return err
	}
	return os.RemoveAll(abs)
}

func readRegular(abs string) ([]byte, error) {
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filepath.Base(abs))
	}
	return os.ReadFile(abs)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	if h == "" {
		return "(none)"
	}
	return h
}
