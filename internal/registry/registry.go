// Package registry tracks the repositories known to each workspace and resolves
// conversational names to them.
package registry

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/floegence/repopilot/internal/statestore"
)

// Backend is the persistence the registry needs.
type Backend interface {
	GetWorkspace(ctx context.Context, workspaceID string) (*statestore.Workspace, error)
	SetActiveRepo(ctx context.Context, workspaceID string, repoID string) error
	CreateRepository(ctx context.Context, r statestore.Repository) error
	GetRepository(ctx context.Context, workspaceID string, repoID string) (*statestore.Repository, error)
	GetRepositoryByLocalPath(ctx context.Context, workspaceID string, localPath string) (*statestore.Repository, error)
	ListRepositories(ctx context.Context, workspaceID string) ([]statestore.Repository, error)
	UpdateRepositoryBranches(ctx context.Context, workspaceID string, repoID string, add []string, current string) error
	UpdateRepositoryAfterPush(ctx context.Context, workspaceID string, repoID string, commit string, branch string) error
	UpdateRepositoryRemote(ctx context.Context, workspaceID string, repoID string, name string, url string, cloned bool) error
	DeleteRepositoryByLocalPath(ctx context.Context, workspaceID string, localPath string) (bool, error)
}

type Registry struct {
	db Backend
}

func New(db Backend) *Registry {
	return &Registry{db: db}
}

func (r *Registry) ready() error {
	if r == nil || r.db == nil {
		return errors.New("registry not initialized")
	}
	return nil
}

// Create registers a repository. RepoID is generated when empty.
func (r *Registry) Create(ctx context.Context, repo statestore.Repository) (*statestore.Repository, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(repo.RepoID) == "" {
		repo.RepoID = uuid.NewString()
	}
	if err := r.db.CreateRepository(ctx, repo); err != nil {
		return nil, err
	}
	return r.db.GetRepository(ctx, repo.WorkspaceID, repo.RepoID)
}

// Ensure returns the repository registered at localPath, creating it from repo when absent.
func (r *Registry) Ensure(ctx context.Context, repo statestore.Repository) (*statestore.Repository, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	existing, err := r.db.GetRepositoryByLocalPath(ctx, repo.WorkspaceID, repo.LocalPath)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return r.Create(ctx, repo)
}

func (r *Registry) Get(ctx context.Context, workspaceID string, repoID string) (*statestore.Repository, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	return r.db.GetRepository(ctx, workspaceID, repoID)
}

func (r *Registry) ListByWorkspace(ctx context.Context, workspaceID string) ([]statestore.Repository, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	return r.db.ListRepositories(ctx, workspaceID)
}

func (r *Registry) FindByLocalPath(ctx context.Context, workspaceID string, localPath string) (*statestore.Repository, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	return r.db.GetRepositoryByLocalPath(ctx, workspaceID, localPath)
}

// Active returns the workspace's active repository, or nil.
func (r *Registry) Active(ctx context.Context, workspaceID string) (*statestore.Repository, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	w, err := r.db.GetWorkspace(ctx, workspaceID)
	if err != nil || w == nil || strings.TrimSpace(w.ActiveRepoID) == "" {
		return nil, err
	}
	return r.db.GetRepository(ctx, workspaceID, w.ActiveRepoID)
}

func (r *Registry) SetActive(ctx context.Context, workspaceID string, repoID string) error {
	if err := r.ready(); err != nil {
		return err
	}
	return r.db.SetActiveRepo(ctx, workspaceID, repoID)
}

// FindByFuzzyName returns every repository whose normalized name, local path or URL contains
// the normalized query. Exact name matches come first, then the active repository, then the
// most recently updated.
func (r *Registry) FindByFuzzyName(ctx context.Context, workspaceID string, name string) ([]statestore.Repository, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	q := NormalizeForSearch(name)
	if q == "" {
		return nil, nil
	}
	all, err := r.db.ListRepositories(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	activeID := ""
	if w, err := r.db.GetWorkspace(ctx, workspaceID); err == nil && w != nil {
		activeID = w.ActiveRepoID
	}

	type ranked struct {
		repo  statestore.Repository
		score int
		order int
	}
	var hits []ranked
	for i, repo := range all {
		if !MatchesFuzzy(repo, q) {
			continue
		}
		score := 0
		if IsExactMatch(repo, q) {
			score += 2
		}
		if repo.RepoID == activeID {
			score++
		}
		hits = append(hits, ranked{repo: repo, score: score, order: i})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].order < hits[j].order
	})
	out := make([]statestore.Repository, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.repo)
	}
	return out, nil
}

// MatchesFuzzy reports whether the already-normalized query q occurs in the repository's
// name, local path or URL.
func MatchesFuzzy(repo statestore.Repository, q string) bool {
	if q == "" {
		return false
	}
	for _, field := range []string{repo.Name, repo.LocalPath, repo.URL} {
		if strings.Contains(NormalizeForSearch(field), q) {
			return true
		}
	}
	return false
}

// IsExactMatch reports whether the normalized query q equals the repository's normalized name
// or the base of its local path.
func IsExactMatch(repo statestore.Repository, q string) bool {
	if NormalizeForSearch(repo.Name) == q {
		return true
	}
	base := repo.LocalPath
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	return NormalizeForSearch(base) == q
}

func (r *Registry) UpdateBranches(ctx context.Context, workspaceID string, repoID string, add []string, current string) error {
	if err := r.ready(); err != nil {
		return err
	}
	return r.db.UpdateRepositoryBranches(ctx, workspaceID, repoID, add, current)
}

func (r *Registry) UpdateAfterPush(ctx context.Context, workspaceID string, repoID string, commit string, branch string) error {
	if err := r.ready(); err != nil {
		return err
	}
	return r.db.UpdateRepositoryAfterPush(ctx, workspaceID, repoID, commit, branch)
}

func (r *Registry) UpdateRemote(ctx context.Context, workspaceID string, repoID string, name string, url string, cloned bool) error {
	if err := r.ready(); err != nil {
		return err
	}
	return r.db.UpdateRepositoryRemote(ctx, workspaceID, repoID, name, url, cloned)
}

func (r *Registry) DeleteByLocalPath(ctx context.Context, workspaceID string, localPath string) (bool, error) {
	if err := r.ready(); err != nil {
		return false, err
	}
	return r.db.DeleteRepositoryByLocalPath(ctx, workspaceID, localPath)
}

var (
	searchStrip  = regexp.MustCompile(`[-_\s]+`)
	nameSpaces   = regexp.MustCompile(`\s+`)
	nameDisallow = regexp.MustCompile(`[^a-z0-9\-_]`)
)

// NormalizeForSearch lowercases s and drops hyphens, underscores and whitespace.
func NormalizeForSearch(s string) string {
	return searchStrip.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
}

// NormalizeRepoName turns free text into a repository slug: lowercase, whitespace to "-",
// anything outside [a-z0-9-_] dropped.
func NormalizeRepoName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nameSpaces.ReplaceAllString(s, "-")
	return nameDisallow.ReplaceAllString(s, "")
}
