package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/floegence/repopilot/internal/github"
	"github.com/floegence/repopilot/internal/registry"
	"github.com/floegence/repopilot/internal/statestore"
)

// ErrRepositoryNotFound is returned when no registered or on-disk repository matches.
var ErrRepositoryNotFound = errors.New("repository not found")

const (
	defaultBranch   = "main"
	latestRepoCount = 10
)

// resolveOwner returns the configured owner or the authenticated user's login.
func (r *Router) resolveOwner(ctx context.Context) (string, error) {
	r.ownerMu.Lock()
	defer r.ownerMu.Unlock()
	if r.owner != "" {
		return r.owner, nil
	}
	u, err := r.remote.Viewer(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(u.Login) == "" {
		return "", errors.New("github: authenticated user has no login")
	}
	r.owner = u.Login
	return r.owner, nil
}

func (r *Router) createRepo(ctx context.Context, t *turn, p Params) (TurnResult, error) {
	name := registry.NormalizeRepoName(p.Name)
	if name == "" {
		return TurnResult{}, &needParamError{Field: paramName}
	}
	private := p.Private != nil && *p.Private
	repo, err := r.remote.CreateRepo(ctx, github.CreateRepoOptions{
		Name:        name,
		Description: p.Description,
		Private:     private,
		AutoInit:    true,
	})
	if err != nil {
		return TurnResult{}, err
	}
	if repo.Name == "" {
		repo.Name = name
	}
	branch := firstNonEmpty(repo.DefaultBranch, defaultBranch)

	dest, err := t.files.Resolver().Resolve(name)
	if err != nil {
		return TurnResult{}, err
	}
	cloned := false
	if repo.CloneURL != "" {
		if err := r.git.Clone(ctx, repo.CloneURL, dest); err != nil {
			r.log.Warn("clone after create failed", "workspace_id", t.workspaceID, "repo", repo.Name, "error", err)
		} else {
			cloned = true
			if err := r.git.EnsureIdentity(ctx, dest); err != nil {
				r.log.Warn("git identity setup failed", "workspace_id", t.workspaceID, "repo", repo.Name, "error", err)
			}
		}
	}

	rec, err := r.register(ctx, t, statestore.Repository{
		WorkspaceID:   t.workspaceID,
		Name:          repo.Name,
		URL:           repo.CloneURL,
		Branch:        branch,
		CurrentBranch: branch,
		Branches:      []string{branch},
		LocalPath:     name,
		Cloned:        cloned,
	})
	if err != nil {
		return TurnResult{}, err
	}
	if err := r.repos.SetActive(ctx, t.workspaceID, rec.RepoID); err != nil {
		return TurnResult{}, err
	}

	visibility := "public"
	if repo.Private || private {
		visibility = "private"
	}
	msg := fmt.Sprintf("Created %s repository %s.", visibility, firstNonEmpty(repo.FullName, repo.Name))
	if !cloned {
		msg += " The local copy could not be cloned yet."
	}
	return TurnResult{Completed: true, Message: msg, Data: repo}, nil
}

// register creates the registry record, or refreshes the remote fields of an existing one at
// the same local path.
func (r *Router) register(ctx context.Context, t *turn, rec statestore.Repository) (*statestore.Repository, error) {
	got, err := r.repos.Ensure(ctx, rec)
	if err != nil {
		return nil, err
	}
	if got.Name != rec.Name || got.URL != rec.URL || got.Cloned != rec.Cloned {
		if err := r.repos.UpdateRemote(ctx, t.workspaceID, got.RepoID, rec.Name, rec.URL, rec.Cloned || got.Cloned); err != nil {
			return nil, err
		}
		return r.repos.Get(ctx, t.workspaceID, got.RepoID)
	}
	return got, nil
}

func (r *Router) renameRepo(ctx context.Context, t *turn, p Params) (TurnResult, error) {
	owner, err := r.resolveOwner(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	newName := registry.NormalizeRepoName(p.NewName)
	if newName == "" {
		return TurnResult{}, &needParamError{Field: paramNewName}
	}
	repo, err := r.remote.RenameRepo(ctx, owner, p.Name, newName)
	if err != nil {
		return TurnResult{}, err
	}

	msg := fmt.Sprintf("Renamed %s to %s.", p.Name, firstNonEmpty(repo.Name, newName))
	if rec := r.exactRegistryMatch(ctx, t, p.Name); rec != nil {
		if err := r.repos.UpdateRemote(ctx, t.workspaceID, rec.RepoID, firstNonEmpty(repo.Name, newName), firstNonEmpty(repo.CloneURL, rec.URL), rec.Cloned); err != nil {
			return TurnResult{}, err
		}
		msg += fmt.Sprintf(" The local copy stays in %s/.", rec.LocalPath)
	}
	return TurnResult{Completed: true, Message: msg, Data: repo}, nil
}

func (r *Router) updateRepo(ctx context.Context, p Params) (TurnResult, error) {
	owner, err := r.resolveOwner(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	opts := github.UpdateRepoOptions{Private: p.Private, AddReadme: p.AddReadme}
	if p.Description != "" {
		d := p.Description
		opts.Description = &d
	}
	repo, err := r.remote.UpdateRepo(ctx, owner, p.Name, opts)
	if err != nil {
		return TurnResult{}, err
	}

	var changes []string
	if p.Private != nil {
		if *p.Private {
			changes = append(changes, "made it private")
		} else {
			changes = append(changes, "made it public")
		}
	}
	if p.Description != "" {
		changes = append(changes, "updated the description")
	}
	if p.AddReadme {
		changes = append(changes, "added a README")
	}
	return TurnResult{
		Completed: true,
		Message:   fmt.Sprintf("Updated %s: %s.", p.Name, strings.Join(changes, " and ")),
		Data:      repo,
	}, nil
}

func (r *Router) getRepo(ctx context.Context, p Params) (TurnResult, error) {
	owner, err := r.resolveOwner(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	repo, err := r.remote.GetRepo(ctx, owner, p.Name)
	if err != nil {
		return TurnResult{}, err
	}
	visibility := "public"
	if repo.Private {
		visibility = "private"
	}
	msg := fmt.Sprintf("%s is %s, default branch %s.", firstNonEmpty(repo.FullName, repo.Name), visibility, firstNonEmpty(repo.DefaultBranch, defaultBranch))
	if repo.Description != "" {
		msg += " " + repo.Description
	}
	if repo.HTMLURL != "" {
		msg += " " + repo.HTMLURL
	}
	return TurnResult{Completed: true, Message: msg, Data: repo}, nil
}

func (r *Router) listRepos(ctx context.Context) (TurnResult, error) {
	r.ownerMu.Lock()
	owner := r.owner
	r.ownerMu.Unlock()
	repos, err := r.remote.ListRepos(ctx, owner)
	if err != nil {
		return TurnResult{}, err
	}
	if len(repos) == 0 {
		return TurnResult{Completed: true, Message: "You don't have any repositories yet.", Data: repos}, nil
	}
	names := make([]string, 0, latestRepoCount)
	for i, repo := range repos {
		if i == latestRepoCount {
			break
		}
		names = append(names, repo.Name)
	}
	msg := fmt.Sprintf("Your latest repositories: %s.", strings.Join(names, ", "))
	if len(repos) > latestRepoCount {
		msg += fmt.Sprintf(" (%d in total)", len(repos))
	}
	return TurnResult{Completed: true, Message: msg, Data: repos}, nil
}

func (r *Router) repoExists(ctx context.Context, p Params) (TurnResult, error) {
	owner, err := r.resolveOwner(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	ok, err := r.remote.RepoExists(ctx, owner, p.Name)
	if err != nil {
		return TurnResult{}, err
	}
	msg := fmt.Sprintf("Repository %s does not exist.", p.Name)
	if ok {
		msg = fmt.Sprintf("Repository %s exists.", p.Name)
	}
	return TurnResult{Completed: true, Message: msg, Data: map[string]any{"name": p.Name, "exists": ok}}, nil
}

func (r *Router) cloneRepo(ctx context.Context, t *turn, p Params) (TurnResult, error) {
	owner, err := r.resolveOwner(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	repo, err := r.remote.GetRepo(ctx, owner, p.Name)
	if err != nil {
		return TurnResult{}, err
	}
	local := registry.NormalizeRepoName(firstNonEmpty(repo.Name, p.Name))
	dest, err := t.files.Resolver().Resolve(local)
	if err != nil {
		return TurnResult{}, err
	}
	if err := r.git.Clone(ctx, repo.CloneURL, dest); err != nil {
		return TurnResult{}, err
	}
	if err := r.git.EnsureIdentity(ctx, dest); err != nil {
		r.log.Warn("git identity setup failed", "workspace_id", t.workspaceID, "repo", repo.Name, "error", err)
	}
	branch := firstNonEmpty(repo.DefaultBranch, defaultBranch)
	rec, err := r.register(ctx, t, statestore.Repository{
		WorkspaceID:   t.workspaceID,
		Name:          firstNonEmpty(repo.Name, p.Name),
		URL:           repo.CloneURL,
		Branch:        branch,
		CurrentBranch: branch,
		Branches:      []string{branch},
		LocalPath:     local,
		Cloned:        true,
	})
	if err != nil {
		return TurnResult{}, err
	}
	if err := r.repos.SetActive(ctx, t.workspaceID, rec.RepoID); err != nil {
		return TurnResult{}, err
	}
	return TurnResult{
		Completed: true,
		Message:   fmt.Sprintf("Cloned %s into %s/.", firstNonEmpty(repo.FullName, repo.Name), local),
		Data:      rec,
	}, nil
}

// exactRegistryMatch returns the registered repository whose name or folder equals name.
func (r *Router) exactRegistryMatch(ctx context.Context, t *turn, name string) *statestore.Repository {
	matches, err := r.repos.FindByFuzzyName(ctx, t.workspaceID, name)
	if err != nil {
		r.log.Warn("registry lookup failed", "workspace_id", t.workspaceID, "error", err)
		return nil
	}
	q := registry.NormalizeForSearch(name)
	for i := range matches {
		if registry.IsExactMatch(matches[i], q) {
			return &matches[i]
		}
	}
	return nil
}

// resolveRepo picks the repository a branch or push action targets: the named one, else the
// active one, else the only registered one. Ambiguity becomes a question, never a guess.
func (r *Router) resolveRepo(ctx context.Context, t *turn, name string) (*statestore.Repository, error) {
	name = strings.TrimSpace(name)
	if name != "" {
		matches, err := r.repos.FindByFuzzyName(ctx, t.workspaceID, name)
		if err != nil {
			return nil, err
		}
		if rec, candidates := narrow(matches, name); rec != nil {
			return rec, nil
		} else if len(candidates) > 1 {
			return nil, &needParamError{Field: paramName, Candidates: candidates}
		}
		return nil, fmt.Errorf("%w: %q", ErrRepositoryNotFound, name)
	}

	active, err := r.repos.Active(ctx, t.workspaceID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}
	all, err := r.repos.ListByWorkspace(ctx, t.workspaceID)
	if err != nil {
		return nil, err
	}
	switch len(all) {
	case 0:
		return nil, ErrRepositoryNotFound
	case 1:
		return &all[0], nil
	default:
		return nil, &needParamError{Field: paramName, Candidates: localPaths(all)}
	}
}

// narrow returns the single repository name designates, or the candidates when it is
// ambiguous. Exact matches beat substring matches.
func narrow(matches []statestore.Repository, name string) (*statestore.Repository, []string) {
	q := registry.NormalizeForSearch(name)
	var exact []statestore.Repository
	for _, m := range matches {
		if registry.IsExactMatch(m, q) {
			exact = append(exact, m)
		}
	}
	switch {
	case len(exact) == 1:
		return &exact[0], nil
	case len(exact) > 1:
		return nil, localPaths(exact)
	case len(matches) == 1:
		return &matches[0], nil
	default:
		return nil, localPaths(matches)
	}
}

func localPaths(repos []statestore.Repository) []string {
	out := make([]string, 0, len(repos))
	for _, r := range repos {
		out = append(out, r.LocalPath)
	}
	return out
}

// isWorkingCopy reports whether rel is a directory holding a .git entry.
func isWorkingCopy(t *turn, rel string) bool {
	abs, err := t.files.Resolver().Resolve(rel)
	if err != nil {
		return false
	}
	_, err = os.Lstat(filepath.Join(abs, ".git"))
	return err == nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
