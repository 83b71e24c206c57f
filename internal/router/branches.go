package router

import (
	"context"
	"fmt"
	"strings"
)

func (r *Router) createBranch(ctx context.Context, t *turn, p Params) (TurnResult, error) {
	rec, err := r.resolveRepo(ctx, t, p.Name)
	if err != nil {
		return TurnResult{}, err
	}
	owner, err := r.resolveOwner(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	source := firstNonEmpty(p.Source, rec.Branch, defaultBranch)
	sha, err := r.remote.BranchSHA(ctx, owner, rec.Name, source)
	if err != nil {
		return TurnResult{}, err
	}
	ref, err := r.remote.CreateBranch(ctx, owner, rec.Name, p.Branch, sha)
	if err != nil {
		return TurnResult{}, err
	}
	if err := r.repos.UpdateBranches(ctx, t.workspaceID, rec.RepoID, []string{p.Branch}, rec.CurrentBranch); err != nil {
		return TurnResult{}, err
	}
	return TurnResult{
		Completed: true,
		Message:   fmt.Sprintf("Created branch %s from %s in %s.", p.Branch, source, rec.Name),
		Data:      ref,
	}, nil
}

// listBranches asks GitHub when the repository has a remote, and the working copy otherwise.
func (r *Router) listBranches(ctx context.Context, t *turn, p Params) (TurnResult, error) {
	rec, err := r.resolveRepo(ctx, t, p.Name)
	if err != nil {
		return TurnResult{}, err
	}
	var names []string
	if rec.URL != "" {
		owner, err := r.resolveOwner(ctx)
		if err != nil {
			return TurnResult{}, err
		}
		branches, err := r.remote.ListBranches(ctx, owner, rec.Name)
		if err != nil {
			return TurnResult{}, err
		}
		for _, b := range branches {
			names = append(names, b.Name)
		}
	} else {
		dir, err := t.files.Resolver().Resolve(rec.LocalPath)
		if err != nil {
			return TurnResult{}, err
		}
		names, err = r.git.ListLocalBranches(ctx, dir)
		if err != nil {
			return TurnResult{}, err
		}
	}
	if len(names) > 0 {
		if err := r.repos.UpdateBranches(ctx, t.workspaceID, rec.RepoID, names, rec.CurrentBranch); err != nil {
			r.log.Warn("registry branch update failed", "workspace_id", t.workspaceID, "repo_id", rec.RepoID, "error", err)
		}
	}

	if len(names) == 0 {
		return TurnResult{Completed: true, Message: fmt.Sprintf("%s has no branches yet.", rec.Name), Data: names}, nil
	}
	labels := make([]string, 0, len(names))
	for _, n := range names {
		if n == rec.CurrentBranch {
			n += " (current)"
		}
		labels = append(labels, n)
	}
	return TurnResult{
		Completed: true,
		Message:   fmt.Sprintf("Branches of %s: %s.", rec.Name, strings.Join(labels, ", ")),
		Data:      names,
	}, nil
}

func (r *Router) switchBranch(ctx context.Context, t *turn, p Params) (TurnResult, error) {
	rec, err := r.resolveRepo(ctx, t, p.Name)
	if err != nil {
		return TurnResult{}, err
	}
	dir, err := t.files.Resolver().Resolve(rec.LocalPath)
	if err != nil {
		return TurnResult{}, err
	}
	if err := r.git.SwitchBranch(ctx, dir, p.Branch); err != nil {
		return TurnResult{}, err
	}
	if err := r.repos.UpdateBranches(ctx, t.workspaceID, rec.RepoID, []string{p.Branch}, p.Branch); err != nil {
		return TurnResult{}, err
	}
	return TurnResult{
		Completed: true,
		Message:   fmt.Sprintf("Switched %s to branch %s.", rec.LocalPath, p.Branch),
		Data:      map[string]any{"repo_path": rec.LocalPath, "branch": p.Branch},
	}, nil
}
