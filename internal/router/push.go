package router

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/floegence/repopilot/internal/gitsync"
	"github.com/floegence/repopilot/internal/registry"
	"github.com/floegence/repopilot/internal/statestore"
)

const gitScanDepth = 3

// pushRepo commits, rebases and pushes the target working copy. A merge conflict becomes a
// merge_conflict pending action that the next successful push of the same repository clears.
func (r *Router) pushRepo(ctx context.Context, t *turn, p Params) (TurnResult, error) {
	rec, err := r.resolvePushTarget(ctx, t, p.Name)
	if err != nil {
		return TurnResult{}, err
	}
	dir, err := t.files.Resolver().Resolve(rec.LocalPath)
	if err != nil {
		return TurnResult{}, err
	}
	if err := r.git.EnsureIdentity(ctx, dir); err != nil {
		return TurnResult{}, err
	}
	if err := r.repos.SetActive(ctx, t.workspaceID, rec.RepoID); err != nil {
		return TurnResult{}, err
	}

	res, err := r.git.SmartSync(ctx, dir, p.Message)
	var conflict *gitsync.MergeConflictError
	if errors.As(err, &conflict) {
		data := pendingData{Params: p, RepoPath: rec.LocalPath, RepoID: rec.RepoID, Files: conflict.Files}
		if perr := r.putPending(ctx, t, KindMergeConflict, statestore.StageResolutionNeeded, data); perr != nil {
			return TurnResult{}, perr
		}
		return TurnResult{
			NeedsInput:        true,
			PendingActionKind: KindMergeConflict,
			Message:           conflictMessage(rec.LocalPath, conflict.Files),
			Data:              map[string]any{"files": conflict.Files, "repo_path": rec.LocalPath},
		}, nil
	}
	if err != nil {
		return TurnResult{}, err
	}

	if err := r.repos.UpdateAfterPush(ctx, t.workspaceID, rec.RepoID, res.Commit, res.Branch); err != nil {
		return TurnResult{}, err
	}
	if err := r.repos.UpdateBranches(ctx, t.workspaceID, rec.RepoID, []string{res.Branch}, res.Branch); err != nil {
		r.log.Warn("registry branch update failed", "workspace_id", t.workspaceID, "repo_id", rec.RepoID, "error", err)
	}
	if t.pending != nil && Kind(t.pending.Kind) == KindMergeConflict && decodePendingData(t.pending).RepoPath == rec.LocalPath {
		r.clearPending(ctx, t)
	}

	var msg string
	switch {
	case res.Resumed:
		msg = fmt.Sprintf("Finished the interrupted rebase and pushed %s to %s (%s).", rec.LocalPath, res.Branch, abbrev(res.Commit))
	case res.Committed:
		msg = fmt.Sprintf("Committed and pushed %s to %s (%s).", rec.LocalPath, res.Branch, abbrev(res.Commit))
	default:
		msg = fmt.Sprintf("Nothing new to commit; %s is in sync with %s (%s).", rec.LocalPath, res.Branch, abbrev(res.Commit))
	}
	return TurnResult{Completed: true, Message: msg, Data: res}, nil
}

// resolvePushTarget finds the working copy to push: a named repository (registry first, then
// .git directories on disk), the repository of an open merge conflict, the active
// repository, the only registered one, or the only .git directory on disk.
func (r *Router) resolvePushTarget(ctx context.Context, t *turn, name string) (*statestore.Repository, error) {
	name = strings.TrimSpace(name)
	if name == "" && t.pending != nil && Kind(t.pending.Kind) == KindMergeConflict {
		if d := decodePendingData(t.pending); d.RepoPath != "" {
			if rec, err := r.repos.FindByLocalPath(ctx, t.workspaceID, d.RepoPath); err != nil || rec != nil {
				return rec, err
			}
		}
	}

	rec, err := r.resolveRepo(ctx, t, name)
	var need *needParamError
	switch {
	case err == nil:
		return rec, nil
	case errors.As(err, &need):
		return nil, err
	case !errors.Is(err, ErrRepositoryNotFound):
		return nil, err
	}

	dirs, err := t.files.FindGitDirs(ctx, gitScanDepth)
	if err != nil {
		return nil, err
	}
	if name != "" {
		dirs = filterDirs(dirs, name)
	}
	switch len(dirs) {
	case 0:
		if name != "" {
			return nil, fmt.Errorf("%w: %q", ErrRepositoryNotFound, name)
		}
		return nil, ErrRepositoryNotFound
	case 1:
		return r.register(ctx, t, statestore.Repository{
			WorkspaceID: t.workspaceID,
			Name:        path.Base(dirs[0]),
			LocalPath:   dirs[0],
			Cloned:      true,
		})
	default:
		return nil, &needParamError{Field: paramName, Candidates: dirs}
	}
}

// filterDirs keeps the directories matching name, preferring exact base-name matches.
func filterDirs(dirs []string, name string) []string {
	q := registry.NormalizeForSearch(name)
	var exact, partial []string
	for _, d := range dirs {
		n := registry.NormalizeForSearch(d)
		switch {
		case registry.NormalizeForSearch(path.Base(d)) == q:
			exact = append(exact, d)
		case strings.Contains(n, q):
			partial = append(partial, d)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	sort.Strings(partial)
	return partial
}

func abbrev(c string) string {
	if len(c) > 7 {
		return c[:7]
	}
	return c
}
