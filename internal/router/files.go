package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/floegence/repopilot/internal/fs"
)

func (r *Router) listFiles(ctx context.Context, t *turn, p Params) (TurnResult, error) {
	entries, err := t.files.List(ctx, t.workspaceID, p.Path)
	if err != nil {
		return TurnResult{}, err
	}
	where := "/" + strings.Trim(p.Path, "/")
	if len(entries) == 0 {
		return TurnResult{Completed: true, Message: fmt.Sprintf("%s is empty.", where), Data: entries}, nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Kind == fs.KindDir {
			names = append(names, e.Name+"/")
			continue
		}
		names = append(names, e.Name)
	}
	return TurnResult{
		Completed: true,
		Message:   fmt.Sprintf("%d entries in %s: %s", len(entries), where, strings.Join(names, ", ")),
		Data:      entries,
	}, nil
}

func (r *Router) readFile(ctx context.Context, t *turn, p Params) (TurnResult, error) {
	res, err := t.files.Read(ctx, t.workspaceID, p.Path)
	if err != nil {
		return TurnResult{}, err
	}
	msg := fmt.Sprintf("Opened %s.", res.Path)
	if res.ResolvedViaSearch {
		msg = fmt.Sprintf("%s was not found; opened %s instead.", res.RequestedPath, res.Path)
	}
	return TurnResult{
		Completed:     true,
		Message:       msg,
		EditorPayload: &EditorPayload{Path: res.Path, Content: string(res.Content), Hash: res.Hash},
		Data:          res,
	}, nil
}

// writeFile writes through the optimistic-concurrency store. Writing under a registered
// repository's folder makes that repository active.
func (r *Router) writeFile(ctx context.Context, t *turn, p Params) (TurnResult, error) {
	content := ""
	if p.Content != nil {
		content = *p.Content
	}
	res, err := t.files.Write(ctx, t.workspaceID, p.Path, []byte(content), p.ExpectedHash)
	if err != nil {
		return TurnResult{}, err
	}

	msg := fmt.Sprintf("Saved %s.", res.Path)
	if top, _, nested := strings.Cut(res.Path, "/"); nested {
		rec, err := r.repos.FindByLocalPath(ctx, t.workspaceID, top)
		if err != nil {
			r.log.Warn("registry lookup failed", "workspace_id", t.workspaceID, "error", err)
		} else if rec != nil {
			if err := r.repos.SetActive(ctx, t.workspaceID, rec.RepoID); err != nil {
				r.log.Warn("set active repository failed", "workspace_id", t.workspaceID, "repo_id", rec.RepoID, "error", err)
			} else {
				msg += fmt.Sprintf(" %s is now the active repository.", rec.Name)
			}
		}
	}
	return TurnResult{
		Completed:     true,
		Message:       msg,
		EditorPayload: &EditorPayload{Path: res.Path, Content: content, Hash: res.Hash},
		Data:          res,
	}, nil
}

func (r *Router) uploadFile(ctx context.Context, t *turn, p Params) (TurnResult, error) {
	res, err := t.files.Upload(ctx, t.workspaceID, p.Filename, p.Data, p.TargetDir)
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{
		Completed: true,
		Message:   fmt.Sprintf("Uploaded %s (%d bytes).", res.Path, res.Size),
		Data:      res,
	}, nil
}

func (r *Router) mkdir(ctx context.Context, t *turn, p Params) (TurnResult, error) {
	rel, err := t.files.Mkdir(ctx, p.Path)
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{Completed: true, Message: fmt.Sprintf("Created folder %s.", rel), Data: map[string]any{"path": rel}}, nil
}
