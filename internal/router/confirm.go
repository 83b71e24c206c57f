package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/floegence/repopilot/internal/github"
	"github.com/floegence/repopilot/internal/registry"
	"github.com/floegence/repopilot/internal/statestore"
)

var (
	negativeAnswer    = regexp.MustCompile(`(?i)\b(?:no|n|nope|cancel|stop|abort|don'?t|do not)\b`)
	affirmativeAnswer = regexp.MustCompile(`(?i)\b(?:yes|y|yep|yeah|sure|do it|confirm|go ahead)\b`)
)

// isAffirmative reports an explicit yes. Negative words win over affirmative ones so that
// "don't do it" cancels.
func isAffirmative(text string) bool {
	return !negativeAnswer.MatchString(text) && affirmativeAnswer.MatchString(text)
}

func isNegative(text string) bool {
	return negativeAnswer.MatchString(text)
}

// stageConfirmation persists a destructive action until the user answers yes or no.
func (r *Router) stageConfirmation(ctx context.Context, t *turn, intent Intent) (TurnResult, error) {
	if blocked, res := r.blockedByConflict(t, intent.Action); blocked {
		return res, nil
	}
	target := strings.TrimSpace(intent.Params.Name)
	data := pendingData{Params: intent.Params, Target: target}

	matches, err := r.repos.FindByFuzzyName(ctx, t.workspaceID, target)
	if err != nil {
		return TurnResult{}, err
	}
	q := registry.NormalizeForSearch(target)
	for _, m := range matches {
		if registry.IsExactMatch(m, q) {
			data.RepoPath = m.LocalPath
			data.RepoID = m.RepoID
			break
		}
	}

	if err := r.putPending(ctx, t, intent.Action, statestore.StageAwaitingConfirmation, data); err != nil {
		return TurnResult{}, err
	}
	return TurnResult{
		NeedsInput:        true,
		PendingActionKind: intent.Action,
		Message:           fmt.Sprintf("Are you sure you want to permanently delete the repository %q? This cannot be undone. Reply yes to confirm or no to cancel.", target),
		Data:              map[string]any{"target": target},
	}, nil
}

// resolveConfirmation handles a turn while a destructive action awaits confirmation. Yes runs
// it and no cancels it. A different concrete command cancels it and runs instead; anything
// else cancels.
func (r *Router) resolveConfirmation(ctx context.Context, t *turn, text string) (TurnResult, error) {
	pending := t.pending
	data := decodePendingData(pending)

	if isAffirmative(text) {
		switch Kind(pending.Kind) {
		case KindDeleteRepo:
			res, err := r.executeDelete(ctx, t, data)
			r.record(t, Intent{Action: KindDeleteRepo, Params: data.Params}, res, err)
			return res, err
		default:
			r.clearPending(ctx, t)
			return TurnResult{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, pending.Kind)
		}
	}

	cancelled := fmt.Sprintf("Deletion of %q cancelled. Your repository is safe.", data.Target)
	if !isNegative(text) {
		if c, ok := r.classify(ctx, text, pending); ok {
			r.clearPending(ctx, t)
			res, err := r.dispatch(ctx, t, c.Intent)
			res.Message = strings.TrimSpace(cancelled + " " + res.Message)
			return res, err
		}
	}
	r.clearPending(ctx, t)
	return TurnResult{Completed: true, Message: cancelled, Data: map[string]any{"cancelled": true, "target": data.Target}}, nil
}

// executeDelete deletes the remote repository, then cleans up locally. A repository already
// gone on the remote does not block local cleanup; any other remote failure leaves the
// confirmation pending so the user can retry.
func (r *Router) executeDelete(ctx context.Context, t *turn, data pendingData) (TurnResult, error) {
	owner, err := r.resolveOwner(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	alreadyGone := false
	if err := r.remote.DeleteRepo(ctx, owner, data.Target); err != nil {
		if !github.IsNotFound(err) {
			return TurnResult{}, err
		}
		alreadyGone = true
		r.log.Info("remote repository already absent", "workspace_id", t.workspaceID, "repo", data.Target)
	}

	localPath := data.RepoPath
	if localPath == "" {
		// Without a registry entry only an actual working copy named after the target is removed.
		if guess := registry.NormalizeRepoName(data.Target); guess != "" && isWorkingCopy(t, guess) {
			localPath = guess
		}
	}
	if localPath != "" {
		if _, err := r.repos.DeleteByLocalPath(ctx, t.workspaceID, localPath); err != nil {
			r.log.Warn("registry cleanup failed", "workspace_id", t.workspaceID, "local_path", localPath, "error", err)
		}
		if err := t.files.RemoveAll(localPath); err != nil {
			r.log.Warn("local directory cleanup failed", "workspace_id", t.workspaceID, "local_path", localPath, "error", err)
		}
	}
	r.clearPending(ctx, t)

	msg := fmt.Sprintf("Repository %q deleted.", data.Target)
	if alreadyGone {
		msg = fmt.Sprintf("Repository %q was already gone on GitHub; removed the local copy.", data.Target)
	}
	return TurnResult{Completed: true, Message: msg, Data: map[string]any{"target": data.Target, "local_path": localPath}}, nil
}
