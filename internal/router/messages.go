package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/floegence/repopilot/internal/fs"
	"github.com/floegence/repopilot/internal/github"
	"github.com/floegence/repopilot/internal/gitsync"
)

// UserMessage renders err as a short explanation for the user. It never includes stack
// traces, command lines or credentials.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		conflict  *fs.ConflictError
		merge     *gitsync.MergeConflictError
		branchErr *gitsync.BranchSwitchError
		remote    *github.RemoteError
	)
	switch {
	case errors.As(err, &conflict):
		return fmt.Sprintf("%s was changed since you last opened it (current version %s). Reload it and try again.", conflict.Path, abbrev(conflict.CurrentHash))
	case errors.Is(err, fs.ErrPathEscape):
		return "That path is outside your workspace."
	case errors.Is(err, fs.ErrInvalidWorkspace):
		return "That workspace id is not valid."
	case errors.Is(err, fs.ErrNotFound):
		return "I couldn't find that file or folder."
	case errors.As(err, &merge):
		return conflictMessage("", merge.Files)
	case errors.As(err, &branchErr):
		return fmt.Sprintf("Could not switch to branch %s.", branchErr.Branch)
	case errors.Is(err, ErrUnsupportedAction):
		return "Sorry, that action isn't supported."
	case errors.Is(err, ErrRepositoryNotFound):
		return "I couldn't find that repository in your workspace."
	case errors.Is(err, github.ErrNoToken), github.IsUnauthorized(err):
		return "Connect your GitHub account first."
	case github.IsNotFound(err):
		return "GitHub could not find that repository."
	case errors.As(err, &remote):
		return "GitHub said: " + remote.Message
	case errors.Is(err, context.DeadlineExceeded):
		return "That took too long and was stopped. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}

func conflictMessage(repoPath string, files []string) string {
	where := ""
	if repoPath != "" {
		where = " in " + repoPath
	}
	if len(files) == 0 {
		return fmt.Sprintf("The push%s hit a merge conflict. Resolve it, then say \"push\" again.", where)
	}
	return fmt.Sprintf("The push%s hit merge conflicts in %s. Resolve them, then say \"push\" again.", where, strings.Join(files, ", "))
}

func clarificationPrompt(kind Kind, missing []string, candidates []string) string {
	if len(candidates) > 0 {
		return fmt.Sprintf("Which repository do you mean? I found: %s.", strings.Join(candidates, ", "))
	}
	if len(missing) == 0 {
		return "Could you tell me a bit more?"
	}
	switch missing[0] {
	case paramName:
		switch kind {
		case KindCreateRepo:
			return "What should the new repository be called?"
		case KindDeleteRepo:
			return "Which repository should I delete?"
		case KindRenameRepo:
			return "Which repository should I rename?"
		case KindCloneRepo:
			return "Which repository should I clone?"
		default:
			return "Which repository?"
		}
	case paramNewName:
		return "What should the new name be?"
	case paramBranch:
		return "What is the branch called?"
	case paramPath:
		return "Which path?"
	case paramContent:
		return "What should the file contain?"
	case paramFilename, paramData:
		return "Please attach the file to upload."
	case paramPrivate:
		return "Should the repository be private or public?"
	default:
		return fmt.Sprintf("I still need %s.", strings.Join(missing, ", "))
	}
}
