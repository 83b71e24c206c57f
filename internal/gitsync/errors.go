package gitsync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMergeConflict is matched by *MergeConflictError.
	ErrMergeConflict = errors.New("merge conflict")
	// ErrBranchSwitchFailed is matched by *BranchSwitchError.
	ErrBranchSwitchFailed = errors.New("branch switch failed")
)

// MergeConflictError lists the files left unmerged by a pull or rebase.
type MergeConflictError struct {
	Files []string
}

func (e *MergeConflictError) Error() string {
	if len(e.Files) == 0 {
		return "merge conflict"
	}
	return "merge conflict in " + strings.Join(e.Files, ", ")
}

func (e *MergeConflictError) Is(target error) bool {
	return target == ErrMergeConflict
}

type BranchSwitchError struct {
	Branch string
	Err    error
}

func (e *BranchSwitchError) Error() string {
	return fmt.Sprintf("failed to switch branch to %s: %v", e.Branch, e.Err)
}

func (e *BranchSwitchError) Is(target error) bool {
	return target == ErrBranchSwitchFailed
}

func (e *BranchSwitchError) Unwrap() error {
	return e.Err
}

func outputOf(err error) string {
	var cerr *CommandError
	if errors.As(err, &cerr) {
		return cerr.Output
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func isMissingRemoteRef(err error) bool {
	out := strings.ToLower(outputOf(err))
	return strings.Contains(out, "couldn't find remote ref") || strings.Contains(out, "could not find remote ref")
}

func hasConflictMarker(err error) bool {
	return strings.Contains(outputOf(err), "CONFLICT")
}
