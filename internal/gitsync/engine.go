// Package gitsync keeps a local working copy and its remote in step: it commits pending work,
// rebases onto the remote branch, pushes, and resumes a rebase that an earlier attempt left
// unfinished.
package gitsync

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// State of a working copy.
type State string

const (
	StateClean      State = "clean"
	StateDirty      State = "dirty"
	StateRebasing   State = "rebasing"
	StateConflicted State = "conflicted"
)

const (
	defaultBranch      = "main"
	defaultMessage     = "Auto-commit by repopilot"
	defaultAuthorName  = "Repo Pilot"
	defaultAuthorEmail = "repopilot@local.dev"
)

type Options struct {
	Logger *slog.Logger
	Runner Runner
	// DefaultBranch is used when HEAD is detached. Empty means "main".
	DefaultBranch string
	// DefaultMessage is the commit message when the caller gives none.
	DefaultMessage string
	AuthorName     string
	AuthorEmail    string
	// Token returns the credential for https remotes. It is sent as an HTTP header
	// on network commands and never written to the repository config.
	Token func() string
}

type Engine struct {
	log            *slog.Logger
	run            Runner
	defaultBranch  string
	defaultMessage string
	authorName     string
	authorEmail    string
	token          func() string
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Engine{
		log:            logger,
		run:            runner,
		defaultBranch:  firstNonEmpty(opts.DefaultBranch, defaultBranch),
		defaultMessage: firstNonEmpty(opts.DefaultMessage, defaultMessage),
		authorName:     firstNonEmpty(opts.AuthorName, defaultAuthorName),
		authorEmail:    firstNonEmpty(opts.AuthorEmail, defaultAuthorEmail),
		token:          opts.Token,
	}
}

type SyncResult struct {
	Commit    string `json:"commit"`
	Branch    string `json:"branch"`
	Committed bool   `json:"committed"`
	// Resumed is set when the call finished a rebase left over from an earlier attempt.
	Resumed bool `json:"resumed"`
}

// EnsureIdentity sets user.name and user.email in the repository config when they are unset.
// An existing identity (local or global) is never overwritten.
func (e *Engine) EnsureIdentity(ctx context.Context, dir string) error {
	for _, kv := range [][2]string{{"user.name", e.authorName}, {"user.email", e.authorEmail}} {
		cur, err := e.git(ctx, dir, "config", "--get", kv[0])
		if err == nil && strings.TrimSpace(cur) != "" {
			continue
		}
		if _, err := e.git(ctx, dir, "config", kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// State inspects the working copy.
func (e *Engine) State(ctx context.Context, dir string) (State, error) {
	files, err := e.conflictedFiles(ctx, dir)
	if err != nil {
		return "", err
	}
	if len(files) > 0 {
		return StateConflicted, nil
	}
	if rebaseInProgress(dir) {
		return StateRebasing, nil
	}
	status, err := e.git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(status) != "" {
		return StateDirty, nil
	}
	return StateClean, nil
}

// SmartSync commits local changes, rebases onto the remote branch and pushes.
// A rebase left unfinished by a previous call is completed and pushed instead, so calling
// SmartSync again after resolving conflicts never commits the same work twice.
func (e *Engine) SmartSync(ctx context.Context, dir string, message string) (SyncResult, error) {
	if e == nil {
		return SyncResult{}, errors.New("engine not initialized")
	}
	if err := e.EnsureIdentity(ctx, dir); err != nil {
		return SyncResult{}, err
	}

	branch, err := e.CurrentBranch(ctx, dir)
	if err != nil {
		return SyncResult{}, err
	}
	res := SyncResult{Branch: branch}

	if rebaseInProgress(dir) {
		e.log.Info("resuming unfinished rebase", "dir", dir, "branch", branch)
		if err := e.resumeRebase(ctx, dir); err != nil {
			return SyncResult{}, e.classify(ctx, dir, err)
		}
		if err := e.push(ctx, dir, branch); err != nil {
			return SyncResult{}, e.classify(ctx, dir, err)
		}
		res.Resumed = true
		res.Commit, err = e.git(ctx, dir, "rev-parse", "HEAD")
		return res, err
	}

	status, err := e.git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return SyncResult{}, err
	}
	if strings.TrimSpace(status) != "" {
		msg := strings.TrimSpace(message)
		if msg == "" {
			msg = e.defaultMessage
		}
		if _, err := e.git(ctx, dir, "add", "-A"); err != nil {
			return SyncResult{}, err
		}
		if _, err := e.git(ctx, dir, "commit", "-m", msg); err != nil {
			return SyncResult{}, e.classify(ctx, dir, err)
		}
		res.Committed = true
	}

	if _, err := e.git(ctx, dir, e.withAuth("pull", "--rebase", "origin", branch)...); err != nil {
		if !isMissingRemoteRef(err) {
			return SyncResult{}, e.classify(ctx, dir, err)
		}
		e.log.Debug("remote branch missing; first push", "dir", dir, "branch", branch)
	}
	if err := e.push(ctx, dir, branch); err != nil {
		return SyncResult{}, e.classify(ctx, dir, err)
	}
	res.Commit, err = e.git(ctx, dir, "rev-parse", "HEAD")
	return res, err
}

// SwitchBranch checks out name, creating it when it does not exist locally.
func (e *Engine) SwitchBranch(ctx context.Context, dir string, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &BranchSwitchError{Branch: name, Err: errors.New("missing branch name")}
	}
	args := []string{"checkout", name}
	if _, err := e.git(ctx, dir, "show-ref", "--verify", "--quiet", "refs/heads/"+name); err != nil {
		args = []string{"checkout", "-b", name}
	}
	if _, err := e.git(ctx, dir, args...); err != nil {
		return &BranchSwitchError{Branch: name, Err: err}
	}
	return nil
}

// CurrentBranch returns the checked-out branch. During a rebase it returns the branch
// being rebased; a detached HEAD maps to the default branch.
func (e *Engine) CurrentBranch(ctx context.Context, dir string) (string, error) {
	if b := rebaseHeadName(dir); b != "" {
		return b, nil
	}
	out, err := e.git(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		// Unborn branch: rev-parse fails before the first commit.
		if sym, serr := e.git(ctx, dir, "symbolic-ref", "--short", "HEAD"); serr == nil && sym != "" {
			return sym, nil
		}
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" || out == "HEAD" {
		return e.defaultBranch, nil
	}
	return out, nil
}

// ListLocalBranches returns local branch names, sorted.
func (e *Engine) ListLocalBranches(ctx context.Context, dir string) ([]string, error) {
	out, err := e.git(ctx, dir, "for-each-ref", "--format=%(refname:short)", "refs/heads")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			branches = append(branches, line)
		}
	}
	sort.Strings(branches)
	return branches, nil
}

// Clone clones remoteURL into dest. An existing clone at dest counts as success.
func (e *Engine) Clone(ctx context.Context, remoteURL string, dest string) error {
	remoteURL = strings.TrimSpace(remoteURL)
	if remoteURL == "" {
		return errors.New("missing clone url")
	}
	if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil {
		return nil
	}
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	_, err := e.git(ctx, parent, e.withAuth("clone", remoteURL, dest)...)
	if err != nil && strings.Contains(outputOf(err), "already exists") {
		return nil
	}
	return err
}

func (e *Engine) resumeRebase(ctx context.Context, dir string) error {
	// Staging a file that still carries conflict markers would commit them.
	unresolved, err := e.filesWithMarkers(ctx, dir)
	if err != nil {
		return err
	}
	if len(unresolved) > 0 {
		return &MergeConflictError{Files: unresolved}
	}
	if _, err := e.git(ctx, dir, "add", "-A"); err != nil {
		return err
	}
	_, err = e.gitEnv(ctx, dir, []string{"GIT_EDITOR=true"}, "rebase", "--continue")
	return err
}

func (e *Engine) push(ctx context.Context, dir string, branch string) error {
	_, err := e.git(ctx, dir, e.withAuth("push", "-u", "origin", branch)...)
	return err
}

// classify turns a conflict-looking failure into *MergeConflictError.
func (e *Engine) classify(ctx context.Context, dir string, err error) error {
	if err == nil {
		return nil
	}
	var mc *MergeConflictError
	if errors.As(err, &mc) {
		return err
	}
	files, ferr := e.conflictedFiles(ctx, dir)
	if ferr != nil {
		e.log.Warn("list conflicted files failed", "dir", dir, "error", ferr)
	}
	if len(files) > 0 || hasConflictMarker(err) {
		return &MergeConflictError{Files: files}
	}
	return err
}

func (e *Engine) conflictedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := e.git(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	seen := map[string]struct{}{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		files = append(files, line)
	}
	sort.Strings(files)
	return files, nil
}

func (e *Engine) filesWithMarkers(ctx context.Context, dir string) ([]string, error) {
	files, err := e.conflictedFiles(ctx, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range files {
		b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(f)))
		if err != nil {
			// Deleted on one side; staging records the deletion.
			continue
		}
		if containsConflictMarkers(b) {
			out = append(out, f)
		}
	}
	return out, nil
}

func containsConflictMarkers(b []byte) bool {
	for _, line := range bytes.Split(b, []byte("\n")) {
		if bytes.HasPrefix(line, []byte("<<<<<<< ")) || bytes.HasPrefix(line, []byte(">>>>>>> ")) {
			return true
		}
	}
	return false
}

func rebaseInProgress(dir string) bool {
	for _, name := range []string{"rebase-merge", "rebase-apply"} {
		if st, err := os.Stat(filepath.Join(dir, ".git", name)); err == nil && st.IsDir() {
			return true
		}
	}
	return false
}

func rebaseHeadName(dir string) string {
	for _, name := range []string{"rebase-merge", "rebase-apply"} {
		b, err := os.ReadFile(filepath.Join(dir, ".git", name, "head-name"))
		if err != nil {
			continue
		}
		ref := strings.TrimSpace(string(b))
		if strings.HasPrefix(ref, "refs/heads/") {
			return strings.TrimPrefix(ref, "refs/heads/")
		}
	}
	return ""
}

// withAuth prefixes network commands with an Authorization header for https remotes.
func (e *Engine) withAuth(args ...string) []string {
	if e.token == nil {
		return args
	}
	tok := strings.TrimSpace(e.token())
	if tok == "" {
		return args
	}
	cred := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + tok))
	return append([]string{"-c", "http.extraHeader=Authorization: Basic " + cred}, args...)
}

func (e *Engine) git(ctx context.Context, dir string, args ...string) (string, error) {
	return e.gitEnv(ctx, dir, nil, args...)
}

func (e *Engine) gitEnv(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return e.run.Run(ctx, dir, env, args...)
}

// RedactURL strips userinfo from a remote URL for display.
func RedactURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
