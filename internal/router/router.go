// Package router resolves one conversational turn into a repository, branch or file action,
// carrying unfinished actions across turns as a persisted pending action.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/floegence/repopilot/internal/auditlog"
	"github.com/floegence/repopilot/internal/fs"
	"github.com/floegence/repopilot/internal/github"
	"github.com/floegence/repopilot/internal/gitsync"
	"github.com/floegence/repopilot/internal/llm"
	"github.com/floegence/repopilot/internal/registry"
	"github.com/floegence/repopilot/internal/statestore"
)

// StateStore persists workspaces and their pending action.
type StateStore interface {
	EnsureWorkspace(ctx context.Context, workspaceID string, rootPath string) (*statestore.Workspace, error)
	GetPendingAction(ctx context.Context, workspaceID string) (*statestore.PendingAction, error)
	PutPendingAction(ctx context.Context, p statestore.PendingAction) error
	DeletePendingAction(ctx context.Context, workspaceID string) error
	DeletePendingActionIf(ctx context.Context, workspaceID string, actionID string) (bool, error)
}

// RemoteClient is the subset of the GitHub API the router drives.
type RemoteClient interface {
	Viewer(ctx context.Context) (github.User, error)
	CreateRepo(ctx context.Context, opts github.CreateRepoOptions) (github.Repo, error)
	RenameRepo(ctx context.Context, owner string, oldName string, newName string) (github.Repo, error)
	DeleteRepo(ctx context.Context, owner string, name string) error
	GetRepo(ctx context.Context, owner string, name string) (github.Repo, error)
	RepoExists(ctx context.Context, owner string, name string) (bool, error)
	ListRepos(ctx context.Context, owner string) ([]github.Repo, error)
	UpdateRepo(ctx context.Context, owner string, name string, opts github.UpdateRepoOptions) (github.Repo, error)
	CreateBranch(ctx context.Context, owner string, repo string, name string, sourceSHA string) (github.Ref, error)
	ListBranches(ctx context.Context, owner string, repo string) ([]github.Branch, error)
	BranchSHA(ctx context.Context, owner string, repo string, branch string) (string, error)
}

// SyncEngine drives local working copies.
type SyncEngine interface {
	EnsureIdentity(ctx context.Context, dir string) error
	SmartSync(ctx context.Context, dir string, message string) (gitsync.SyncResult, error)
	SwitchBranch(ctx context.Context, dir string, name string) error
	ListLocalBranches(ctx context.Context, dir string) ([]string, error)
	Clone(ctx context.Context, remoteURL string, dest string) error
}

// FileStores hands out the file store of a workspace.
type FileStores interface {
	For(workspaceID string) (*fs.Store, error)
}

// ActionLog records dispatched actions.
type ActionLog interface {
	Append(e auditlog.Entry)
}

type Options struct {
	Logger   *slog.Logger
	State    StateStore
	Registry *registry.Registry
	Files    FileStores
	Git      SyncEngine
	Remote   RemoteClient
	// Completer is optional; without it only the rule table classifies turns.
	Completer llm.Completer
	Model     string
	// Rules defaults to DefaultRules().
	Rules   *RuleSet
	Actions ActionLog
	// Owner is the GitHub account repositories live under. Empty means the token's user.
	Owner string
	// TurnTimeout bounds one ResolveTurn call. <= 0 means no timeout.
	TurnTimeout time.Duration
}

type Router struct {
	log       *slog.Logger
	state     StateStore
	repos     *registry.Registry
	files     FileStores
	git       SyncEngine
	remote    RemoteClient
	completer llm.Completer
	model     string
	rules     *RuleSet
	actions   ActionLog
	timeout   time.Duration

	ownerMu sync.Mutex
	owner   string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(opts Options) (*Router, error) {
	if opts.State == nil {
		return nil, errors.New("missing State")
	}
	if opts.Registry == nil {
		return nil, errors.New("missing Registry")
	}
	if opts.Files == nil {
		return nil, errors.New("missing Files")
	}
	if opts.Git == nil {
		return nil, errors.New("missing Git")
	}
	if opts.Remote == nil {
		return nil, errors.New("missing Remote")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	return &Router{
		log:       logger,
		state:     opts.State,
		repos:     opts.Registry,
		files:     opts.Files,
		git:       opts.Git,
		remote:    opts.Remote,
		completer: opts.Completer,
		model:     strings.TrimSpace(opts.Model),
		rules:     rules,
		actions:   opts.Actions,
		timeout:   opts.TurnTimeout,
		owner:     strings.TrimSpace(opts.Owner),
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// EditorPayload mirrors a read or write into an editing surface.
type EditorPayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Hash    string `json:"hash"`
}

type TurnResult struct {
	Completed         bool           `json:"completed"`
	NeedsInput        bool           `json:"needs_input"`
	PendingActionKind Kind           `json:"pending_action_kind,omitempty"`
	Message           string         `json:"message"`
	EditorPayload     *EditorPayload `json:"editor_payload,omitempty"`
	Data              any            `json:"data,omitempty"`
}

// pendingData is the persisted payload of a pending action.
type pendingData struct {
	Params     Params   `json:"params"`
	Missing    []string `json:"missing,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	Target     string   `json:"target,omitempty"`
	RepoPath   string   `json:"repo_path,omitempty"`
	RepoID     string   `json:"repo_id,omitempty"`
	Files      []string `json:"files,omitempty"`
}

// turn carries per-turn state through the handlers.
type turn struct {
	workspaceID string
	files       *fs.Store
	pending     *statestore.PendingAction
}

// ResolveTurn interprets one user turn for workspaceID. The returned result always carries a
// user-facing message, including when err is non-nil.
func (r *Router) ResolveTurn(ctx context.Context, workspaceID string, rawInput string) (TurnResult, error) {
	return r.withTurn(ctx, workspaceID, func(ctx context.Context, t *turn) (TurnResult, error) {
		text := strings.TrimSpace(rawInput)
		if text == "" {
			return TurnResult{NeedsInput: true, Message: "What would you like to do?"}, nil
		}
		if t.pending != nil && t.pending.Stage == statestore.StageAwaitingConfirmation {
			return r.resolveConfirmation(ctx, t, text)
		}
		c, ok := r.classify(ctx, text, t.pending)
		if !ok {
			if t.pending != nil {
				return r.continuePending(ctx, t, text)
			}
			return TurnResult{
				NeedsInput: true,
				Message:    `I'm not sure what you want to do. Try something like "create repo demo", "push" or "open README.md".`,
			}, nil
		}
		r.log.Debug("turn classified", "workspace_id", t.workspaceID, "action", c.Intent.Action, "source", c.Source, "rule", c.Rule)
		return r.dispatch(ctx, t, c.Intent)
	})
}

// Dispatch runs a structured intent, skipping classification. Pending-action rules apply as
// for ResolveTurn.
func (r *Router) Dispatch(ctx context.Context, workspaceID string, intent Intent) (TurnResult, error) {
	return r.withTurn(ctx, workspaceID, func(ctx context.Context, t *turn) (TurnResult, error) {
		return r.dispatch(ctx, t, intent)
	})
}

// Pending returns the workspace's pending action, or nil.
func (r *Router) Pending(ctx context.Context, workspaceID string) (*statestore.PendingAction, error) {
	if r == nil {
		return nil, errors.New("router not initialized")
	}
	return r.state.GetPendingAction(ctx, strings.TrimSpace(workspaceID))
}

func (r *Router) withTurn(ctx context.Context, workspaceID string, fn func(context.Context, *turn) (TurnResult, error)) (TurnResult, error) {
	if r == nil {
		err := errors.New("router not initialized")
		return TurnResult{Message: UserMessage(err)}, err
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	workspaceID = strings.TrimSpace(workspaceID)

	unlock := r.lockWorkspace(workspaceID)
	defer unlock()

	res, err := func() (TurnResult, error) {
		files, err := r.files.For(workspaceID)
		if err != nil {
			return TurnResult{}, err
		}
		if _, err := r.state.EnsureWorkspace(ctx, workspaceID, files.Resolver().Root()); err != nil {
			return TurnResult{}, err
		}
		pending, err := r.state.GetPendingAction(ctx, workspaceID)
		if err != nil {
			return TurnResult{}, err
		}
		return fn(ctx, &turn{workspaceID: workspaceID, files: files, pending: pending})
	}()
	if err != nil {
		if res.Message == "" {
			res.Message = UserMessage(err)
		}
		res.Completed = false
		r.log.Warn("turn failed", "workspace_id", workspaceID, "error", err)
	}
	return res, err
}

// lockWorkspace serializes turns of one workspace.
func (r *Router) lockWorkspace(workspaceID string) func() {
	r.locksMu.Lock()
	mu, ok := r.locks[workspaceID]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[workspaceID] = mu
	}
	r.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// dispatch validates intent and runs it, persisting a pending action when it cannot finish
// in this turn.
func (r *Router) dispatch(ctx context.Context, t *turn, intent Intent) (TurnResult, error) {
	intent.Action = Kind(strings.ToLower(strings.TrimSpace(string(intent.Action))))
	capab, ok := lookupCapability(intent.Action)
	if !ok {
		return TurnResult{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, intent.Action)
	}
	if t.pending != nil && t.pending.Stage == statestore.StageAwaitingParameters && Kind(t.pending.Kind) == intent.Action {
		intent.Params = intent.Params.merge(decodePendingData(t.pending).Params)
	}

	missing := intent.Params.missing(capab.Required)
	if intent.Action == KindUpdateRepo && len(missing) == 0 && intent.Params.Private == nil && !intent.Params.AddReadme && intent.Params.Description == "" {
		missing = []string{paramPrivate}
	}
	if len(missing) > 0 {
		return r.askForParams(ctx, t, intent, missing, nil)
	}
	if capab.Destructive {
		return r.stageConfirmation(ctx, t, intent)
	}

	res, err := r.execute(ctx, t, intent)
	var need *needParamError
	if errors.As(err, &need) {
		return r.askForParams(ctx, t, intent, []string{need.Field}, need.Candidates)
	}
	r.record(t, intent, res, err)
	if err != nil {
		return res, err
	}
	if res.Completed {
		r.clearSuperseded(ctx, t)
	}
	return res, nil
}

// clearSuperseded drops an awaiting_parameters pending action once any action
// completed. Merge conflicts survive until a successful push of the same repository.
func (r *Router) clearSuperseded(ctx context.Context, t *turn) {
	if t.pending == nil || t.pending.Stage != statestore.StageAwaitingParameters {
		return
	}
	r.clearPending(ctx, t)
}

// needParamError asks the dispatcher to collect one more parameter.
type needParamError struct {
	Field      string
	Candidates []string
}

func (e *needParamError) Error() string {
	return "missing parameter " + e.Field
}

func (r *Router) execute(ctx context.Context, t *turn, intent Intent) (TurnResult, error) {
	p := intent.Params
	switch intent.Action {
	case KindCreateRepo:
		return r.createRepo(ctx, t, p)
	case KindRenameRepo:
		return r.renameRepo(ctx, t, p)
	case KindDeleteRepo:
		return r.stageConfirmation(ctx, t, intent)
	case KindUpdateRepo:
		return r.updateRepo(ctx, p)
	case KindGetRepo:
		return r.getRepo(ctx, p)
	case KindListRepos:
		return r.listRepos(ctx)
	case KindRepoExists:
		return r.repoExists(ctx, p)
	case KindCloneRepo:
		return r.cloneRepo(ctx, t, p)
	case KindPushRepo:
		return r.pushRepo(ctx, t, p)
	case KindCreateBranch:
		return r.createBranch(ctx, t, p)
	case KindListBranches:
		return r.listBranches(ctx, t, p)
	case KindSwitchBranch:
		return r.switchBranch(ctx, t, p)
	case KindListFiles:
		return r.listFiles(ctx, t, p)
	case KindReadFile:
		return r.readFile(ctx, t, p)
	case KindWriteFile:
		return r.writeFile(ctx, t, p)
	case KindUploadFile:
		return r.uploadFile(ctx, t, p)
	case KindMkdir:
		return r.mkdir(ctx, t, p)
	default:
		return TurnResult{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, intent.Action)
	}
}

// askForParams persists an awaiting_parameters pending action and returns the question.
func (r *Router) askForParams(ctx context.Context, t *turn, intent Intent, missing []string, candidates []string) (TurnResult, error) {
	if blocked, res := r.blockedByConflict(t, intent.Action); blocked {
		return res, nil
	}
	data := pendingData{Params: intent.Params, Missing: missing, Candidates: candidates}
	if err := r.putPending(ctx, t, intent.Action, statestore.StageAwaitingParameters, data); err != nil {
		return TurnResult{}, err
	}
	return TurnResult{
		NeedsInput:        true,
		PendingActionKind: intent.Action,
		Message:           clarificationPrompt(intent.Action, missing, candidates),
		Data:              map[string]any{"missing": missing, "candidates": candidates},
	}, nil
}

// blockedByConflict keeps an unresolved merge conflict from being replaced by another
// multi-turn action. Pushing is always allowed since it is how the conflict gets resolved.
func (r *Router) blockedByConflict(t *turn, next Kind) (bool, TurnResult) {
	if t.pending == nil || Kind(t.pending.Kind) != KindMergeConflict || next == KindPushRepo {
		return false, TurnResult{}
	}
	data := decodePendingData(t.pending)
	return true, TurnResult{
		NeedsInput:        true,
		PendingActionKind: KindMergeConflict,
		Message:           fmt.Sprintf("There is an unresolved merge conflict in %s (%s). Resolve it and say \"push\" before starting something new.", strings.Join(data.Files, ", "), data.RepoPath),
		Data:              map[string]any{"files": data.Files, "repo_path": data.RepoPath},
	}
}

func (r *Router) putPending(ctx context.Context, t *turn, kind Kind, stage string, data pendingData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	p := statestore.PendingAction{
		WorkspaceID: t.workspaceID,
		ActionID:    uuid.NewString(),
		Kind:        string(kind),
		Stage:       stage,
		Data:        raw,
	}
	if err := r.state.PutPendingAction(ctx, p); err != nil {
		return err
	}
	t.pending = &p
	return nil
}

func (r *Router) clearPending(ctx context.Context, t *turn) {
	if t.pending == nil {
		return
	}
	if _, err := r.state.DeletePendingActionIf(ctx, t.workspaceID, t.pending.ActionID); err != nil {
		r.log.Warn("clear pending action failed", "workspace_id", t.workspaceID, "error", err)
		return
	}
	t.pending = nil
}

func decodePendingData(p *statestore.PendingAction) pendingData {
	var d pendingData
	if p == nil || len(p.Data) == 0 {
		return d
	}
	_ = json.Unmarshal(p.Data, &d)
	return d
}

// continuePending treats a turn that is not a new command as input for the pending action.
func (r *Router) continuePending(ctx context.Context, t *turn, text string) (TurnResult, error) {
	p := t.pending
	data := decodePendingData(p)
	switch p.Stage {
	case statestore.StageAwaitingParameters:
		kind := Kind(p.Kind)
		params := data.Params
		if len(data.Candidates) > 0 {
			choice := pickCandidate(data.Candidates, text)
			if choice == "" {
				return TurnResult{
					NeedsInput:        true,
					PendingActionKind: kind,
					Message:           clarificationPrompt(kind, data.Missing, data.Candidates),
					Data:              map[string]any{"missing": data.Missing, "candidates": data.Candidates},
				}, nil
			}
			params.Name = choice
		} else {
			filled, ok := fillFromText(kind, params, data.Missing, text)
			if !ok {
				return TurnResult{
					NeedsInput:        true,
					PendingActionKind: kind,
					Message:           clarificationPrompt(kind, data.Missing, nil),
					Data:              map[string]any{"missing": data.Missing},
				}, nil
			}
			params = filled
		}
		return r.dispatch(ctx, t, Intent{Action: kind, Params: params})

	case statestore.StageResolutionNeeded:
		return TurnResult{
			NeedsInput:        true,
			PendingActionKind: KindMergeConflict,
			Message:           conflictMessage(data.RepoPath, data.Files),
			Data:              map[string]any{"files": data.Files, "repo_path": data.RepoPath},
		}, nil

	default:
		r.clearPending(ctx, t)
		return TurnResult{
			NeedsInput: true,
			Message:    `I'm not sure what you want to do. Try something like "create repo demo", "push" or "open README.md".`,
		}, nil
	}
}

// pickCandidate returns the candidate the user named: an exact normalized match, or the
// single candidate containing the text.
func pickCandidate(candidates []string, text string) string {
	q := registry.NormalizeForSearch(singleToken(text))
	if q == "" {
		q = registry.NormalizeForSearch(text)
	}
	if q == "" {
		return ""
	}
	var partial []string
	for _, c := range candidates {
		n := registry.NormalizeForSearch(c)
		if n == q || registry.NormalizeForSearch(lastSegment(c)) == q {
			return c
		}
		if strings.Contains(n, q) {
			partial = append(partial, c)
		}
	}
	if len(partial) == 1 {
		return partial[0]
	}
	return ""
}

func (r *Router) record(t *turn, intent Intent, res TurnResult, err error) {
	if r.actions == nil {
		return
	}
	e := auditlog.Entry{
		WorkspaceID: t.workspaceID,
		Action:      string(intent.Action),
		Status:      auditlog.StatusSuccess,
		Detail:      auditDetail(intent.Params),
	}
	switch {
	case err != nil:
		e.Status = auditlog.StatusFailure
		e.Error = UserMessage(err)
	case res.PendingActionKind == KindMergeConflict:
		e.Status = auditlog.StatusFailure
		e.Error = res.Message
	}
	r.actions.Append(e)
}

// auditDetail keeps identifying parameters only; file contents and upload bytes stay out.
func auditDetail(p Params) map[string]any {
	d := map[string]any{}
	for k, v := range map[string]string{
		paramName: p.Name, paramNewName: p.NewName, paramPath: p.Path, paramBranch: p.Branch,
		paramSource: p.Source, paramFilename: p.Filename, paramTargetDir: p.TargetDir,
	} {
		if v != "" {
			d[k] = v
		}
	}
	if p.Private != nil {
		d[paramPrivate] = *p.Private
	}
	if len(d) == 0 {
		return nil
	}
	return d
}

func lastSegment(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
