package router

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/floegence/repopilot/internal/auditlog"
	"github.com/floegence/repopilot/internal/fs"
	"github.com/floegence/repopilot/internal/github"
	"github.com/floegence/repopilot/internal/gitsync"
	"github.com/floegence/repopilot/internal/llm"
	"github.com/floegence/repopilot/internal/registry"
	"github.com/floegence/repopilot/internal/statestore"
)

const testWorkspace = "u1"

type fakeRemote struct {
	mu        sync.Mutex
	login     string
	repos     map[string]github.Repo
	deleted   []string
	renamed   [][2]string
	branches  map[string][]github.Branch
	deleteErr error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{login: "octo", repos: map[string]github.Repo{}, branches: map[string][]github.Branch{}}
}

func (f *fakeRemote) repo(name string) github.Repo {
	return github.Repo{
		Name:          name,
		FullName:      f.login + "/" + name,
		CloneURL:      "https://github.com/" + f.login + "/" + name + ".git",
		HTMLURL:       "https://github.com/" + f.login + "/" + name,
		DefaultBranch: "main",
		Owner:         github.Owner{Login: f.login},
	}
}

func notFound() error {
	return &github.RemoteError{StatusCode: http.StatusNotFound, Message: "Not Found"}
}

func (f *fakeRemote) Viewer(ctx context.Context) (github.User, error) {
	return github.User{Login: f.login}, nil
}

func (f *fakeRemote) CreateRepo(ctx context.Context, opts github.CreateRepoOptions) (github.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.repos[opts.Name]; ok {
		return github.Repo{}, &github.RemoteError{StatusCode: http.StatusUnprocessableEntity, Message: "name already exists on this account"}
	}
	r := f.repo(opts.Name)
	r.Private = opts.Private
	r.Description = opts.Description
	f.repos[opts.Name] = r
	return r, nil
}

func (f *fakeRemote) RenameRepo(ctx context.Context, owner string, oldName string, newName string) (github.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.repos[oldName]; !ok {
		return github.Repo{}, notFound()
	}
	delete(f.repos, oldName)
	r := f.repo(newName)
	f.repos[newName] = r
	f.renamed = append(f.renamed, [2]string{oldName, newName})
	return r, nil
}

func (f *fakeRemote) DeleteRepo(ctx context.Context, owner string, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.repos[name]; !ok {
		return notFound()
	}
	delete(f.repos, name)
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeRemote) GetRepo(ctx context.Context, owner string, name string) (github.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.repos[name]
	if !ok {
		return github.Repo{}, notFound()
	}
	return r, nil
}

func (f *fakeRemote) RepoExists(ctx context.Context, owner string, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.repos[name]
	return ok, nil
}

func (f *fakeRemote) ListRepos(ctx context.Context, owner string) ([]github.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]github.Repo, 0, len(f.repos))
	for _, r := range f.repos {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRemote) UpdateRepo(ctx context.Context, owner string, name string, opts github.UpdateRepoOptions) (github.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.repos[name]
	if !ok {
		return github.Repo{}, notFound()
	}
	if opts.Private != nil {
		r.Private = *opts.Private
	}
	f.repos[name] = r
	return r, nil
}

func (f *fakeRemote) CreateBranch(ctx context.Context, owner string, repo string, name string, sourceSHA string) (github.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := github.Branch{Name: name}
	b.Commit.SHA = sourceSHA
	f.branches[repo] = append(f.branches[repo], b)
	var ref github.Ref
	ref.Ref = "refs/heads/" + name
	ref.Object.SHA = sourceSHA
	return ref, nil
}

func (f *fakeRemote) ListBranches(ctx context.Context, owner string, repo string) ([]github.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]github.Branch{{Name: "main"}}, f.branches[repo]...), nil
}

func (f *fakeRemote) BranchSHA(ctx context.Context, owner string, repo string, branch string) (string, error) {
	return "sha-" + branch, nil
}

type syncStep struct {
	res gitsync.SyncResult
	err error
}

type fakeGit struct {
	mu       sync.Mutex
	steps    []syncStep
	synced   []string
	cloned   []string
	switched []string
}

func (g *fakeGit) EnsureIdentity(ctx context.Context, dir string) error { return nil }

func (g *fakeGit) SmartSync(ctx context.Context, dir string, message string) (gitsync.SyncResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.synced = append(g.synced, dir)
	if len(g.steps) == 0 {
		return gitsync.SyncResult{Commit: "0123456789abcdef", Branch: "main", Committed: true}, nil
	}
	step := g.steps[0]
	g.steps = g.steps[1:]
	return step.res, step.err
}

func (g *fakeGit) SwitchBranch(ctx context.Context, dir string, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.switched = append(g.switched, name)
	return nil
}

func (g *fakeGit) ListLocalBranches(ctx context.Context, dir string) ([]string, error) {
	return []string{"main"}, nil
}

func (g *fakeGit) Clone(ctx context.Context, remoteURL string, dest string) error {
	g.mu.Lock()
	g.cloned = append(g.cloned, remoteURL)
	g.mu.Unlock()
	return os.MkdirAll(filepath.Join(dest, ".git"), 0o755)
}

type fakeCompleter struct {
	reply string
	err   error
	calls int
}

func (c *fakeCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.calls++
	return c.reply, c.err
}

type memActionLog struct {
	mu      sync.Mutex
	entries []auditlog.Entry
}

func (l *memActionLog) Append(e auditlog.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

type harness struct {
	r       *Router
	db      *statestore.Store
	repos   *registry.Registry
	files   *fs.Store
	remote  *fakeRemote
	git     *fakeGit
	actions *memActionLog
	root    string
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	db, err := statestore.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("statestore.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ws, err := fs.NewWorkspaces(fs.WorkspacesOptions{Base: t.TempDir(), Tracker: db})
	if err != nil {
		t.Fatalf("NewWorkspaces: %v", err)
	}
	files, err := ws.For(testWorkspace)
	if err != nil {
		t.Fatalf("Workspaces.For: %v", err)
	}
	h := &harness{
		db:      db,
		repos:   registry.New(db),
		files:   files,
		remote:  newFakeRemote(),
		git:     &fakeGit{},
		actions: &memActionLog{},
		root:    files.Resolver().Root(),
	}
	opts := Options{
		State:    db,
		Registry: h.repos,
		Files:    ws,
		Git:      h.git,
		Remote:   h.remote,
		Actions:  h.actions,
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.r, err = New(opts)
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	return h
}

func (h *harness) turn(t *testing.T, text string) TurnResult {
	t.Helper()
	res, err := h.r.ResolveTurn(context.Background(), testWorkspace, text)
	if err != nil {
		t.Fatalf("ResolveTurn(%q): %v", text, err)
	}
	return res
}

func (h *harness) pending(t *testing.T) *statestore.PendingAction {
	t.Helper()
	p, err := h.db.GetPendingAction(context.Background(), testWorkspace)
	if err != nil {
		t.Fatalf("GetPendingAction: %v", err)
	}
	return p
}

// addRepo registers a repository and gives it a working copy on disk.
func (h *harness) addRepo(t *testing.T, name string, localPath string) *statestore.Repository {
	t.Helper()
	rec, err := h.repos.Create(context.Background(), statestore.Repository{
		WorkspaceID: testWorkspace,
		Name:        name,
		URL:         "https://github.com/octo/" + name + ".git",
		LocalPath:   localPath,
		Cloned:      true,
	})
	if err != nil {
		t.Fatalf("registry.Create: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(h.root, localPath, ".git"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	h.remote.mu.Lock()
	h.remote.repos[name] = h.remote.repo(name)
	h.remote.mu.Unlock()
	return rec
}
