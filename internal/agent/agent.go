package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/floegence/repopilot/internal/api"
	"github.com/floegence/repopilot/internal/auditlog"
	"github.com/floegence/repopilot/internal/config"
	"github.com/floegence/repopilot/internal/fs"
	"github.com/floegence/repopilot/internal/github"
	"github.com/floegence/repopilot/internal/gitsync"
	"github.com/floegence/repopilot/internal/llm"
	"github.com/floegence/repopilot/internal/lockfile"
	"github.com/floegence/repopilot/internal/registry"
	"github.com/floegence/repopilot/internal/router"
	"github.com/floegence/repopilot/internal/settings"
	"github.com/floegence/repopilot/internal/statestore"
)

const (
	lockFileName  = "repopilot.lock"
	stateFileName = "state.sqlite"
)

type Options struct {
	Config *config.Config
	// ConfigPath is the path used to load the config file (used to locate secrets.json).
	ConfigPath string
	// Logger overrides the logger built from log_format and log_level.
	Logger *slog.Logger
	// HTTPClient is used for GitHub calls. Nil uses the client's default.
	HTTPClient *http.Client

	Version   string
	Commit    string
	BuildTime string
}

// Agent owns every long-lived component of a repopilot process.
type Agent struct {
	cfg *config.Config
	log *slog.Logger

	version   string
	commit    string
	buildTime string

	stateDir   string
	httpClient *http.Client
	secrets    *settings.SecretsStore
	lock       *lockfile.Lock
	db         *statestore.Store
	audit      *auditlog.Log
	gh         *github.Client
	router     *router.Router
	auth       *githubAuth
}

func New(opts Options) (*Agent, error) {
	if opts.Config == nil {
		return nil, errors.New("missing config")
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = newLogger(strings.TrimSpace(cfg.LogFormat), strings.TrimSpace(cfg.LogLevel))
		if err != nil {
			return nil, err
		}
	}

	cfgPath := strings.TrimSpace(opts.ConfigPath)
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfgPathAbs, err := filepath.Abs(cfgPath)
	if err != nil {
		return nil, err
	}
	stateDir, err := filepath.Abs(cfg.EffectiveStateDir())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	a := &Agent{
		cfg:        cfg,
		log:        logger,
		version:    strings.TrimSpace(opts.Version),
		commit:     strings.TrimSpace(opts.Commit),
		buildTime:  strings.TrimSpace(opts.BuildTime),
		stateDir:   stateDir,
		httpClient: opts.HTTPClient,
		secrets:    settings.NewSecretsStore(config.SecretsPath(cfgPathAbs)),
	}
	if err := a.init(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Agent) init() error {
	lock, err := lockfile.Acquire(filepath.Join(a.stateDir, lockFileName))
	if err != nil {
		if errors.Is(err, lockfile.ErrAlreadyLocked) {
			return fmt.Errorf("another repopilot process is using %s: %w", a.stateDir, err)
		}
		return err
	}
	a.lock = lock

	db, err := statestore.Open(filepath.Join(a.stateDir, stateFileName))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	a.db = db

	audit, err := auditlog.New(auditlog.Options{Logger: a.log, StateDir: a.stateDir})
	if err != nil {
		return fmt.Errorf("open action log: %w", err)
	}
	a.audit = audit

	files, err := fs.NewWorkspaces(fs.WorkspacesOptions{
		Logger:  a.log,
		Base:    a.cfg.WorkspaceRoot,
		Tracker: db,
	})
	if err != nil {
		return fmt.Errorf("init workspaces: %w", err)
	}

	ghCfg := a.cfg.GitHub
	if ghCfg == nil {
		ghCfg = &config.GitHubConfig{}
	}
	gh, err := github.NewClient(github.Config{
		BaseURL:      ghCfg.APIBaseURL,
		OAuthBaseURL: ghCfg.OAuthBaseURL,
		Token:        a.githubToken,
		HTTPClient:   a.httpClient,
		Logger:       a.log,
	})
	if err != nil {
		return fmt.Errorf("init github client: %w", err)
	}
	a.gh = gh

	gitCfg := a.cfg.Git
	if gitCfg == nil {
		gitCfg = &config.GitConfig{}
	}
	engine := gitsync.New(gitsync.Options{
		Logger:        a.log,
		DefaultBranch: gitCfg.DefaultBranch,
		AuthorName:    gitCfg.AuthorName,
		AuthorEmail:   gitCfg.AuthorEmail,
		Token:         a.githubToken,
	})

	rules := router.DefaultRules()
	if path := strings.TrimSpace(a.cfg.RulesFile); path != "" {
		rules, err = router.LoadRules(path)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
	}

	completer, model := a.newCompleter()

	rt, err := router.New(router.Options{
		Logger:      a.log,
		State:       db,
		Registry:    registry.New(db),
		Files:       files,
		Git:         engine,
		Remote:      gh,
		Completer:   completer,
		Model:       model,
		Rules:       rules,
		Actions:     audit,
		Owner:       ghCfg.Owner,
		TurnTimeout: a.cfg.EffectiveTurnTimeout(),
	})
	if err != nil {
		return fmt.Errorf("init router: %w", err)
	}
	a.router = rt

	a.auth = &githubAuth{
		log:             a.log,
		gh:              gh,
		secrets:         a.secrets,
		clientID:        strings.TrimSpace(ghCfg.OAuthClientID),
		modelConfigured: completer != nil,
	}
	return nil
}

// newCompleter returns nil when no provider is configured or its key is missing;
// turns are then classified by the rule table alone.
func (a *Agent) newCompleter() (llm.Completer, string) {
	if !a.cfg.AI.Enabled() {
		return nil, ""
	}
	p := a.cfg.AI.Provider
	key, ok, err := a.secrets.GetAIProviderAPIKey(p.ID)
	if err != nil {
		a.log.Warn("read provider api key failed", "provider_id", p.ID, "error", err)
		return nil, ""
	}
	if !ok {
		a.log.Warn("provider api key not set; using rules only", "provider_id", p.ID)
		return nil, ""
	}
	c, err := llm.NewCompleter(p.Type, p.BaseURL, key)
	if err != nil {
		a.log.Warn("init model provider failed; using rules only", "provider_id", p.ID, "error", err)
		return nil, ""
	}
	return c, strings.TrimSpace(p.Model)
}

func (a *Agent) githubToken() string {
	tok, _, err := a.secrets.GitHubToken()
	if err != nil {
		a.log.Warn("read github token failed", "error", err)
		return ""
	}
	return tok
}

// Router exposes the turn resolver for one-shot and interactive use.
func (a *Agent) Router() *router.Router {
	if a == nil {
		return nil
	}
	return a.router
}

// Run serves the HTTP API until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	if a == nil || a.router == nil {
		return errors.New("agent not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	a.log.Info("repopilot starting",
		"version", a.version,
		"commit", a.commit,
		"build_time", a.buildTime,
		"workspace_root", a.cfg.WorkspaceRoot,
		"state_dir", a.stateDir,
		"model_configured", a.auth.modelConfigured,
	)

	srv, err := api.New(api.Options{
		Logger:  a.log,
		Addr:    a.cfg.EffectiveListenAddr(),
		Router:  a.router,
		Actions: a.audit,
		Auth:    a.auth,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	<-ctx.Done()
	a.log.Info("repopilot stopping")
	return nil
}

// Close releases the state store and the process lock. Safe to call more than once.
func (a *Agent) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Release())
		a.lock = nil
	}
	return errors.Join(errs...)
}

func newLogger(format string, level string) (*slog.Logger, error) {
	var h slog.Handler

	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}
