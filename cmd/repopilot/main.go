package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/floegence/repopilot/internal/agent"
	"github.com/floegence/repopilot/internal/config"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

const defaultWorkspace = "local"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "secret":
		secretCmd(os.Args[2:])
	case "run":
		runCmd(os.Args[2:])
	case "turn":
		turnCmd(os.Args[2:])
	case "chat":
		chatCmd(os.Args[2:])
	case "version":
		fmt.Printf("repopilot %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `repopilot

Usage:
  repopilot init --workspace-root DIR [flags]
  repopilot secret set github-token|oauth-client-secret|ai-key [provider-id]
  repopilot run [flags]
  repopilot turn [flags] <text>
  repopilot chat [flags]
  repopilot version

Commands:
  init     Write a config file.
  secret   Store a credential in secrets.json (value is read from stdin).
  run      Serve the HTTP API.
  turn     Resolve a single conversational turn and print the reply.
  chat     Resolve turns interactively.
  version  Print build information.

`)
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	force := fs.Bool("force", false, "Overwrite an existing config file")

	workspaceRoot := fs.String("workspace-root", "", "Directory holding one folder per workspace (required)")
	listen := fs.String("listen", "", "HTTP listen address (empty: 127.0.0.1:8787)")
	logFormat := fs.String("log-format", "", "Log format: json|text (empty: default json)")
	logLevel := fs.String("log-level", "", "Log level: debug|info|warn|error (empty: default info)")
	rulesFile := fs.String("rules", "", "YAML file of extra routing rules (optional)")

	owner := fs.String("github-owner", "", "GitHub account repositories are managed under (empty: the token's user)")
	clientID := fs.String("oauth-client-id", "", "GitHub OAuth app client id (optional)")

	providerType := fs.String("ai-provider", "", "Model provider: openai|anthropic|openai_compatible (optional)")
	model := fs.String("ai-model", "", "Model name (required with --ai-provider)")
	baseURL := fs.String("ai-base-url", "", "Provider base URL (required for openai_compatible)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*workspaceRoot) == "" {
		fs.Usage()
		os.Exit(2)
	}
	path := filepath.Clean(*cfgPath)
	if _, err := os.Stat(path); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "%s already exists (use --force to overwrite)\n", path)
		os.Exit(1)
	}

	root, err := filepath.Abs(*workspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --workspace-root: %v\n", err)
		os.Exit(2)
	}
	cfg := &config.Config{
		WorkspaceRoot: root,
		ListenAddr:    strings.TrimSpace(*listen),
		LogFormat:     strings.TrimSpace(*logFormat),
		LogLevel:      strings.TrimSpace(*logLevel),
		RulesFile:     strings.TrimSpace(*rulesFile),
	}
	if strings.TrimSpace(*owner) != "" || strings.TrimSpace(*clientID) != "" {
		cfg.GitHub = &config.GitHubConfig{Owner: strings.TrimSpace(*owner), OAuthClientID: strings.TrimSpace(*clientID)}
	}
	if t := strings.TrimSpace(*providerType); t != "" {
		cfg.AI = &config.AIConfig{Provider: &config.AIProvider{
			ID:      t,
			Type:    t,
			BaseURL: strings.TrimSpace(*baseURL),
			Model:   strings.TrimSpace(*model),
		}}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}
	if err := config.Save(path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s.\n", path)
	if cfg.AI.Enabled() {
		fmt.Printf("Store the provider key with `repopilot secret set ai-key %s`.\n", cfg.AI.Provider.ID)
	}
	fmt.Printf("Store a GitHub token with `repopilot secret set github-token`, then run `repopilot run`.\n")
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	listen := fs.String("listen", "", "HTTP listen address (overrides listen_addr)")
	_ = fs.Parse(args)

	cfg, path := loadConfig(*cfgPath)
	if strings.TrimSpace(*listen) != "" {
		cfg.ListenAddr = strings.TrimSpace(*listen)
	}

	a := newAgent(cfg, path)
	defer func() { _ = a.Close() }()

	ctx, cancel := signalContext()
	defer cancel()

	printWelcomeBanner(os.Stderr, welcomeBannerOptions{
		Version:    Version,
		ListenAddr: cfg.EffectiveListenAddr(),
	})

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "repopilot exited with error: %v\n", err)
		os.Exit(1)
	}
}

func turnCmd(args []string) {
	fs := flag.NewFlagSet("turn", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	workspace := fs.String("workspace", defaultWorkspace, "Workspace id")
	_ = fs.Parse(args)

	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		fs.Usage()
		os.Exit(2)
	}

	cfg, path := loadConfig(*cfgPath)
	a := newAgent(cfg, path)
	defer func() { _ = a.Close() }()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := a.Router().ResolveTurn(ctx, *workspace, text)
	printResult(os.Stdout, res, false)
	if err != nil {
		_ = a.Close()
		os.Exit(1)
	}
}

func chatCmd(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	workspace := fs.String("workspace", defaultWorkspace, "Workspace id")
	_ = fs.Parse(args)

	cfg, path := loadConfig(*cfgPath)
	a := newAgent(cfg, path)
	defer func() { _ = a.Close() }()

	ctx, cancel := signalContext()
	defer cancel()

	if err := runChat(ctx, a.Router(), *workspace, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "chat: %v\n", err)
		_ = a.Close()
		os.Exit(1)
	}
}

func loadConfig(raw string) (*config.Config, string) {
	path := filepath.Clean(raw)
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Hint: run `repopilot init --workspace-root DIR` first.\n")
		}
		os.Exit(1)
	}
	return cfg, path
}

func newAgent(cfg *config.Config, cfgPath string) *agent.Agent {
	a, err := agent.New(agent.Options{
		Config:     cfg,
		ConfigPath: cfgPath,
		Version:    Version,
		Commit:     Commit,
		BuildTime:  BuildTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init repopilot: %v\n", err)
		os.Exit(1)
	}
	return a
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
