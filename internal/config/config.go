package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the on-disk configuration for repopilot.
//
// Secrets (GitHub token, OAuth client secret, provider API keys) never live here; they are
// kept in secrets.json next to this file.
type Config struct {
	// WorkspaceRoot holds one directory per workspace id.
	WorkspaceRoot string `json:"workspace_root"`

	// StateDir holds the state database, the action log and the process lock.
	// If empty, ~/.repopilot is used.
	StateDir string `json:"state_dir,omitempty"`

	// ListenAddr is the HTTP listen address. Defaults to 127.0.0.1:8787.
	ListenAddr string `json:"listen_addr,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`

	// TurnTimeout bounds one conversational turn (Go duration, default "2m").
	TurnTimeout string `json:"turn_timeout,omitempty"`

	// RulesFile is an optional YAML file of extra routing rules.
	RulesFile string `json:"rules_file,omitempty"`

	GitHub *GitHubConfig `json:"github,omitempty"`
	AI     *AIConfig     `json:"ai,omitempty"`
	Git    *GitConfig    `json:"git,omitempty"`
}

type GitHubConfig struct {
	// APIBaseURL overrides https://api.github.com (GitHub Enterprise).
	APIBaseURL string `json:"api_base_url,omitempty"`
	// OAuthBaseURL overrides https://github.com for the OAuth code exchange.
	OAuthBaseURL string `json:"oauth_base_url,omitempty"`
	// Owner is the account repositories are managed under. Empty means the token's user.
	Owner         string `json:"owner,omitempty"`
	OAuthClientID string `json:"oauth_client_id,omitempty"`
}

type GitConfig struct {
	DefaultBranch string `json:"default_branch,omitempty"`
	AuthorName    string `json:"author_name,omitempty"`
	AuthorEmail   string `json:"author_email,omitempty"`
}

const (
	defaultListenAddr  = "127.0.0.1:8787"
	defaultTurnTimeout = 2 * time.Minute
)

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.WorkspaceRoot) == "" {
		return errors.New("missing workspace_root")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if addr := strings.TrimSpace(c.ListenAddr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid listen_addr: %w", err)
		}
	}
	if v := strings.TrimSpace(c.TurnTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid turn_timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid turn_timeout %q (must be positive)", v)
		}
	}
	if c.GitHub != nil {
		for field, raw := range map[string]string{"api_base_url": c.GitHub.APIBaseURL, "oauth_base_url": c.GitHub.OAuthBaseURL} {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			u, err := url.Parse(strings.TrimSpace(raw))
			if err != nil || u.Host == "" {
				return fmt.Errorf("invalid github.%s %q", field, raw)
			}
			if !strings.EqualFold(u.Scheme, "https") {
				return fmt.Errorf("invalid github.%s %q (https required)", field, raw)
			}
		}
	}
	if c.AI != nil {
		if err := c.AI.Validate(); err != nil {
			return fmt.Errorf("invalid ai: %w", err)
		}
	}
	return nil
}

// EffectiveStateDir returns StateDir, or the directory of the default config file.
func (c *Config) EffectiveStateDir() string {
	if c != nil && strings.TrimSpace(c.StateDir) != "" {
		return filepath.Clean(strings.TrimSpace(c.StateDir))
	}
	return filepath.Dir(DefaultConfigPath())
}

func (c *Config) EffectiveListenAddr() string {
	if c == nil || strings.TrimSpace(c.ListenAddr) == "" {
		return defaultListenAddr
	}
	return strings.TrimSpace(c.ListenAddr)
}

func (c *Config) EffectiveTurnTimeout() time.Duration {
	if c == nil {
		return defaultTurnTimeout
	}
	d, err := time.ParseDuration(strings.TrimSpace(c.TurnTimeout))
	if err != nil || d <= 0 {
		return defaultTurnTimeout
	}
	return d
}

// DefaultConfigPath returns the default config path:
//
//	~/.repopilot/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "repopilot.config.json"
	}
	return filepath.Join(home, ".repopilot", "config.json")
}

// SecretsPath returns the secrets file that sits next to the config file at cfgPath.
func SecretsPath(cfgPath string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(cfgPath)), "secrets.json")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
