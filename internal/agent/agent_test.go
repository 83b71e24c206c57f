package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/floegence/repopilot/internal/config"
	"github.com/floegence/repopilot/internal/lockfile"
	"github.com/floegence/repopilot/internal/settings"
)

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		WorkspaceRoot: filepath.Join(dir, "workspaces"),
		StateDir:      filepath.Join(dir, "state"),
		LogFormat:     "text",
	}
	return cfg, filepath.Join(dir, "config.json")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewResolvesTurns(t *testing.T) {
	t.Parallel()
	cfg, cfgPath := testConfig(t)

	a, err := New(Options{Config: cfg, ConfigPath: cfgPath, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	res, err := a.Router().ResolveTurn(context.Background(), "u1", "create a repo")
	if err != nil {
		t.Fatalf("ResolveTurn: %v", err)
	}
	if !res.NeedsInput || res.PendingActionKind != "create_repo" {
		t.Fatalf("res=%+v", res)
	}
}

func TestNewRejectsSecondProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("lock semantics differ on windows")
	}
	t.Parallel()
	cfg, cfgPath := testConfig(t)

	a, err := New(Options{Config: cfg, ConfigPath: cfgPath, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	_, err = New(Options{Config: cfg, ConfigPath: cfgPath, Logger: quietLogger()})
	if !errors.Is(err, lockfile.ErrAlreadyLocked) {
		t.Fatalf("second New err=%v, want ErrAlreadyLocked", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	b, err := New(Options{Config: cfg, ConfigPath: cfgPath, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New after Close: %v", err)
	}
	_ = b.Close()
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	if _, err := New(Options{Config: &config.Config{}}); err == nil {
		t.Fatalf("expected error for missing workspace_root")
	}
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestModelWithoutKeyFallsBackToRules(t *testing.T) {
	t.Parallel()
	cfg, cfgPath := testConfig(t)
	cfg.AI = &config.AIConfig{Provider: &config.AIProvider{ID: "main", Type: "openai", Model: "gpt-4o-mini"}}

	a, err := New(Options{Config: cfg, ConfigPath: cfgPath, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if a.auth.modelConfigured {
		t.Fatalf("model configured without an api key")
	}
}

func TestOAuthStoresToken(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != "good" || r.PostForm.Get("client_secret") != "s3cret" {
			_, _ = io.WriteString(w, `{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"gho_abc","token_type":"bearer","scope":"repo"}`)
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_abc" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message":"Bad credentials"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"login":"octo"}`)
	})
	ts := httptest.NewTLSServer(mux)
	t.Cleanup(ts.Close)

	cfg, cfgPath := testConfig(t)
	cfg.GitHub = &config.GitHubConfig{APIBaseURL: ts.URL, OAuthBaseURL: ts.URL, OAuthClientID: "client-1"}
	secrets := settings.NewSecretsStore(config.SecretsPath(cfgPath))
	if err := secrets.SetOAuthClientSecret("s3cret"); err != nil {
		t.Fatalf("SetOAuthClientSecret: %v", err)
	}

	a, err := New(Options{Config: cfg, ConfigPath: cfgPath, Logger: quietLogger(), HTTPClient: ts.Client()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	st, err := a.auth.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.GitHubConnected || !st.OAuthConfigured || st.OAuthClientID != "client-1" {
		t.Fatalf("status before sign-in=%+v", st)
	}

	if _, err := a.auth.CompleteOAuth(context.Background(), "bad"); err == nil {
		t.Fatalf("expected error for a rejected code")
	}

	st, err = a.auth.CompleteOAuth(context.Background(), "good")
	if err != nil {
		t.Fatalf("CompleteOAuth: %v", err)
	}
	if !st.GitHubConnected || st.Login != "octo" {
		t.Fatalf("status after sign-in=%+v", st)
	}
	tok, ok, err := secrets.GitHubToken()
	if err != nil || !ok || tok != "gho_abc" {
		t.Fatalf("stored token=%q ok=%v err=%v", tok, ok, err)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		format, level string
		ok            bool
	}{
		{"", "", true},
		{"json", "debug", true},
		{"text", "warning", true},
		{"xml", "info", false},
		{"json", "trace", false},
	} {
		_, err := newLogger(tc.format, tc.level)
		if (err == nil) != tc.ok {
			t.Fatalf("newLogger(%q, %q) err=%v, want ok=%v", tc.format, tc.level, err, tc.ok)
		}
	}
}
