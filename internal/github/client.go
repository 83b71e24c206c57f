// Package github is a small typed client for the GitHub REST endpoints repopilot drives:
// repositories, branches and the OAuth code exchange.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	apiVersion       = "2022-11-28"
	defaultBaseURL   = "https://api.github.com"
	defaultOAuthBase = "https://github.com"
	maxResponseBytes = 8 << 20
)

type Config struct {
	// BaseURL defaults to https://api.github.com. Must use HTTPS.
	BaseURL string
	// OAuthBaseURL hosts /login/oauth/access_token. Defaults to https://github.com.
	OAuthBaseURL string
	// Token returns the current access token. It is read on every request so a token
	// obtained through the OAuth exchange takes effect without rebuilding the client.
	Token      func() string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	baseURL    string
	oauthBase  string
	token      func() string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("github: API client requires HTTPS (got %q)", baseURL)
	}
	oauthBase := strings.TrimRight(strings.TrimSpace(cfg.OAuthBaseURL), "/")
	if oauthBase == "" {
		oauthBase = defaultOAuthBase
	}
	if !strings.HasPrefix(oauthBase, "https://") {
		return nil, fmt.Errorf("github: OAuth endpoint requires HTTPS (got %q)", oauthBase)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	token := cfg.Token
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{baseURL: baseURL, oauthBase: oauthBase, token: token, httpClient: hc, log: logger}, nil
}

// ErrNoToken is returned when an API call is attempted before a token is configured.
var ErrNoToken = errors.New("github: not authenticated")

// HasToken reports whether a token is currently available.
func (c *Client) HasToken() bool {
	return c != nil && strings.TrimSpace(c.token()) != ""
}

func (c *Client) do(ctx context.Context, method string, path string, reqBody any, out any) error {
	if c == nil {
		return errors.New("github: client not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tok := strings.TrimSpace(c.token())
	if tok == "" {
		return ErrNoToken
	}

	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("github: encoding request body: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("github: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("github: reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rerr := parseRemoteError(resp.StatusCode, raw)
		c.log.Debug("github request failed", "method", method, "path", path, "status", resp.StatusCode, "message", rerr.Message)
		return rerr
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("github: decoding %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in any, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) patch(ctx context.Context, path string, in any, out any) error {
	return c.do(ctx, http.MethodPatch, path, in, out)
}

func (c *Client) put(ctx context.Context, path string, in any, out any) error {
	return c.do(ctx, http.MethodPut, path, in, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}
