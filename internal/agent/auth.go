package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/floegence/repopilot/internal/api"
	"github.com/floegence/repopilot/internal/github"
	"github.com/floegence/repopilot/internal/settings"
)

// githubAuth backs the API's sign-in endpoints with the secrets store.
type githubAuth struct {
	log             *slog.Logger
	gh              *github.Client
	secrets         *settings.SecretsStore
	clientID        string
	modelConfigured bool
}

func (g *githubAuth) Status(ctx context.Context) (api.AuthStatus, error) {
	st := api.AuthStatus{
		OAuthClientID:   g.clientID,
		ModelConfigured: g.modelConfigured,
	}
	tok, hasToken, err := g.secrets.GitHubToken()
	if err != nil {
		return api.AuthStatus{}, err
	}
	_, hasSecret, err := g.secrets.OAuthClientSecret()
	if err != nil {
		return api.AuthStatus{}, err
	}
	st.OAuthConfigured = g.clientID != "" && hasSecret
	if !hasToken || strings.TrimSpace(tok) == "" {
		return st, nil
	}

	u, err := g.gh.Viewer(ctx)
	if err != nil {
		if github.IsUnauthorized(err) {
			// Revoked or expired token.
			return st, nil
		}
		g.log.Warn("github viewer lookup failed", "error", err)
		st.GitHubConnected = true
		return st, nil
	}
	st.GitHubConnected = true
	st.Login = u.Login
	return st, nil
}

// CompleteOAuth exchanges the authorization code and stores the resulting token.
func (g *githubAuth) CompleteOAuth(ctx context.Context, code string) (api.AuthStatus, error) {
	if g.clientID == "" {
		return api.AuthStatus{}, errors.New("github oauth_client_id is not configured")
	}
	secret, ok, err := g.secrets.OAuthClientSecret()
	if err != nil {
		return api.AuthStatus{}, err
	}
	if !ok {
		return api.AuthStatus{}, errors.New("github oauth client secret is not configured")
	}
	tok, err := g.gh.ExchangeCode(ctx, g.clientID, secret, code)
	if err != nil {
		return api.AuthStatus{}, err
	}
	if err := g.secrets.SetGitHubToken(tok.AccessToken); err != nil {
		return api.AuthStatus{}, err
	}
	g.log.Info("github account connected", "scope", tok.Scope)
	return g.Status(ctx)
}
