package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type OAuthToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// ExchangeCode trades an OAuth authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, clientID string, clientSecret string, code string) (OAuthToken, error) {
	if c == nil {
		return OAuthToken{}, errors.New("github: client not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	clientID = strings.TrimSpace(clientID)
	clientSecret = strings.TrimSpace(clientSecret)
	code = strings.TrimSpace(code)
	if clientID == "" || clientSecret == "" {
		return OAuthToken{}, errors.New("github: oauth client is not configured")
	}
	if code == "" {
		return OAuthToken{}, errors.New("github: missing authorization code")
	}

	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("code", code)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauthBase+"/login/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return OAuthToken{}, fmt.Errorf("github: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return OAuthToken{}, fmt.Errorf("github: oauth exchange: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return OAuthToken{}, fmt.Errorf("github: reading oauth response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return OAuthToken{}, parseRemoteError(resp.StatusCode, raw)
	}

	// GitHub reports exchange failures with 200 and an error field.
	var payload struct {
		OAuthToken
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return OAuthToken{}, fmt.Errorf("github: decoding oauth response: %w", err)
	}
	if payload.Error != "" {
		msg := payload.ErrorDescription
		if msg == "" {
			msg = payload.Error
		}
		return OAuthToken{}, &RemoteError{StatusCode: http.StatusBadRequest, Message: msg}
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return OAuthToken{}, &RemoteError{StatusCode: http.StatusBadGateway, Message: "oauth response did not include a token"}
	}
	return payload.OAuthToken, nil
}
