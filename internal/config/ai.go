package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// AIConfig configures the optional completion provider used to classify turns that the
// rule table does not recognize.
//
// API keys are never stored here; they live in secrets.json keyed by provider id.
type AIConfig struct {
	Provider *AIProvider `json:"provider,omitempty"`
}

type AIProvider struct {
	// ID is a stable internal id. It keys the provider's API key in secrets.json.
	ID string `json:"id"`

	// Type is one of: "openai" | "anthropic" | "openai_compatible".
	Type string `json:"type"`

	// BaseURL overrides the provider endpoint (example: "https://api.openai.com/v1").
	// When empty, provider defaults apply (except openai_compatible where base_url is required).
	BaseURL string `json:"base_url,omitempty"`

	// Model is the model name sent to the provider.
	Model string `json:"model"`
}

func (c *AIConfig) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	p := c.Provider
	if p == nil {
		return nil
	}

	id := strings.TrimSpace(p.ID)
	if id == "" {
		return errors.New("provider: missing id")
	}
	if strings.Contains(id, "/") {
		return fmt.Errorf("provider: invalid id %q (must not contain /)", id)
	}

	t := strings.TrimSpace(p.Type)
	switch t {
	case "openai", "anthropic", "openai_compatible":
	default:
		return fmt.Errorf("provider: invalid type %q", t)
	}

	baseURL := strings.TrimSpace(p.BaseURL)
	if t == "openai_compatible" && baseURL == "" {
		return errors.New("provider: base_url is required for openai_compatible")
	}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil || u == nil {
			return fmt.Errorf("provider: invalid base_url: %w", err)
		}
		scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
		if scheme != "http" && scheme != "https" {
			return fmt.Errorf("provider: invalid base_url scheme %q", u.Scheme)
		}
		if strings.TrimSpace(u.Host) == "" {
			return errors.New("provider: invalid base_url host")
		}
	}

	if strings.TrimSpace(p.Model) == "" {
		return errors.New("provider: missing model")
	}
	return nil
}

// Enabled reports whether a provider is configured.
func (c *AIConfig) Enabled() bool {
	return c != nil && c.Provider != nil && strings.TrimSpace(c.Provider.ID) != ""
}
