// Package llm wraps the chat-model providers used to turn free text into structured intents.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
)

const defaultMaxOutputTokens = 1024

// Request is a single-shot completion: one system instruction and one user prompt.
type Request struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
}

// Completer returns the model's text reply for req.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrEmptyResponse is returned when the provider replies without any text.
var ErrEmptyResponse = errors.New("empty model response")

// NewCompleter builds a provider adapter. providerType is one of openai, openai_compatible
// or anthropic.
func NewCompleter(providerType string, baseURL string, apiKey string) (Completer, error) {
	providerType = strings.ToLower(strings.TrimSpace(providerType))
	baseURL = strings.TrimSpace(baseURL)
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("missing provider api key")
	}
	switch providerType {
	case "openai", "openai_compatible":
		if providerType == "openai_compatible" && baseURL == "" {
			return nil, errors.New("openai_compatible provider requires base_url")
		}
		opts := []ooption.RequestOption{ooption.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, ooption.WithBaseURL(baseURL))
		}
		return &openAICompleter{client: openai.NewClient(opts...)}, nil
	case "anthropic":
		opts := []aoption.RequestOption{aoption.WithAPIKey(apiKey)}
		if baseURL != "" {
			opts = append(opts, aoption.WithBaseURL(baseURL))
		}
		return &anthropicCompleter{client: anthropic.NewClient(opts...)}, nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", providerType)
	}
}

func normalizeRequest(req Request) (Request, error) {
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" {
		return Request{}, errors.New("missing model")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return Request{}, errors.New("missing prompt")
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxOutputTokens
	}
	req.System = strings.TrimSpace(req.System)
	return req, nil
}
