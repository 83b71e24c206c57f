package llm

import (
	"context"
	"strings"

	openai "github.com/openai/openai-go"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
)

type openAICompleter struct {
	client openai.Client
}

func (p *openAICompleter) Complete(ctx context.Context, req Request) (string, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		return "", err
	}
	params := oresponses.ResponseNewParams{
		Model:           oshared.ResponsesModel(req.Model),
		Input:           oresponses.ResponseNewParamsInputUnion{OfString: openai.String(req.Prompt)},
		MaxOutputTokens: openai.Int(int64(req.MaxTokens)),
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				out.WriteString(part.Text)
			}
		}
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
