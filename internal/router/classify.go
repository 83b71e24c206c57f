package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/floegence/repopilot/internal/llm"
	"github.com/floegence/repopilot/internal/statestore"
)

const (
	intentSourceRule  = "rule"
	intentSourceModel = "model"

	classifierMaxTokens = 512
)

type classified struct {
	Intent Intent
	Source string
	Rule   string
}

// classify resolves text to an intent: rule table first, then the completion provider.
// ok is false when neither produced an action.
func (r *Router) classify(ctx context.Context, text string, pending *statestore.PendingAction) (classified, bool) {
	if intent, rule, ok := r.rules.Match(text); ok {
		return classified{Intent: intent, Source: intentSourceRule, Rule: rule}, true
	}
	if r.completer == nil || strings.TrimSpace(r.model) == "" {
		return classified{}, false
	}

	reply, err := r.completer.Complete(ctx, llm.Request{
		Model:     r.model,
		System:    classifierSystemPrompt(),
		Prompt:    classifierUserPrompt(text, pending),
		MaxTokens: classifierMaxTokens,
	})
	if err != nil {
		r.log.Warn("intent classification failed", "error", err)
		return classified{}, false
	}
	intent, ok, err := parseModelIntent(reply)
	if err != nil {
		r.log.Debug("intent classification unparsable", "error", err)
		return classified{}, false
	}
	if !ok {
		return classified{}, false
	}
	return classified{Intent: intent, Source: intentSourceModel}, true
}

// parseModelIntent decodes {"action": "...", "params": {...}}. "none" or an empty action
// means the turn is not a new command.
func parseModelIntent(reply string) (Intent, bool, error) {
	var payload struct {
		Action string         `json:"action"`
		Params map[string]any `json:"params"`
	}
	if err := llm.DecodeJSON(reply, &payload); err != nil {
		return Intent{}, false, err
	}
	action := strings.ToLower(strings.TrimSpace(payload.Action))
	if action == "" || action == "none" || action == "null" {
		return Intent{}, false, nil
	}
	return Intent{Action: Kind(action), Params: paramsFromMap(payload.Params)}, true, nil
}

func classifierSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You map one user message to a repository or workspace action.\n")
	b.WriteString("Reply with a single JSON object and nothing else: {\"action\": \"<action>\", \"params\": {...}}.\n")
	b.WriteString("Only include parameter values the user explicitly stated. Never invent names.\n")
	b.WriteString("If the message is not a command (for example it answers an earlier question), reply {\"action\": \"none\"}.\n")
	b.WriteString("Actions:\n")
	for _, k := range Kinds() {
		fmt.Fprintf(&b, "- %s: %s\n", k, capabilities[k].Summary)
	}
	return b.String()
}

func classifierUserPrompt(text string, pending *statestore.PendingAction) string {
	var b strings.Builder
	if pending != nil {
		fmt.Fprintf(&b, "A previous %s action is waiting (%s).\n", pending.Kind, pending.Stage)
	}
	b.WriteString("User message:\n")
	b.WriteString(strings.TrimSpace(text))
	return b.String()
}
