package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON parses a model reply into v. Replies wrapped in markdown fences or surrounded
// by prose are accepted as long as they contain one JSON object.
func DecodeJSON(raw string, v any) error {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return ErrEmptyResponse
	}
	if strings.HasPrefix(candidate, "```") {
		candidate = strings.TrimPrefix(candidate, "```json")
		candidate = strings.TrimPrefix(candidate, "```JSON")
		candidate = strings.TrimPrefix(candidate, "```")
		candidate = strings.TrimSuffix(candidate, "```")
		candidate = strings.TrimSpace(candidate)
	}
	err := json.Unmarshal([]byte(candidate), v)
	if err == nil {
		return nil
	}
	embedded := ExtractFirstJSONObject(candidate)
	if embedded == "" {
		return fmt.Errorf("invalid model response: %w", err)
	}
	if err := json.Unmarshal([]byte(embedded), v); err != nil {
		return fmt.Errorf("invalid model JSON payload: %w", err)
	}
	return nil
}

// ExtractFirstJSONObject returns the first balanced {...} in raw, or "".
func ExtractFirstJSONObject(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	runes := []rune(text)
	start := -1
	depth := 0
	quote := rune(0)
	escaped := false

	for i, r := range runes {
		if escaped {
			escaped = false
			continue
		}
		if quote != 0 {
			switch r {
			case '\\':
				escaped = true
			case quote:
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'':
			if depth > 0 {
				quote = r
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return string(runes[start : i+1])
			}
		}
	}
	return ""
}
