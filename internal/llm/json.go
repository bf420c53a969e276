package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned for blank model output.
var ErrEmptyResponse = errors.New("empty response")

// StripCodeFence removes a surrounding markdown code block, if any.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	if endIdx <= 1 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

// ParseJSONObject parses an LLM response as a single JSON object, handling
// markdown code blocks. Field values are left raw for strict type checks.
func ParseJSONObject(text string) (map[string]json.RawMessage, error) {
	text = StripCodeFence(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	var result map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("response is not a JSON object: null")
	}
	return result, nil
}
