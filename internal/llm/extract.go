package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractStringArray pulls a JSON string array out of a model completion.
// Small local models rarely return clean JSON: the array may be wrapped in a
// markdown code fence, prefixed with prose ("Here are the variants:"), or
// followed by commentary. The parser takes the first balanced [...] span and
// unmarshals that.
func ExtractStringArray(response string) ([]string, error) {
	cleaned := StripFences(response)

	start := strings.IndexByte(cleaned, '[')
	if start < 0 {
		return nil, fmt.Errorf("no JSON array in response")
	}
	end := strings.LastIndexByte(cleaned, ']')
	if end < start {
		return nil, fmt.Errorf("unterminated JSON array in response")
	}

	var out []string
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("parse JSON array: %w", err)
	}
	return out, nil
}

// StripFences removes a surrounding markdown code fence, if any.
// Handles both ``` and ```json openers.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	// Drop the opening fence line (``` or ```json etc.)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		return strings.TrimPrefix(s, "```")
	}

	// Drop the closing fence
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
