package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON parses a JSON object out of an agent response that may be
// wrapped in markdown fencing or surrounded by prose. It tries, in order:
// a fenced block, the whole text, and the outermost brace-delimited span.
func ExtractJSON(text string, v any) error {
	text = strings.TrimSpace(text)

	if fenced := stripFence(text); fenced != "" {
		if err := json.Unmarshal([]byte(fenced), v); err == nil {
			return nil
		}
	}

	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("no parseable JSON object in response")
}

// stripFence returns the contents of the first ``` block, or "".
func stripFence(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return ""
	}
	rest := text[start+3:]
	// Drop the optional language tag on the fence line.
	nl := strings.Index(rest, "\n")
	if nl < 0 {
		return ""
	}
	rest = rest[nl+1:]
	end := strings.LastIndex(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
