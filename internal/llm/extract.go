package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
)

// ExtractObject pulls the JSON object out of assistant content: it strips a
// surrounding markdown code fence if present, locates the first '{' and its
// matching closing '}', and verifies the slice parses strictly. The models
// routinely wrap artifacts in prose, so the match must tolerate leading and
// trailing narration.
func ExtractObject(content string) (string, error) {
	candidate := stripMarkdownFence(content)

	start := strings.IndexByte(candidate, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in content")
	}

	end, ok := matchBrace(candidate, start)
	if !ok {
		return "", fmt.Errorf("unbalanced JSON object in content")
	}

	obj := candidate[start : end+1]
	if !json.Valid([]byte(obj)) {
		return "", fmt.Errorf("extracted object is not valid JSON")
	}
	return obj, nil
}

// ExtractObjectLenient retries a failed strict extraction through json-repair,
// which fixes single quotes, trailing commas, unclosed brackets and similar
// model slop. Callers opt in through configuration; strict extraction remains
// the default contract.
func ExtractObjectLenient(content string) (string, error) {
	if obj, err := ExtractObject(content); err == nil {
		return obj, nil
	}

	candidate := stripMarkdownFence(content)
	if start := strings.IndexByte(candidate, '{'); start >= 0 {
		candidate = candidate[start:]
	}

	repaired, err := jsonrepair.RepairJSON(candidate)
	if err != nil {
		return "", fmt.Errorf("json repair failed: %w", err)
	}
	if !json.Valid([]byte(repaired)) || !strings.HasPrefix(strings.TrimSpace(repaired), "{") {
		return "", fmt.Errorf("json repair produced no object")
	}
	return repaired, nil
}

// ParseObject extracts and unmarshals in one step.
func ParseObject(content string, target interface{}) error {
	obj, err := ExtractObject(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), target); err != nil {
		return fmt.Errorf("failed to parse extracted object: %w", err)
	}
	return nil
}

// matchBrace walks from the opening brace at start and returns the index of
// its matching close. String literals and escapes are honored so braces
// inside values do not confuse the depth count.
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		ch := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// stripMarkdownFence removes a ```json ... ``` (or bare ```) wrapper.
func stripMarkdownFence(content string) string {
	trimmed := strings.TrimSpace(content)

	start := -1
	if idx := strings.Index(trimmed, "```json"); idx >= 0 {
		start = idx + len("```json")
	} else if idx := strings.Index(trimmed, "```"); idx >= 0 {
		start = idx + len("```")
	}
	if start < 0 {
		return trimmed
	}

	rest := trimmed[start:]
	if end := strings.Index(rest, "```"); end >= 0 {
		return strings.TrimSpace(rest[:end])
	}
	return strings.TrimSpace(rest)
}
