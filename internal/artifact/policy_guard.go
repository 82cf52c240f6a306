package artifact

import (
	"encoding/json"
	"strings"
)

// PositionFieldPatterns are the substrings that mark a field as
// position-like. The policy analyst must never emit such a field; the
// strategy function owns the numeric position decision.
var PositionFieldPatterns = []string{"position"}

// IsPositionField reports whether a JSON key names a position-like value.
// Matching is case-insensitive and substring-based, so it catches
// "position", "recommended_position", "base_position_recommendation",
// "position_adjustment" and similar variants.
func IsPositionField(key string) bool {
	lower := strings.ToLower(key)
	for _, pat := range PositionFieldPatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// StripPositionFields removes every position-like key from a raw JSON
// object, recursing into nested objects and arrays. It returns the cleaned
// JSON and the names of the removed keys. A non-object payload is returned
// unchanged.
func StripPositionFields(raw string) (string, []string) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return raw, nil
	}

	stripped := stripFromMap(doc)
	if len(stripped) == 0 {
		return raw, nil
	}

	cleaned, err := json.Marshal(doc)
	if err != nil {
		return raw, stripped
	}
	return string(cleaned), stripped
}

func stripFromMap(m map[string]interface{}) []string {
	var removed []string
	for key, val := range m {
		if IsPositionField(key) {
			delete(m, key)
			removed = append(removed, key)
			continue
		}
		removed = append(removed, stripFromValue(val)...)
	}
	return removed
}

func stripFromValue(v interface{}) []string {
	switch t := v.(type) {
	case map[string]interface{}:
		return stripFromMap(t)
	case []interface{}:
		var removed []string
		for _, item := range t {
			removed = append(removed, stripFromValue(item)...)
		}
		return removed
	}
	return nil
}

// HasPositionField reports whether a raw JSON object contains any
// position-like key at any depth.
func HasPositionField(raw string) bool {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return false
	}
	return mapHasPositionField(doc)
}

func mapHasPositionField(m map[string]interface{}) bool {
	for key, val := range m {
		if IsPositionField(key) {
			return true
		}
		switch t := val.(type) {
		case map[string]interface{}:
			if mapHasPositionField(t) {
				return true
			}
		case []interface{}:
			for _, item := range t {
				if sub, ok := item.(map[string]interface{}); ok && mapHasPositionField(sub) {
					return true
				}
			}
		}
	}
	return false
}
