package rlm

import (
	"encoding/json"
	"fmt"
)

// ExtractFirstJSONObject is the exported form of extractFirstJSONObject,
// reused by the plan package to parse Planner output with the same
// tolerant extractor the Root Loop uses for actions.
func ExtractFirstJSONObject(text string) (map[string]any, error) {
	return extractFirstJSONObject(text)
}

// extractFirstJSONObject scans text for the first balanced `{...}` object,
// tolerant of surrounding prose and of braces embedded in quoted strings,
// per spec §4.6 step 4.
func extractFirstJSONObject(text string) (map[string]any, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range text {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				var obj map[string]any
				if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
					return nil, fmt.Errorf("invalid json object: %w", err)
				}
				return obj, nil
			}
		}
	}
	return nil, fmt.Errorf("no balanced json object found")
}
