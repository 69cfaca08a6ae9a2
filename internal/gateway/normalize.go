package gateway

import (
	"encoding/json"
	"fmt"
)

// Normalize collapses the provider's heterogeneous result shapes into a
// single JSON-serializable value. Checks are applied in priority order:
// wrapped-text list, "content" collection, "text" field, "data" field,
// plain mapping, anything else stringified. Streamed results arrive
// already drained into the content list, so they take the list path.
func Normalize(raw any) any {
	switch v := raw.(type) {
	case nil:
		return ""
	case []any:
		return collapse(extractAll(v))
	case map[string]any:
		if items, ok := v["content"].([]any); ok {
			return collapse(extractAll(items))
		}
		if text, ok := v["text"].(string); ok {
			return parseJSONOr(text)
		}
		if data, ok := v["data"]; ok {
			return data
		}
		return v
	case string, bool, float64, float32, int, int32, int64, json.Number:
		return v
	default:
		// Unknown shapes: round-trip through JSON when possible so the
		// postcondition holds, otherwise stringify.
		if b, err := json.Marshal(v); err == nil {
			var out any
			if err := json.Unmarshal(b, &out); err == nil {
				return out
			}
		}
		return fmt.Sprint(v)
	}
}

// extractAll applies per-item extraction to every element of a list.
func extractAll(items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = extractItem(item)
	}
	return out
}

// extractItem unwraps a single list element: text wrappers are parsed
// as JSON with a raw-text fallback, data wrappers yield their payload
// verbatim, everything else passes through.
func extractItem(item any) any {
	m, ok := item.(map[string]any)
	if !ok {
		return item
	}
	if text, ok := m["text"].(string); ok {
		return parseJSONOr(text)
	}
	if data, ok := m["data"]; ok {
		return data
	}
	return item
}

// collapse reduces a single-element list to its sole element.
func collapse(items []any) any {
	if len(items) == 1 {
		return items[0]
	}
	return items
}

// parseJSONOr parses s as JSON, returning the raw string when it is not
// valid JSON.
func parseJSONOr(s string) any {
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return s
	}
	return out
}
