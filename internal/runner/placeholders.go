package runner

import "strings"

// resolvePlaceholders returns a copy of doc with every occurrence of
// each placeholder replaced inside every string value, recursing
// through objects and arrays. Keys and non-string scalars pass through
// untouched. Placeholders are matched as verbatim substrings.
func resolvePlaceholders(doc any, mappings map[string]string) any {
	if len(mappings) == 0 {
		return doc
	}

	switch v := doc.(type) {
	case string:
		for placeholder, path := range mappings {
			v = strings.ReplaceAll(v, placeholder, path)
		}
		return v

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolvePlaceholders(item, mappings)
		}
		return out

	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = resolvePlaceholders(item, mappings)
		}
		return out

	default:
		return doc
	}
}
