// Package ingest holds the correlation and normalization helpers shared by
// every format component: first-non-empty selection, call-id correlation,
// text normalization and cross-channel deduplication, tool-kind
// classification, and timestamp parsing with fallbacks.
package ingest

// FirstNonEmpty returns the first value that is not the empty string.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// GetString returns the first present string value among keys, trying each
// key in order. Producers rename fields across versions; callers list every
// historical key they have seen.
func GetString(values map[string]any, keys ...string) string {
	for _, key := range keys {
		if raw, ok := values[key]; ok {
			if s, ok := raw.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// GetNumber returns the first present numeric value among keys. JSON numbers
// decode as float64; integer-typed values are accepted too.
func GetNumber(values map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		raw, ok := values[key]
		if !ok {
			continue
		}
		switch n := raw.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		}
	}
	return 0, false
}

// GetBool returns the first present boolean value among keys.
func GetBool(values map[string]any, keys ...string) bool {
	for _, key := range keys {
		if raw, ok := values[key]; ok {
			if b, ok := raw.(bool); ok {
				return b
			}
		}
	}
	return false
}

// GetMap returns the named sub-object, or nil when absent or not an object.
func GetMap(values map[string]any, key string) map[string]any {
	if raw, ok := values[key]; ok {
		if m, ok := raw.(map[string]any); ok {
			return m
		}
	}
	return nil
}
