// Package redact strips secret material from free-form maps before they are
// persisted. One recursive walker is the single source of truth for what
// counts as a secret key; every persistence path (audit indicators, intent
// metadata, DLQ payload subsets) must go through it.
package redact

import "strings"

// Placeholder replaces the value of any redacted key.
const Placeholder = "***REDACTED***"

// substrings that mark a key as secret-bearing, matched case-insensitively.
var secretMarkers = []string{
	"secret",
	"token",
	"password",
	"key",
	"credential",
	"private",
}

// IsSecretKey reports whether a map key should have its value redacted.
func IsSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range secretMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Map returns a deep copy of m with all secret-keyed values replaced by
// Placeholder. Nested maps and slices are walked recursively; the input is
// never mutated. A nil input returns nil.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSecretKey(k) {
			out[k] = Placeholder
			continue
		}
		out[k] = value(v)
	}
	return out
}

func value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Map(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = value(e)
		}
		return out
	default:
		return v
	}
}
