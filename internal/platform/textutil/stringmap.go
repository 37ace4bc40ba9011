package textutil

import "strings"

// NormalizeStringMap returns a copy of values with surrounding whitespace
// stripped from keys and values. Entries whose key trims to the empty string
// are dropped, and a map with nothing left collapses to nil so callers can
// treat "no metadata" and "empty metadata" the same way.
func NormalizeStringMap(values map[string]string) map[string]string {
	var result map[string]string
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if result == nil {
			result = make(map[string]string, len(values))
		}
		result[key] = strings.TrimSpace(value)
	}
	return result
}
