// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  Smith, J. ", "Jones", "Smith, J.", "", "  "})
//	// Returns: []string{"Smith, J.", "Jones"}
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeNormalized is like DedupeAndTrim but compares and returns the
// NormalizeTitle form of each element.
func DedupeNormalized(values []string) []string {
	return dedupe(values, NormalizeTitle)
}

func dedupe(values []string, clean func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		cleaned := clean(v)
		if cleaned == "" {
			continue
		}
		if _, ok := seen[cleaned]; !ok {
			seen[cleaned] = struct{}{}
			result = append(result, cleaned)
		}
	}

	return result
}
