package strings

import (
	"strings"
	"unicode"
)

// NormalizeTitle is the comparison form used for titles everywhere in the
// pipeline: lower case, punctuation and symbols removed, runs of whitespace
// collapsed to a single space, no leading or trailing space.
//
// Example:
//
//	NormalizeTitle("  Bees of  Kent. ")
//	// Returns: "bees of kent"
func NormalizeTitle(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			pendingSpace = true
		}
	}
	return b.String()
}

// TitlesMatch reports whether two titles are equal after normalization. Empty
// titles never match anything.
func TitlesMatch(a, b string) bool {
	na := NormalizeTitle(a)
	return na != "" && na == NormalizeTitle(b)
}
