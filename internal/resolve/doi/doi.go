// Package doi finds and canonicalises DOIs embedded in free text and in
// publisher URLs. Nothing here touches the network.
package doi

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	// Crossref's recommended pattern for modern DOIs.
	doiPattern      = regexp.MustCompile(`(?i)10\.\d{4,9}/[-._;()/:a-z0-9]+`)
	wholeDOIPattern = regexp.MustCompile(`(?i)^10\.\d{4,9}/[-._;()/:a-z0-9]+$`)
	// Landing-page suffixes that get glued onto DOIs copied out of URLs.
	artefactPattern = regexp.MustCompile(`(?i)[./](?:e?pdf|abstract|full|short)(?:$|[^a-z0-9])`)
)

const trailingPunct = ".,;:"

// Find returns the first well-formed DOI in s in canonical form.
func Find(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	m := doiPattern.FindString(s)
	if m == "" {
		return "", false
	}
	return canonical(m)
}

// Extract runs Find over s and, if that fails, over the URL-unescaped form of
// s with all whitespace removed. The second pass catches DOIs that were pasted
// with encoded slashes or broken across lines.
func Extract(s string) (string, bool) {
	if d, ok := Find(s); ok {
		return d, true
	}
	fixed := unescape(s)
	fixed = strings.Join(strings.Fields(fixed), "")
	if fixed == s {
		return "", false
	}
	return Find(fixed)
}

// Canonical normalises a DOI given in any common notation ("doi:",
// "https://doi.org/", mixed case, trailing punctuation). It reports false when
// the input is not a DOI.
func Canonical(s string) (string, bool) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi.org/", "doi:"} {
		if strings.HasPrefix(lower, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			break
		}
	}
	if !wholeDOIPattern.MatchString(s) {
		return "", false
	}
	return canonical(s)
}

// Valid reports whether s is already a canonical DOI.
func Valid(s string) bool {
	c, ok := Canonical(s)
	return ok && c == s
}

// canonical assumes m matched doiPattern. DOIs are case-insensitive; the lower
// case form is the one Crossref returns.
func canonical(m string) (string, bool) {
	d := strings.ToLower(m)
	if loc := artefactPattern.FindStringIndex(d); loc != nil {
		d = d[:loc[0]]
	}
	for {
		trimmed := strings.TrimRight(d, trailingPunct)
		if strings.HasSuffix(trimmed, ")") && strings.Count(trimmed, ")") > strings.Count(trimmed, "(") {
			trimmed = trimmed[:len(trimmed)-1]
		}
		if trimmed == d {
			break
		}
		d = trimmed
	}
	prefix, suffix, ok := strings.Cut(d, "/")
	if !ok || prefix == "" || suffix == "" {
		return "", false
	}
	return d, true
}

func unescape(s string) string {
	u, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return u
}
