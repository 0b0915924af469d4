package doi

import (
	"net/url"
	"regexp"
	"strings"
)

// publisher describes a domain known to carry a DOI, directly or in a
// derivable form, inside its article URLs.
type publisher struct {
	name    string
	hosts   []string
	extract func(u *url.URL, decoded string) (string, bool)
}

var (
	mapressPattern   = regexp.MustCompile(`(\w+taxa\.\d{1,4}\.\d+\.\d+)`)
	natureIDPattern  = regexp.MustCompile(`(s\d{5}-\d{3}-\d{5}-.)`)
	natureArtPattern = regexp.MustCompile(`nature\.com/articles/([^/?#]+)`)
	cambridgePattern = regexp.MustCompile(`fileId=(S[A-Z0-9]+)`)
	// Path segments that introduce a DOI on any host, e.g.
	// academic.oup.com/.../doi/10.1093/... or jstor.org/stable/10.2307/....
	doiPathPattern = regexp.MustCompile(`(?i)/(?:doi(?:/(?:abs|full|pdf|epdf|book))?|stable)/10\.\d{4,9}/`)
)

// pathPublisher names DOIs found through doiPathPattern on an unlisted host.
const pathPublisher = "doi-path"

var publishers = []publisher{
	{name: "doi.org", hosts: []string{"doi.org"}, extract: embedded},
	{name: "wiley", hosts: []string{"wiley.com"}, extract: embedded},
	{name: "springer", hosts: []string{"springer.com", "springeropen.com"}, extract: embedded},
	{name: "tandfonline", hosts: []string{"tandfonline.com"}, extract: embedded},
	{name: "plos", hosts: []string{"plos.org"}, extract: embedded},
	{name: "pnas", hosts: []string{"pnas.org"}, extract: embedded},
	{name: "bioone", hosts: []string{"bioone.org"}, extract: embedded},
	{name: "royalsociety", hosts: []string{"royalsocietypublishing.org"}, extract: embedded},
	{name: "pensoft", hosts: []string{"pensoft.net"}, extract: embedded},
	{name: "mapress", hosts: []string{"mapress.com", "biotaxa.org"}, extract: prefixed(mapressPattern, "10.11646/")},
	{name: "nature", hosts: []string{"nature.com"}, extract: natureDOI},
	{name: "cambridge", hosts: []string{"cambridge.org"}, extract: prefixed(cambridgePattern, "10.1017/")},
}

// FromURL inspects a URL from a known publisher and returns the DOI it embeds
// along with the publisher's name. Other hosts are only inspected for a DOI
// introduced by a /doi/ or /stable/ path segment.
func FromURL(raw string) (string, string, bool) {
	u, decoded, ok := parseURL(raw)
	if !ok {
		return "", "", false
	}
	if p, ok := lookupPublisher(u); ok {
		if d, ok := p.extract(u, decoded); ok {
			return d, p.name, true
		}
		return "", p.name, false
	}
	if loc := doiPathPattern.FindStringIndex(decoded); loc != nil {
		if d, ok := Find(decoded[loc[0]:]); ok {
			return d, pathPublisher, true
		}
	}
	return "", "", false
}

// Known reports whether the URL's host belongs to a known publisher.
func Known(raw string) bool {
	u, _, ok := parseURL(raw)
	if !ok {
		return false
	}
	_, ok = lookupPublisher(u)
	return ok
}

func parseURL(raw string) (*url.URL, string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, "", false
	}
	return u, unescape(raw), true
}

func lookupPublisher(u *url.URL) (publisher, bool) {
	host := strings.ToLower(u.Hostname())
	for _, p := range publishers {
		if matchesHost(host, p.hosts) {
			return p, true
		}
	}
	return publisher{}, false
}

func matchesHost(host string, suffixes []string) bool {
	for _, s := range suffixes {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

func embedded(_ *url.URL, decoded string) (string, bool) {
	return Find(decoded)
}

func prefixed(re *regexp.Regexp, prefix string) func(*url.URL, string) (string, bool) {
	return func(_ *url.URL, decoded string) (string, bool) {
		m := re.FindStringSubmatch(decoded)
		if m == nil {
			return "", false
		}
		return Canonical(prefix + m[1])
	}
}

func natureDOI(_ *url.URL, decoded string) (string, bool) {
	if d, ok := Find(decoded); ok {
		return d, true
	}
	if m := natureIDPattern.FindStringSubmatch(decoded); m != nil {
		return Canonical("10.1038/" + m[1])
	}
	if m := natureArtPattern.FindStringSubmatch(decoded); m != nil {
		return Canonical("10.1038/" + m[1])
	}
	return "", false
}
