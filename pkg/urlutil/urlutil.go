package urlutil

import (
	"net/url"
	"regexp"
	"strings"
)

// Pre-compiled repair regexes for FixCommonMistakes.
var (
	doubledSchemeRe   = regexp.MustCompile(`(?i)(https?://)https?:?//`)
	singleSlashRe     = regexp.MustCompile(`(?i)(https?:/)(\w)`)
	hostQueryRe       = regexp.MustCompile(`(https?://[^/]+)\?`)
	distinctiveCcRe   = regexp.MustCompile(`(?i)\.(gov|org|com?)\...$`)
	multiTenantAuthRe = regexp.MustCompile(`(?i)go\.com$|wordpress\.com$|blogspot\.`)
)

// FixCommonMistakes repairs frequent URL typos seen in scraped feeds:
// doubled schemes ("http://http://..."), a single slash after the scheme
// ("http:/www..."), backslashes used as separators, and a query string
// glued directly onto the host ("http://example.com?page=2").
func FixCommonMistakes(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	u = doubledSchemeRe.ReplaceAllString(u, "$1")
	u = singleSlashRe.ReplaceAllString(u, "$1/$2")
	u = strings.ReplaceAll(u, `\`, `/`)
	u = hostQueryRe.ReplaceAllString(u, "$1/?")
	return u
}

// IsHTTPURL reports whether rawURL parses as an absolute http or https URL
// with a non-empty host.
func IsHTTPURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

// Host returns the lowercased hostname (no port, no credentials) of rawURL,
// or "" if the URL does not parse.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// DistinctiveDomain derives the domain key used to look up per-site HTTP
// auth credentials. Country-style suffixes (".gov.uk", ".com.au", ...) keep
// three labels; large multi-tenant hosts (go.com, wordpress.com, blogspot.*)
// are keyed by the whole URL since sub-sites are independent origins;
// everything else keeps the last two labels.
func DistinctiveDomain(rawURL string) string {
	host := Host(rawURL)
	if host == "" {
		return strings.ToLower(rawURL)
	}

	parts := strings.Split(host, ".")
	n := len(parts) - 1

	var domain string
	switch {
	case distinctiveCcRe.MatchString(host) && n >= 2:
		domain = strings.Join([]string{parts[n-2], parts[n-1], parts[n]}, ".")
	case multiTenantAuthRe.MatchString(host):
		domain = rawURL
	case n >= 1:
		domain = parts[n-1] + "." + parts[n]
	default:
		domain = host
	}
	return strings.ToLower(domain)
}
