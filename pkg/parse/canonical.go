package parse

import (
	"net/url"
	"strings"
	"unicode"
)

// Canonicalize reduces a URL string to the form used as crawl identity.
// It trims surrounding whitespace, strips a leading ".." token, lowercases
// the whole string, drops an explicit ":80" from http hosts, and removes
// trailing slashes. The result is not validated. Canonicalize is idempotent.
func Canonicalize(raw string) string {
	s := raw
	for {
		next := canonicalizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

// canonicalizeOnce applies each rule a single time. Lowercasing is stable and
// every other step only removes characters, so repetition reaches a fixed point.
func canonicalizeOnce(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "..")
	s = strings.ToLower(s)
	s = stripDefaultHTTPPort(s)
	return strings.TrimRightFunc(s, func(r rune) bool {
		return r == '/' || unicode.IsSpace(r)
	})
}

// stripDefaultHTTPPort removes ":80" from the host segment of a lowercased http URL.
func stripDefaultHTTPPort(s string) string {
	const prefix = "http://"
	if !strings.HasPrefix(s, prefix) {
		return s
	}
	rest := s[len(prefix):]
	hostEnd := strings.IndexAny(rest, "/?#")
	if hostEnd < 0 {
		hostEnd = len(rest)
	}
	host := rest[:hostEnd]
	if !strings.HasSuffix(host, ":80") {
		return s
	}
	return prefix + strings.TrimSuffix(host, ":80") + rest[hostEnd:]
}

// SiteRoot returns "scheme://host/" for an absolute URL, the base used to
// resolve relative references found on the site.
func SiteRoot(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", &url.Error{Op: "root", URL: rawURL, Err: errNotAbsolute}
	}
	return u.Scheme + "://" + u.Host + "/", nil
}

// ResolveReference turns an href or src found on a page into an absolute URL
// against base, which should be a site root ending in "/".
//
// Absolute http(s) references and references with any other scheme are
// returned unchanged. Protocol-relative references take the base scheme.
// Everything else is concatenated onto base, dropping the base's trailing
// slash when the reference is root-relative.
func ResolveReference(base, ref string) string {
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return ref
	case strings.HasPrefix(ref, "//"):
		scheme := "http"
		if i := strings.Index(base, "://"); i > 0 {
			scheme = base[:i]
		}
		return scheme + ":" + ref
	case hasScheme(ref):
		return ref
	case strings.HasPrefix(ref, "/"):
		return strings.TrimSuffix(base, "/") + ref
	default:
		return base + ref
	}
}

// hasScheme reports whether ref starts with "scheme:" before any path,
// query or fragment delimiter (mailto:, javascript:, tel:, ftp: ...).
func hasScheme(ref string) bool {
	for i, r := range ref {
		switch {
		case r == ':':
			return i > 0
		case r == '/' || r == '?' || r == '#':
			return false
		case unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return false
}
