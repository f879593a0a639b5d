package utils

import (
	"regexp"
	"strings"
)

var unsafeSiteKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const maxSiteKeyFilenameLength = 64

// SiteKeyFilename turns a site key into a single path component for the
// per-site output directory, visited DB and visited log. Runs of other
// characters become one underscore and the result never starts with a dot.
func SiteKeyFilename(siteKey string) string {
	name := unsafeSiteKeyChars.ReplaceAllString(strings.TrimSpace(siteKey), "_")
	if len(name) > maxSiteKeyFilenameLength {
		name = name[:maxSiteKeyFilenameLength]
	}
	name = strings.Trim(name, "._")
	if name == "" {
		return "site"
	}
	return name
}
