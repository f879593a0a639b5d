package parse

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"site-mapper/pkg/utils"
)

var errNotAbsolute = errors.New("URL is not absolute")

// excludedSchemeMarkers rule out non-navigational links wherever they appear,
// including after relative concatenation onto the site root.
var excludedSchemeMarkers = []string{"mailto:", "javascript:", "tel:"}

// TargetFilter decides whether a canonical URL belongs to the crawl
type TargetFilter struct {
	host       string
	disallowed []*regexp.Regexp
}

// NewTargetFilter creates a filter for the given primary host.
// disallowed holds optional path regexes from the site configuration.
func NewTargetFilter(primaryHost string, disallowed []*regexp.Regexp) *TargetFilter {
	return &TargetFilter{
		host:       strings.ToLower(strings.TrimSpace(primaryHost)),
		disallowed: disallowed,
	}
}

// Host returns the primary host the filter admits
func (f *TargetFilter) Host() string {
	return f.host
}

// Check returns nil when canonical is a crawl target. Exclusions wrap
// utils.ErrScopeViolation; URLs that cannot be parsed wrap utils.ErrParsing.
func (f *TargetFilter) Check(canonical string) error {
	u, err := url.Parse(canonical)
	if err != nil {
		return fmt.Errorf("%w: URL '%s': %w", utils.ErrParsing, canonical, err)
	}

	lower := strings.ToLower(canonical)
	for _, marker := range excludedSchemeMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: '%s' contains '%s'", utils.ErrScopeViolation, canonical, marker)
		}
	}
	if !strings.EqualFold(u.Hostname(), f.host) {
		return fmt.Errorf("%w: host '%s' is not '%s'", utils.ErrScopeViolation, u.Hostname(), f.host)
	}
	if strings.HasSuffix(lower, "form") {
		return fmt.Errorf("%w: '%s' is a form page", utils.ErrScopeViolation, canonical)
	}
	if strings.HasPrefix(strings.ToLower(u.Path), "/content/") {
		return fmt.Errorf("%w: '%s' is under /content/", utils.ErrScopeViolation, canonical)
	}
	for _, re := range f.disallowed {
		if re.MatchString(u.Path) {
			return fmt.Errorf("%w: path '%s' matches disallowed pattern '%s'", utils.ErrScopeViolation, u.Path, re.String())
		}
	}
	return nil
}

// IsTarget reports whether canonical should be crawled
func (f *TargetFilter) IsTarget(canonical string) bool {
	return f.Check(canonical) == nil
}
