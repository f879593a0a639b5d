package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"site-mapper/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Concurrency
	if c.Concurrency <= 0 {
		warnings = append(warnings, "concurrency should be > 0, defaulting to 1 (sequential crawl)")
		c.Concurrency = 1
	}

	// DefaultUserAgent
	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = DefaultUserAgent
	}

	// MaxPageSizeBytes
	if c.MaxPageSizeBytes <= 0 {
		c.MaxPageSizeBytes = DefaultMaxPageSizeBytes
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './sitemaps'")
		c.OutputBaseDir = "./sitemaps"
	}

	// GlobalCrawlTimeout
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	// PerPageTimeout
	if c.PerPageTimeout < 0 {
		warnings = append(warnings, "per_page_timeout cannot be negative, disabling timeout")
		c.PerPageTimeout = 0
	}

	// Priority bounds
	if c.MaxPriority <= 0 {
		c.MaxPriority = DefaultMaxPriority
	}
	if c.MinPriority <= 0 {
		c.MinPriority = DefaultMinPriority
	}
	if c.MinPriority > c.MaxPriority {
		return warnings, fmt.Errorf("%w: min_priority (%d) > max_priority (%d)",
			utils.ErrConfigValidation, c.MinPriority, c.MaxPriority)
	}

	// LastModifiedFallback
	switch strings.ToLower(c.LastModifiedFallback) {
	case "":
		c.LastModifiedFallback = LastModifiedFallbackNow
	case LastModifiedFallbackNow, LastModifiedFallbackOmit:
		c.LastModifiedFallback = strings.ToLower(c.LastModifiedFallback)
	default:
		warnings = append(warnings, fmt.Sprintf(
			"last_modified_fallback %q is not 'now' or 'omit', defaulting to 'now'", c.LastModifiedFallback))
		c.LastModifiedFallback = LastModifiedFallbackNow
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
	if h.MaxRedirects <= 0 {
		h.MaxRedirects = 10
	}
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place (primary host derivation, start URL trimming).
func (c *SiteConfig) Validate() (warnings []string, err error) {
	// Required: StartURL
	c.StartURL = strings.TrimSpace(c.StartURL)
	if c.StartURL == "" {
		return nil, fmt.Errorf("%w: site has no start_url", utils.ErrConfigValidation)
	}
	u, err := url.Parse(c.StartURL)
	if err != nil {
		return nil, fmt.Errorf("%w: start_url '%s' is not a valid URL: %w", utils.ErrConfigValidation, c.StartURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: start_url '%s' must use http or https", utils.ErrConfigValidation, c.StartURL)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: start_url '%s' has no host", utils.ErrConfigValidation, c.StartURL)
	}

	// PrimaryHost defaults to the start URL host
	if c.PrimaryHost == "" {
		c.PrimaryHost = u.Hostname()
	} else if !strings.EqualFold(c.PrimaryHost, u.Hostname()) {
		warnings = append(warnings, fmt.Sprintf(
			"primary_host '%s' differs from start_url host '%s'; the start page itself will be filtered out",
			c.PrimaryHost, u.Hostname()))
	}
	c.PrimaryHost = strings.ToLower(c.PrimaryHost)

	// MaxDepth
	if c.MaxDepth < 0 {
		warnings = append(warnings, "Site MaxDepth cannot be negative, setting to 0 (unlimited)")
		c.MaxDepth = 0
	}

	// Priority overrides
	if c.MaxPriority != nil && *c.MaxPriority <= 0 {
		return warnings, fmt.Errorf("%w: site max_priority must be > 0", utils.ErrConfigValidation)
	}
	if c.MinPriority != nil && *c.MinPriority <= 0 {
		return warnings, fmt.Errorf("%w: site min_priority must be > 0", utils.ErrConfigValidation)
	}
	if c.MaxPriority != nil && c.MinPriority != nil && *c.MinPriority > *c.MaxPriority {
		return warnings, fmt.Errorf("%w: site min_priority (%d) > max_priority (%d)",
			utils.ErrConfigValidation, *c.MinPriority, *c.MaxPriority)
	}

	// DisallowedPathPatterns must compile
	if _, err := utils.CompileRegexPatterns(c.DisallowedPathPatterns); err != nil {
		return warnings, err
	}

	if strings.ContainsAny(c.SitemapFilename, `/\`) {
		return warnings, fmt.Errorf("%w: sitemap_filename '%s' must not contain path separators",
			utils.ErrConfigValidation, c.SitemapFilename)
	}

	return warnings, nil
}

// ValidatePriorityBounds checks the priority range a site resolves to once
// its overrides are merged with the global bounds.
func ValidatePriorityBounds(siteCfg SiteConfig, appCfg AppConfig) error {
	maxPriority, minPriority := GetEffectivePriorityBounds(siteCfg, appCfg)
	if minPriority > maxPriority {
		return fmt.Errorf("%w: effective min_priority (%d) > max_priority (%d)",
			utils.ErrConfigValidation, minPriority, maxPriority)
	}
	return nil
}
