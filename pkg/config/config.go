package config

import "time"

// Defaults shared by validation and the GetEffective* helpers
const (
	DefaultMaxPriority       = 10
	DefaultMinPriority       = 1
	DefaultChangeFrequency   = "weekly"
	DefaultSitemapFilename   = "sitemap.xml"
	DefaultMaxPageSizeBytes  = 10 * 1024 * 1024
	DefaultUserAgent         = "site-mapper/1.0 (+https://www.sitemaps.org/)"
	LastModifiedFallbackNow  = "now"
	LastModifiedFallbackOmit = "omit"
)

// SiteConfig holds configuration specific to a single website crawl
type SiteConfig struct {
	StartURL               string   `yaml:"start_url"`
	PrimaryHost            string   `yaml:"primary_host,omitempty"`             // Defaults to the start URL host
	DisallowedPathPatterns []string `yaml:"disallowed_path_patterns,omitempty"` // Regex patterns for paths to exclude
	UserAgent              string   `yaml:"user_agent,omitempty"`
	MaxDepth               int      `yaml:"max_depth,omitempty"` // 0 = unlimited
	MaxPriority            *int     `yaml:"max_priority,omitempty"`
	MinPriority            *int     `yaml:"min_priority,omitempty"`
	FileCacheEnabled       *bool    `yaml:"file_cache_enabled,omitempty"`
	SitemapFilename        string   `yaml:"sitemap_filename,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent     string                `yaml:"default_user_agent"`
	Concurrency          int                   `yaml:"concurrency"` // Parallel fetches within one crawl level
	MaxPageSizeBytes     int64                 `yaml:"max_page_size_bytes,omitempty"`
	OutputBaseDir        string                `yaml:"output_base_dir"`
	StateDir             string                `yaml:"state_dir,omitempty"` // Empty = in-memory visited store
	GlobalCrawlTimeout   time.Duration         `yaml:"global_crawl_timeout,omitempty"`
	PerPageTimeout       time.Duration         `yaml:"per_page_timeout,omitempty"` // Timeout for fetching a single page (0 = no timeout)
	MaxPriority          int                   `yaml:"max_priority,omitempty"`
	MinPriority          int                   `yaml:"min_priority,omitempty"`
	LastModifiedFallback string                `yaml:"last_modified_fallback,omitempty"` // "now" or "omit"
	FileCacheEnabled     bool                  `yaml:"file_cache_enabled,omitempty"`
	SitemapFilename      string                `yaml:"sitemap_filename,omitempty"`
	HTTPClientSettings   HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	Sites                map[string]SiteConfig `yaml:"sites"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
	MaxRedirects          int           `yaml:"max_redirects,omitempty"`
}

// GetEffectiveUserAgent returns the site user agent, falling back to the global one
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	if appCfg.DefaultUserAgent != "" {
		return appCfg.DefaultUserAgent
	}
	return DefaultUserAgent
}

// GetEffectivePriorityBounds resolves the (max, min) priority pair for a site.
func GetEffectivePriorityBounds(siteCfg SiteConfig, appCfg AppConfig) (maxPriority, minPriority int) {
	maxPriority, minPriority = appCfg.MaxPriority, appCfg.MinPriority
	if maxPriority <= 0 {
		maxPriority = DefaultMaxPriority
	}
	if minPriority <= 0 {
		minPriority = DefaultMinPriority
	}
	if siteCfg.MaxPriority != nil {
		maxPriority = *siteCfg.MaxPriority
	}
	if siteCfg.MinPriority != nil {
		minPriority = *siteCfg.MinPriority
	}
	return maxPriority, minPriority
}

// GetEffectiveFileCacheEnabled determines whether the rendered sitemap is cached on disk
func GetEffectiveFileCacheEnabled(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.FileCacheEnabled != nil {
		return *siteCfg.FileCacheEnabled
	}
	return appCfg.FileCacheEnabled
}

// GetEffectiveSitemapFilename determines the filename for the cached sitemap.
// Site config (if non-empty) overrides global, then the hardcoded default.
func GetEffectiveSitemapFilename(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.SitemapFilename != "" {
		return siteCfg.SitemapFilename
	}
	if appCfg.SitemapFilename != "" {
		return appCfg.SitemapFilename
	}
	return DefaultSitemapFilename
}
