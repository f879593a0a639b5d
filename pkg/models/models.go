package models

import "time"

// PendingTarget is a URL waiting in the crawl frontier at a given BFS level
type PendingTarget struct {
	URL   string
	Level int
}

// ImageRef describes one image discovered on a page
type ImageRef struct {
	Loc     string `json:"loc" yaml:"loc"`
	Caption string `json:"caption,omitempty" yaml:"caption,omitempty"` // From the alt attribute
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
}

// CrawledEntry is the sitemap-relevant data recorded for a page on its first visit.
// It is never modified after being recorded.
type CrawledEntry struct {
	Priority           int        `json:"priority"`
	IsDeclaredPriority bool       `json:"is_declared_priority,omitempty"`
	ChangeFrequency    string     `json:"change_frequency"`
	LastModified       string     `json:"last_modified,omitempty"`
	Images             []ImageRef `json:"images,omitempty"`
	IsIncluded         bool       `json:"is_included"`
}

// PageRecord is what the visited store keeps per canonical URL.
// Entry is nil for URLs that were visited but did not yield a usable page.
type PageRecord struct {
	Status      PageStatus    `json:"status"`
	StatusCode  int           `json:"status_code,omitempty"` // HTTP status when the fetch failed with one
	ErrorType   string        `json:"error_type,omitempty"`  // Error category (on failure)
	Depth       int           `json:"depth"`                 // BFS level at which the URL was visited
	LastAttempt time.Time     `json:"last_attempt"`
	Entry       *CrawledEntry `json:"entry,omitempty"`
}

// SitemapEntry is one row of the assembled sitemap
type SitemapEntry struct {
	URL                string     `json:"url" yaml:"url"`
	Priority           int        `json:"priority" yaml:"priority"`
	IsDeclaredPriority bool       `json:"is_declared_priority,omitempty" yaml:"is_declared_priority,omitempty"`
	ChangeFrequency    string     `json:"change_frequency" yaml:"change_frequency"`
	LastModified       string     `json:"last_modified,omitempty" yaml:"last_modified,omitempty"`
	Images             []ImageRef `json:"images,omitempty" yaml:"images,omitempty"`
}

// CrawlStats summarizes one crawl run
type CrawlStats struct {
	RunID         string        `json:"run_id" yaml:"run_id"`
	SiteKey       string        `json:"site_key" yaml:"site_key"`
	StartURL      string        `json:"start_url" yaml:"start_url"`
	StartedAt     time.Time     `json:"started_at" yaml:"started_at"`
	Duration      time.Duration `json:"duration" yaml:"duration"`
	Levels        int           `json:"levels" yaml:"levels"`
	PagesVisited  int           `json:"pages_visited" yaml:"pages_visited"`
	PagesCrawled  int           `json:"pages_crawled" yaml:"pages_crawled"`
	PagesFailed   int           `json:"pages_failed" yaml:"pages_failed"`
	PagesExcluded int           `json:"pages_excluded" yaml:"pages_excluded"`
	EntriesOutput int           `json:"entries_output" yaml:"entries_output"`
}

// ToSitemapEntry projects the entry onto the sitemap row for url
func (e *CrawledEntry) ToSitemapEntry(url string) SitemapEntry {
	return SitemapEntry{
		URL:                url,
		Priority:           e.Priority,
		IsDeclaredPriority: e.IsDeclaredPriority,
		ChangeFrequency:    e.ChangeFrequency,
		LastModified:       e.LastModified,
		Images:             e.Images,
	}
}
