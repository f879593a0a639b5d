package process

import (
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"site-mapper/pkg/config"
)

// Page-level meta properties read from <head>
const (
	MetaPriority          = "article:priority"
	MetaChangeFrequency   = "article:change_frequency"
	MetaModifiedTime      = "article:modified_time"
	MetaIncludedInSitemap = "article:included_in_sitemap"
)

// PageMetadata holds the sitemap attributes a page declares about itself
type PageMetadata struct {
	Priority         int
	HasPriority      bool // Priority came from the page
	ChangeFrequency  string
	LastModified     string
	IncludeInSitemap bool
}

// MetadataExtractor reads sitemap hints from a page's meta tags
type MetadataExtractor struct {
	fallback string // config.LastModifiedFallbackNow or config.LastModifiedFallbackOmit
	now      func() time.Time
}

// NewMetadataExtractor creates a MetadataExtractor. now supplies the crawl
// time used when a page has no modification date and fallback is "now".
func NewMetadataExtractor(fallback string, now func() time.Time) *MetadataExtractor {
	if now == nil {
		now = time.Now
	}
	return &MetadataExtractor{fallback: fallback, now: now}
}

// Extract reads the meta properties of doc, applying defaults for absent ones.
func (me *MetadataExtractor) Extract(doc *goquery.Document) PageMetadata {
	meta := PageMetadata{
		ChangeFrequency:  config.DefaultChangeFrequency,
		IncludeInSitemap: true,
	}

	if content, ok := metaContent(doc, MetaPriority); ok {
		// Unparseable values are ignored, leaving the depth-inferred priority
		if p, err := strconv.Atoi(content); err == nil {
			meta.Priority = p
			meta.HasPriority = true
		}
	}

	if content, ok := metaContent(doc, MetaChangeFrequency); ok && content != "" {
		meta.ChangeFrequency = content
	}

	if content, ok := metaContent(doc, MetaModifiedTime); ok && content != "" {
		meta.LastModified = content
	} else if me.fallback != config.LastModifiedFallbackOmit {
		meta.LastModified = me.now().UTC().Format(time.RFC3339)
	}

	if content, ok := metaContent(doc, MetaIncludedInSitemap); ok {
		meta.IncludeInSitemap = strings.EqualFold(content, "true")
	}

	return meta
}

// metaContent returns the trimmed content of the first head meta tag with the
// given property. ok is false when no such tag exists.
func metaContent(doc *goquery.Document, property string) (string, bool) {
	sel := doc.Find(`head > meta[property="` + property + `"]`).First()
	if sel.Length() == 0 {
		return "", false
	}
	content, _ := sel.Attr("content")
	return strings.TrimSpace(content), true
}
