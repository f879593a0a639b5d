package process

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"site-mapper/pkg/models"
	"site-mapper/pkg/parse"
)

// LinkExtractor collects the outgoing links of a page as next-level targets
type LinkExtractor struct {
	siteRoot string // "scheme://host/" of the start URL, base for relative hrefs
	log      *logrus.Entry
}

// NewLinkExtractor creates a LinkExtractor resolving relative links against siteRoot
func NewLinkExtractor(siteRoot string, log *logrus.Entry) *LinkExtractor {
	return &LinkExtractor{siteRoot: siteRoot, log: log}
}

// Extract returns every a[href] of doc as a target at level+1, in document order.
// Targets are canonical; fragment-only and empty hrefs and links back to
// pageURL itself are dropped. Duplicates are left to the scheduler.
func (le *LinkExtractor) Extract(doc *goquery.Document, pageURL string, level int) []models.PendingTarget {
	self := parse.Canonicalize(pageURL)
	nextLevel := level + 1

	var targets []models.PendingTarget
	doc.Find("a[href]").Each(func(_ int, element *goquery.Selection) {
		href, _ := element.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		href = strings.TrimPrefix(href, "..")

		link := parse.Canonicalize(parse.ResolveReference(le.siteRoot, href))
		if link == "" || link == self {
			return
		}
		targets = append(targets, models.PendingTarget{URL: link, Level: nextLevel})
	})

	le.log.WithFields(logrus.Fields{"url": pageURL, "links": len(targets)}).Debug("Extracted links")
	return targets
}
