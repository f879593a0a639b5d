package process

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"site-mapper/pkg/models"
	"site-mapper/pkg/parse"
)

// ImageExtractor collects the images shown on a page
type ImageExtractor struct{}

// NewImageExtractor creates an ImageExtractor
func NewImageExtractor() *ImageExtractor {
	return &ImageExtractor{}
}

// Extract returns the distinct images of doc in document order. Sources are
// lowercased and resolved against the root of pageURL; the first occurrence
// of a source wins.
func (ie *ImageExtractor) Extract(doc *goquery.Document, pageURL string) []models.ImageRef {
	root, err := parse.SiteRoot(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var images []models.ImageRef
	doc.Find("img[src]").Each(func(_ int, element *goquery.Selection) {
		src, _ := element.Attr("src")
		src = strings.ToLower(strings.TrimSpace(src))
		if src == "" {
			return
		}

		loc := parse.ResolveReference(root, src)
		if _, dup := seen[loc]; dup {
			return
		}
		seen[loc] = struct{}{}

		alt, _ := element.Attr("alt")
		title, _ := element.Attr("title")
		images = append(images, models.ImageRef{
			Loc:     loc,
			Caption: strings.TrimSpace(alt),
			Title:   strings.TrimSpace(title),
		})
	})
	return images
}
