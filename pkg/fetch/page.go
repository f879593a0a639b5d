package fetch

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"site-mapper/pkg/utils"
)

// Page is a fetched URL and, for HTML responses, its parsed document.
// The document only lives for the duration of a PageLoader.Load callback.
type Page struct {
	URL         string
	StatusCode  int // 404 when the server reported the page missing, 0 on transport failure
	ContentType string
	Document    *goquery.Document
}

// IsHTML reports whether the page carries a parsed document
func (p *Page) IsHTML() bool {
	return p != nil && p.Document != nil
}

func (p *Page) release() {
	p.Document = nil
}

// PageLoader turns fetch responses into parsed pages
type PageLoader struct {
	fetcher HTTPFetcher
	log     *logrus.Entry
}

// NewPageLoader creates a PageLoader on top of any HTTPFetcher
func NewPageLoader(fetcher HTTPFetcher, log *logrus.Entry) *PageLoader {
	return &PageLoader{fetcher: fetcher, log: log}
}

// Fetch retrieves rawURL and parses it when the Content-Type is HTML.
// The returned page is never nil; on error it has no document and carries the
// HTTP status code when there was one. Non-HTML responses return a page
// without document and an error wrapping utils.ErrNonHTMLContent.
func (l *PageLoader) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	page := &Page{URL: rawURL}

	resp, err := l.fetcher.Get(ctx, rawURL)
	if err != nil {
		page.StatusCode = utils.StatusCodeOf(err)
		return page, err
	}
	page.StatusCode = resp.StatusCode
	page.ContentType = resp.ContentType

	if !strings.Contains(strings.ToLower(resp.ContentType), "text/html") {
		return page, fmt.Errorf("%w: '%s' has content type '%s'", utils.ErrNonHTMLContent, rawURL, resp.ContentType)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return page, fmt.Errorf("%w: parsing HTML from '%s': %w", utils.ErrParsing, rawURL, err)
	}
	page.Document = doc
	return page, nil
}

// Load fetches rawURL and hands the parsed page to fn. The document is
// released as soon as fn returns, so callers must copy out whatever they need.
// fn is only called for HTML pages; otherwise the fetch error is returned
// together with the document-less page.
func (l *PageLoader) Load(ctx context.Context, rawURL string, fn func(*Page) error) (*Page, error) {
	page, err := l.Fetch(ctx, rawURL)
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"url":         rawURL,
			"status_code": page.StatusCode,
			"error_type":  utils.CategorizeError(err),
		}).Debug("Page not usable")
		return page, err
	}
	defer page.release()
	return page, fn(page)
}
