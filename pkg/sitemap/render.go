package sitemap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"

	"site-mapper/pkg/models"
)

const (
	// Namespace is the sitemaps.org 0.9 schema
	Namespace = "http://www.sitemaps.org/schemas/sitemap/0.9"
	// ImageNamespace is the image sitemap extension
	ImageNamespace = "http://www.google.com/schemas/sitemap-image/1.1"
)

type urlSet struct {
	XMLName    xml.Name     `xml:"urlset"`
	Xmlns      string       `xml:"xmlns,attr"`
	XmlnsImage string       `xml:"xmlns:image,attr"`
	URLs       []urlElement `xml:"url"`
}

type urlElement struct {
	Loc        string         `xml:"loc"`
	LastMod    string         `xml:"lastmod,omitempty"`
	ChangeFreq string         `xml:"changefreq,omitempty"`
	Priority   string         `xml:"priority"`
	Images     []imageElement `xml:"image:image"`
}

type imageElement struct {
	Loc     string `xml:"image:loc"`
	Caption string `xml:"image:caption,omitempty"`
	Title   string `xml:"image:title,omitempty"`
}

// FormatPriority scales priority to the 0.0-1.0 range of the sitemap
// protocol, with one decimal.
func FormatPriority(priority, maxPriority int) string {
	if maxPriority <= 0 {
		return "0.5"
	}
	p := float64(priority) / float64(maxPriority)
	p = min(max(p, 0), 1)
	return strconv.FormatFloat(p, 'f', 1, 64)
}

// Render writes entries as a sitemap urlset document, sorted by URL.
// entries is not modified.
func Render(w io.Writer, entries []models.SitemapEntry, maxPriority int) error {
	sorted := make([]models.SitemapEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].URL < sorted[j].URL })

	set := urlSet{
		Xmlns:      Namespace,
		XmlnsImage: ImageNamespace,
		URLs:       make([]urlElement, 0, len(sorted)),
	}
	for _, e := range sorted {
		u := urlElement{
			Loc:        e.URL,
			LastMod:    e.LastModified,
			ChangeFreq: e.ChangeFrequency,
			Priority:   FormatPriority(e.Priority, maxPriority),
		}
		for _, img := range e.Images {
			u.Images = append(u.Images, imageElement{Loc: img.Loc, Caption: img.Caption, Title: img.Title})
		}
		set.URLs = append(set.URLs, u)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("writing sitemap header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(set); err != nil {
		return fmt.Errorf("encoding sitemap: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flushing sitemap: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// RenderBytes renders entries into memory
func RenderBytes(entries []models.SitemapEntry, maxPriority int) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, entries, maxPriority); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
