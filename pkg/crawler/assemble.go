package crawler

import (
	"context"
	"sort"

	"site-mapper/pkg/models"
	"site-mapper/pkg/storage"
)

// Assemble collects one SitemapEntry per visited URL that produced a page
// and is included in the sitemap. Sentinel records are skipped.
// The order follows the store's iteration order; use SortEntries for a stable one.
func Assemble(ctx context.Context, store storage.PageStore) ([]models.SitemapEntry, error) {
	entries := make([]models.SitemapEntry, 0)
	err := store.ForEachPage(ctx, func(canonicalURL string, rec *models.PageRecord) error {
		if rec.Entry == nil || !rec.Entry.IsIncluded {
			return nil
		}
		entries = append(entries, rec.Entry.ToSitemapEntry(canonicalURL))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SortEntries orders entries by URL in place
func SortEntries(entries []models.SitemapEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].URL < entries[j].URL
	})
}
