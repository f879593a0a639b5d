package storage

import (
	"context"

	"site-mapper/pkg/models"
)

// PageStore holds the visited state of one crawl run
type PageStore interface {
	// RecordPage stores rec under the canonical URL unless a record already exists.
	// Returns true if the record was stored, false if the URL was already visited.
	RecordPage(canonicalURL string, rec *models.PageRecord) (bool, error)

	// IsVisited reports whether any record exists for the canonical URL
	IsVisited(canonicalURL string) (bool, error)

	// GetPage retrieves the record for a canonical URL.
	// Returns PageStatusAbsent with a nil record when the URL was never visited.
	GetPage(canonicalURL string) (models.PageStatus, *models.PageRecord, error)

	// ForEachPage calls fn for every record. Iteration stops at the first error from fn.
	ForEachPage(ctx context.Context, fn func(canonicalURL string, rec *models.PageRecord) error) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// GetVisitedCount returns the number of visited URLs
	GetVisitedCount() (int, error)

	// WriteVisitedLog writes every visited URL and its status to the specified file path
	WriteVisitedLog(ctx context.Context, filePath string) error

	// Close releases the store
	Close() error
}

// VisitedStore combines all store interfaces for components that need full access
type VisitedStore interface {
	PageStore
	StoreAdmin
}
