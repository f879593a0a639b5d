package models

// PageStatus represents the outcome recorded for a visited URL
type PageStatus string

const (
	PageStatusUnset    PageStatus = ""          // Zero value = unset/unknown
	PageStatusCrawled  PageStatus = "crawled"   // HTML page fetched and extracted
	PageStatusFailed   PageStatus = "failed"    // Transport or non-404 HTTP failure
	PageStatusNotFound PageStatus = "not_found" // Server answered 404
	PageStatusNonHTML  PageStatus = "non_html"  // Response was not text/html
	PageStatusAbsent   PageStatus = "absent"    // URL not in the store
	PageStatusDBError  PageStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s PageStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is one a store may record
func (s PageStatus) IsValid() bool {
	switch s {
	case PageStatusCrawled, PageStatusFailed, PageStatusNotFound, PageStatusNonHTML:
		return true
	}
	return false
}

// IsPage reports whether the status carries a CrawledEntry
func (s PageStatus) IsPage() bool {
	return s == PageStatusCrawled
}
