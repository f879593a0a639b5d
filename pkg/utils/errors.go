package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrTransport        = errors.New("transport failure")           // Wraps the underlying net/http error
	ErrNotFound         = errors.New("resource not found (404)")    // Matched structurally through HTTPStatusError
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")     // Wraps original error/status
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")     // Wraps original error/status
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")  // Wraps original error/status
	ErrNonHTMLContent   = errors.New("response is not HTML")        // Content-Type without text/html
	ErrScopeViolation   = errors.New("URL out of scope (host/path/pattern)")
	ErrMaxDepthExceeded = errors.New("maximum crawl depth exceeded")
	ErrParsing          = errors.New("parsing error")    // Wraps specific parsing error (HTML, URL, XML)
	ErrFilesystem       = errors.New("filesystem error") // Wraps os errors
	ErrDatabase         = errors.New("database error")   // Wraps badger errors
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrConfigValidation = errors.New("configuration validation error")
)

// HTTPStatusError reports a non-2xx response. It unwraps to the sentinel for
// its status class, and to ErrNotFound for 404, so callers never have to
// inspect error messages to tell a missing page from other failures.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP status %d (%s) for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Unwrap exposes the class sentinels to errors.Is.
func (e *HTTPStatusError) Unwrap() []error {
	var class error
	switch {
	case e.StatusCode >= 400 && e.StatusCode < 500:
		class = ErrClientHTTPError
	case e.StatusCode >= 500 && e.StatusCode < 600:
		class = ErrServerHTTPError
	default:
		class = ErrOtherHTTPError
	}
	if e.StatusCode == http.StatusNotFound {
		return []error{ErrNotFound, class}
	}
	return []error{class}
}

// StatusCodeOf returns the HTTP status code carried by err, or 0.
func StatusCodeOf(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// WrapErrorf wraps a sentinel with a formatted message.
func WrapErrorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusNotFound, http.StatusForbidden, http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusGone:
			return fmt.Sprintf("HTTP_%d", statusErr.StatusCode)
		}
	}

	switch {
	case errors.Is(err, ErrClientHTTPError):
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrNonHTMLContent):
		return "Content_NonHTML"
	case errors.Is(err, ErrScopeViolation):
		return "Policy_Scope"
	case errors.Is(err, ErrMaxDepthExceeded):
		return "Policy_MaxDepth"
	case errors.Is(err, ErrParsing):
		return "Content_Parsing"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// Context errors
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "Network_DNSLookup"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "Network_Dial"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	if errors.Is(err, ErrTransport) {
		return "Network_Other"
	}

	return "Unknown"
}
