package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"site-mapper/pkg/utils"
)

// Response is the outcome of a single GET
type Response struct {
	URL         string // Final URL after redirects
	StatusCode  int
	ContentType string
	Body        []byte
}

// HTTPFetcher retrieves a URL with one request. Implementations return a
// *utils.HTTPStatusError for non-2xx answers and wrap utils.ErrTransport
// for failures that produced no response.
type HTTPFetcher interface {
	Get(ctx context.Context, rawURL string) (*Response, error)
}

// Fetcher issues plain GET requests through a configured http.Client.
// There is no retry: a failed page is recorded once and the crawl moves on.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	log          *logrus.Entry
}

// NewFetcher creates a new Fetcher instance. maxBodyBytes <= 0 disables the body cap.
func NewFetcher(client *http.Client, userAgent string, maxBodyBytes int64, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:       client,
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
		log:          log,
	}
}

// Get performs one HTTP GET and reads the whole body.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	reqLog := f.log.WithField("url", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			reqLog.Debugf("Request cancelled: %v", err)
		} else {
			reqLog.Warnf("Network error: %v", err)
		}
		return nil, fmt.Errorf("%w: GET '%s': %w", utils.ErrTransport, rawURL, err)
	}
	// Drain and close so the connection can be reused
	drain := true
	defer func() {
		if drain {
			io.Copy(io.Discard, resp.Body)
		}
		resp.Body.Close()
	}()

	statusCode := resp.StatusCode
	resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "status": resp.Status})
	if statusCode < 200 || statusCode >= 300 {
		resLog.Warn("Non-success status")
		return nil, &utils.HTTPStatusError{StatusCode: statusCode, URL: rawURL}
	}

	var reader io.Reader = resp.Body
	if f.maxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBodyBytes+1) // +1 to detect exceeding the limit
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading '%s': %w", utils.ErrResponseBodyRead, rawURL, err)
	}
	if f.maxBodyBytes > 0 && int64(len(body)) > f.maxBodyBytes {
		drain = false
		resLog.Warnf("Page exceeds max size of %d bytes", f.maxBodyBytes)
		return nil, fmt.Errorf("%w: page '%s' exceeds max size (more than %d bytes)", utils.ErrResponseBodyRead, rawURL, f.maxBodyBytes)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	resLog.Debug("Successfully fetched")

	return &Response{
		URL:         finalURL,
		StatusCode:  statusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
