package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-mapper/pkg/models"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder("test")

	r.PageVisited("docs", models.PageStatusCrawled, 10*time.Millisecond)
	r.PageVisited("docs", models.PageStatusCrawled, 20*time.Millisecond)
	r.PageVisited("docs", models.PageStatusNotFound, time.Millisecond)
	r.PageExcluded("docs")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.pagesTotal.WithLabelValues("docs", "crawled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pagesTotal.WithLabelValues("docs", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pagesTotal.WithLabelValues("docs", "excluded")))
}

func TestRecorder_CrawlFinished(t *testing.T) {
	r := NewRecorder("test")

	r.LevelStarted("docs", 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(r.frontierSize.WithLabelValues("docs")))

	r.CrawlFinished("docs", nil, time.Second, 42)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.frontierSize.WithLabelValues("docs")))
	assert.Equal(t, 42.0, testutil.ToFloat64(r.sitemapEntries.WithLabelValues("docs")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.crawlsTotal.WithLabelValues("docs", "success")))

	r.CrawlFinished("docs", errors.New("boom"), time.Second, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.crawlsTotal.WithLabelValues("docs", "error")))
	assert.Equal(t, 42.0, testutil.ToFloat64(r.sitemapEntries.WithLabelValues("docs")), "failed crawls keep the last count")
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.PageVisited("docs", models.PageStatusCrawled, time.Millisecond)
		r.PageExcluded("docs")
		r.LevelStarted("docs", 1)
		r.CrawlFinished("docs", nil, time.Second, 1)
		r.SitemapServed("cache", 200)
	})
	assert.Nil(t, r.Registry())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder("1.2.3")
	r.SitemapServed("crawl", 200)

	server := httptest.NewServer(r.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `site_mapper_build_info{version="1.2.3"} 1`)
	assert.Contains(t, string(body), `site_mapper_http_requests_total{source="crawl",status="200"} 1`)
}
