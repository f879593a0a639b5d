package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"site-mapper/pkg/models"
)

const namespace = "site_mapper"

// Recorder manages the Prometheus metrics of crawls and the sitemap endpoint.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	pagesTotal       *prometheus.CounterVec
	pageFetchSeconds prometheus.Histogram
	crawlsTotal      *prometheus.CounterVec
	crawlDuration    *prometheus.HistogramVec
	frontierSize     *prometheus.GaugeVec
	sitemapEntries   *prometheus.GaugeVec
	httpRequests     *prometheus.CounterVec
	buildInfo        *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its own registry
func NewRecorder(version string) *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.pagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Visited URLs by site and outcome status",
		},
		[]string{"site", "status"},
	)

	r.pageFetchSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_fetch_duration_seconds",
			Help:      "Time spent fetching and extracting a single page",
			Buckets:   prometheus.DefBuckets,
		},
	)

	r.crawlsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawls_total",
			Help:      "Completed crawl runs by site and result",
		},
		[]string{"site", "result"},
	)

	r.crawlDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crawl_duration_seconds",
			Help:      "Wall time of crawl runs",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"site"},
	)

	r.frontierSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frontier_size",
			Help:      "Targets in the BFS level currently being crawled",
		},
		[]string{"site"},
	)

	r.sitemapEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sitemap_entries",
			Help:      "Entries in the last assembled sitemap",
		},
		[]string{"site"},
	)

	r.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Sitemap endpoint requests by source and status",
		},
		[]string{"source", "status"},
	)

	r.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version"},
	)

	r.registry.MustRegister(
		r.pagesTotal,
		r.pageFetchSeconds,
		r.crawlsTotal,
		r.crawlDuration,
		r.frontierSize,
		r.sitemapEntries,
		r.httpRequests,
		r.buildInfo,
		collectors.NewGoCollector(),
	)
	r.buildInfo.WithLabelValues(version).Set(1)

	return r
}

// Handler exposes the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// PageVisited counts one recorded URL and its fetch time
func (r *Recorder) PageVisited(site string, status models.PageStatus, took time.Duration) {
	if r == nil {
		return
	}
	r.pagesTotal.WithLabelValues(site, status.String()).Inc()
	r.pageFetchSeconds.Observe(took.Seconds())
}

// PageExcluded counts a frontier target rejected by the target filter
func (r *Recorder) PageExcluded(site string) {
	if r == nil {
		return
	}
	r.pagesTotal.WithLabelValues(site, "excluded").Inc()
}

// LevelStarted records the size of the level about to be crawled
func (r *Recorder) LevelStarted(site string, size int) {
	if r == nil {
		return
	}
	r.frontierSize.WithLabelValues(site).Set(float64(size))
}

// CrawlFinished records the outcome of a crawl run
func (r *Recorder) CrawlFinished(site string, err error, took time.Duration, entries int) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	r.crawlsTotal.WithLabelValues(site, result).Inc()
	r.crawlDuration.WithLabelValues(site).Observe(took.Seconds())
	r.frontierSize.WithLabelValues(site).Set(0)
	if err == nil {
		r.sitemapEntries.WithLabelValues(site).Set(float64(entries))
	}
}

// SitemapServed counts a sitemap endpoint response
func (r *Recorder) SitemapServed(source string, statusCode int) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(source, strconv.Itoa(statusCode)).Inc()
}
