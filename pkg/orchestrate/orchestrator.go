package orchestrate

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"site-mapper/pkg/config"
	"site-mapper/pkg/crawler"
	"site-mapper/pkg/fetch"
	"site-mapper/pkg/metrics"
	"site-mapper/pkg/sitemap"
	"site-mapper/pkg/storage"
	"site-mapper/pkg/utils"
)

// SiteRunnerOptions contains optional parameters for NewSiteRunner
type SiteRunnerOptions struct {
	// Fetcher replaces the per-site HTTP fetchers, mainly for tests
	Fetcher fetch.HTTPFetcher
	Metrics *metrics.Recorder
	Now     func() time.Time
}

// SiteRunner crawls configured sites with a shared HTTP client.
// It implements sitemap.SiteCrawler.
type SiteRunner struct {
	appCfg   *config.AppConfig
	client   *http.Client
	opts     SiteRunnerOptions
	log      *logrus.Entry
	active   map[string]*crawler.Crawler // Nil value while a crawl is starting
	activeMu sync.Mutex
}

// NewSiteRunner creates a SiteRunner for the sites of appCfg
func NewSiteRunner(appCfg *config.AppConfig, log *logrus.Entry, opts *SiteRunnerOptions) *SiteRunner {
	r := &SiteRunner{
		appCfg: appCfg,
		log:    log,
		active: make(map[string]*crawler.Crawler),
	}
	if opts != nil {
		r.opts = *opts
	}
	if r.opts.Fetcher == nil {
		r.client = fetch.NewClient(appCfg.HTTPClientSettings, log)
	}
	return r
}

// CrawlSite runs one full crawl of siteKey and returns its entries.
// The visited store lives only for the duration of the call.
func (r *SiteRunner) CrawlSite(ctx context.Context, siteKey string) (*crawler.Result, error) {
	siteCfg, exists := r.appCfg.Sites[siteKey]
	if !exists {
		return nil, fmt.Errorf("%w: site '%s' not found in configuration", utils.ErrConfigValidation, siteKey)
	}
	if _, err := siteCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for site '%s': %w", siteKey, err)
	}
	logger := r.log.WithField("site_key", siteKey)

	r.activeMu.Lock()
	if _, running := r.active[siteKey]; running {
		r.activeMu.Unlock()
		return nil, fmt.Errorf("a crawl of site '%s' is already running", siteKey)
	}
	r.active[siteKey] = nil
	r.activeMu.Unlock()
	defer func() {
		r.activeMu.Lock()
		delete(r.active, siteKey)
		r.activeMu.Unlock()
	}()

	store, stopGC, err := r.openStore(ctx, siteKey, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		stopGC()
		if err := store.Close(); err != nil {
			logger.Errorf("Failed to close visited store: %v", err)
		}
	}()

	fetcher := r.opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewFetcher(r.client, config.GetEffectiveUserAgent(siteCfg, *r.appCfg), r.appCfg.MaxPageSizeBytes, logger)
	}

	c, err := crawler.NewCrawler(r.appCfg, &siteCfg, siteKey, r.log, store, fetcher, &crawler.CrawlerOptions{
		Metrics: r.opts.Metrics,
		Now:     r.opts.Now,
	})
	if err != nil {
		return nil, err
	}

	r.activeMu.Lock()
	r.active[siteKey] = c
	r.activeMu.Unlock()

	result, runErr := c.Run(ctx)

	if r.appCfg.StateDir != "" {
		logPath := filepath.Join(r.appCfg.StateDir, utils.SiteKeyFilename(siteKey)+"_visited.tsv")
		if err := store.WriteVisitedLog(context.WithoutCancel(ctx), logPath); err != nil {
			logger.Warnf("Failed to write visited log: %v", err)
		}
	}
	return result, runErr
}

// openStore picks the BadgerDB store when a state directory is configured.
// The returned stop function ends background maintenance of the store and
// returns once it has fully stopped.
func (r *SiteRunner) openStore(ctx context.Context, siteKey string, logger *logrus.Entry) (storage.VisitedStore, func(), error) {
	if r.appCfg.StateDir == "" {
		return storage.NewMemoryStore(logger), func() {}, nil
	}
	store, err := storage.NewBadgerStore(r.appCfg.StateDir, siteKey, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store for '%s': %w", siteKey, err)
	}
	return store, store.StartGC(ctx, 0), nil
}

// Progress returns the progress of the running crawl of siteKey, if any
func (r *SiteRunner) Progress(siteKey string) (crawler.CrawlerProgress, bool) {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	c, ok := r.active[siteKey]
	if !ok || c == nil {
		return crawler.CrawlerProgress{SiteKey: siteKey}, false
	}
	return c.GetProgress(), true
}

// SiteResult contains the result of crawling a single site
type SiteResult struct {
	SiteKey      string
	Success      bool
	Error        error
	PagesVisited int
	Entries      int
	SitemapPath  string
	ReportPath   string
	Duration     time.Duration
}

// Orchestrator generates the sitemaps of several sites in parallel
type Orchestrator struct {
	appCfg   *config.AppConfig
	runner   *SiteRunner
	log      *logrus.Entry
	siteKeys []string

	results   []SiteResult
	resultsMu sync.Mutex
}

// NewOrchestrator creates a new orchestrator for parallel site crawling
func NewOrchestrator(appCfg *config.AppConfig, siteKeys []string, runner *SiteRunner, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		appCfg:   appCfg,
		runner:   runner,
		log:      log,
		siteKeys: siteKeys,
		results:  make([]SiteResult, 0, len(siteKeys)),
	}
}

// Run crawls every site, writes its sitemap and crawl report, and waits for
// all of them. Results are ordered by site key.
func (o *Orchestrator) Run(ctx context.Context) []SiteResult {
	startTime := time.Now()
	o.log.Infof("Starting crawl of %d sites: %v", len(o.siteKeys), o.siteKeys)

	var wg sync.WaitGroup
	for _, siteKey := range o.siteKeys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			result := o.generateSite(ctx, key)
			o.resultsMu.Lock()
			o.results = append(o.results, result)
			o.resultsMu.Unlock()
		}(siteKey)
	}
	wg.Wait()

	sort.Slice(o.results, func(i, j int) bool { return o.results[i].SiteKey < o.results[j].SiteKey })
	o.logSummary(time.Since(startTime))
	return o.results
}

// generateSite crawls one site and persists its outputs
func (o *Orchestrator) generateSite(ctx context.Context, siteKey string) SiteResult {
	startTime := time.Now()
	result := SiteResult{SiteKey: siteKey}
	siteLog := o.log.WithField("site_key", siteKey)

	svc, err := sitemap.NewService(o.appCfg, siteKey, o.runner, o.log)
	if err != nil {
		result.Error = err
		siteLog.Errorf("Cannot generate sitemap: %v", err)
		return result
	}

	doc, err := svc.Get(ctx, true)
	result.Duration = time.Since(startTime)
	if err != nil {
		result.Error = err
		siteLog.Errorf("Crawl failed: %v", err)
		return result
	}

	result.SitemapPath = doc.CachePath
	if result.SitemapPath == "" {
		cache := sitemap.NewSiteFileCache(o.appCfg, siteKey, siteLog)
		if err := cache.Write(doc.Body); err != nil {
			result.Error = err
			siteLog.Errorf("Failed to write sitemap: %v", err)
			return result
		}
		result.SitemapPath = cache.Path()
	}

	siteCfg := o.appCfg.Sites[siteKey]
	reportPath, err := crawler.WriteReport(siteLog, sitemap.SiteOutputDir(o.appCfg, siteKey), siteKey, &siteCfg, doc.Result)
	if err != nil {
		siteLog.Warnf("Failed to write crawl report: %v", err)
	}

	result.Success = true
	result.ReportPath = reportPath
	result.PagesVisited = doc.Result.Stats.PagesVisited
	result.Entries = len(doc.Result.Entries)
	siteLog.Infof("Sitemap for site '%s' written to %s", siteKey, result.SitemapPath)
	return result
}

// logSummary logs a summary of all crawl results
func (o *Orchestrator) logSummary(totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Crawl of all sites completed in %v", totalDuration)
	o.log.Info("Site Results:")

	var totalEntries int
	successCount := 0
	failCount := 0

	for _, r := range o.results {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
			failCount++
		} else {
			successCount++
		}
		totalEntries += r.Entries

		o.log.Infof("  %s: %s - %d pages, %d entries in %v", r.SiteKey, status, r.PagesVisited, r.Entries, r.Duration)
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d sites (%d success, %d failed), %d sitemap entries",
		len(o.results), successCount, failCount, totalEntries)
	o.log.Info("============================================")
}

// ValidateSiteKeys checks that all provided site keys exist in the config
func ValidateSiteKeys(appCfg *config.AppConfig, siteKeys []string) error {
	for _, key := range siteKeys {
		if _, exists := appCfg.Sites[key]; !exists {
			return fmt.Errorf("site '%s' not found. Available sites: %v", key, GetAllSiteKeys(appCfg))
		}
	}
	return nil
}

// GetAllSiteKeys returns all site keys from the config, sorted
func GetAllSiteKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
