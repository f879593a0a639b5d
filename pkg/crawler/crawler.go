package crawler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"site-mapper/pkg/config"
	"site-mapper/pkg/fetch"
	"site-mapper/pkg/metrics"
	"site-mapper/pkg/models"
	"site-mapper/pkg/parse"
	"site-mapper/pkg/process"
	"site-mapper/pkg/storage"
	"site-mapper/pkg/utils"
)

// Crawler walks one site breadth-first, level by level, and records a
// CrawledEntry for every page the first time its canonical URL is reached.
type Crawler struct {
	log         *logrus.Entry // Logger contextualized with site_key and run_id
	appCfg      *config.AppConfig
	siteCfg     *config.SiteConfig
	siteKey     string
	runID       string
	maxPriority int
	minPriority int

	// Core components
	store   storage.VisitedStore
	loader  *fetch.PageLoader
	filter  *parse.TargetFilter
	links   *process.LinkExtractor
	meta    *process.MetadataExtractor
	images  *process.ImageExtractor
	metrics *metrics.Recorder

	concurrency int // Parallel fetches within one level

	// Progress tracking
	currentLevel     atomic.Int64
	frontierSize     atomic.Int64
	processedCounter atomic.Int64
	running          atomic.Bool
}

// CrawlerOptions contains optional parameters for NewCrawler
type CrawlerOptions struct {
	// Metrics receives page and crawl observations. May be nil.
	Metrics *metrics.Recorder
	// Now supplies the crawl time used for pages without a modification date.
	// Defaults to time.Now.
	Now func() time.Time
}

// Result is the outcome of a completed crawl
type Result struct {
	Entries []models.SitemapEntry
	Stats   models.CrawlStats
}

// CrawlerProgress contains progress information for a crawler
type CrawlerProgress struct {
	SiteKey        string
	RunID          string
	Level          int
	FrontierSize   int
	PagesProcessed int64
	IsRunning      bool
}

// pageVisit carries one frontier target through fetch and extraction.
// Only the scheduler goroutine reads it after the level's fetches finish.
type pageVisit struct {
	target    models.PendingTarget
	canonical string

	entry      *models.CrawledEntry
	links      []models.PendingTarget
	statusCode int
	err        error
	took       time.Duration
}

// NewCrawler creates and initializes a new Crawler instance and its components.
// appCfg and siteCfg must already be validated.
func NewCrawler(
	appCfg *config.AppConfig,
	siteCfg *config.SiteConfig,
	siteKey string,
	baseLogger *logrus.Entry,
	store storage.VisitedStore,
	fetcher fetch.HTTPFetcher,
	opts *CrawlerOptions,
) (*Crawler, error) {
	if opts == nil {
		opts = &CrawlerOptions{}
	}

	runID := uuid.New().String()
	logger := baseLogger.WithFields(logrus.Fields{"site_key": siteKey, "run_id": runID})

	compiledDisallowedPatterns, err := utils.CompileRegexPatterns(siteCfg.DisallowedPathPatterns)
	if err != nil {
		return nil, fmt.Errorf("compiling disallowed patterns for site '%s': %w", siteKey, err)
	}
	if len(compiledDisallowedPatterns) > 0 {
		logger.Infof("Compiled %d disallowed path patterns.", len(compiledDisallowedPatterns))
	}

	siteRoot, err := parse.SiteRoot(siteCfg.StartURL)
	if err != nil {
		return nil, fmt.Errorf("%w: start_url '%s' for site '%s': %w", utils.ErrConfigValidation, siteCfg.StartURL, siteKey, err)
	}

	if err := config.ValidatePriorityBounds(*siteCfg, *appCfg); err != nil {
		return nil, fmt.Errorf("site '%s': %w", siteKey, err)
	}

	concurrency := appCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	maxPriority, minPriority := config.GetEffectivePriorityBounds(*siteCfg, *appCfg)

	c := &Crawler{
		log:         logger,
		appCfg:      appCfg,
		siteCfg:     siteCfg,
		siteKey:     siteKey,
		runID:       runID,
		maxPriority: maxPriority,
		minPriority: minPriority,
		store:       store,
		loader:      fetch.NewPageLoader(fetcher, logger),
		filter:      parse.NewTargetFilter(siteCfg.PrimaryHost, compiledDisallowedPatterns),
		links:       process.NewLinkExtractor(siteRoot, logger),
		meta:        process.NewMetadataExtractor(appCfg.LastModifiedFallback, opts.Now),
		images:      process.NewImageExtractor(),
		metrics:     opts.Metrics,
		concurrency: concurrency,
	}
	return c, nil
}

// RunID returns the identifier of this crawler's run
func (c *Crawler) RunID() string {
	return c.runID
}

// GetProgress returns the current progress of the crawler
func (c *Crawler) GetProgress() CrawlerProgress {
	return CrawlerProgress{
		SiteKey:        c.siteKey,
		RunID:          c.runID,
		Level:          int(c.currentLevel.Load()),
		FrontierSize:   int(c.frontierSize.Load()),
		PagesProcessed: c.processedCounter.Load(),
		IsRunning:      c.running.Load(),
	}
}

// InferredPriority maps a BFS level to a priority: max(maxPriority-level, minPriority)
func InferredPriority(level, maxPriority, minPriority int) int {
	return max(maxPriority-level, minPriority)
}

// Run crawls the site from its start URL and blocks until no level yields new
// targets or ctx is cancelled. A URL's record is never replaced once written,
// so a page keeps the priority of the shallowest level it was found at.
func (c *Crawler) Run(ctx context.Context) (*Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("crawler for site '%s' is already running", c.siteKey)
	}
	defer c.running.Store(false)

	if c.appCfg.GlobalCrawlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.appCfg.GlobalCrawlTimeout)
		defer cancel()
	}

	stats := models.CrawlStats{
		RunID:     c.runID,
		SiteKey:   c.siteKey,
		StartURL:  c.siteCfg.StartURL,
		StartedAt: time.Now(),
	}
	runLogFields := logrus.Fields{"start_url": c.siteCfg.StartURL, "host": c.filter.Host()}
	c.log.WithFields(runLogFields).Infof("Crawl starting (concurrency %d, priority %d..%d)...",
		c.appCfg.Concurrency, c.maxPriority, c.minPriority)

	runErr := c.crawlLevels(ctx, &stats)

	var entries []models.SitemapEntry
	if runErr == nil {
		var err error
		entries, err = Assemble(ctx, c.store)
		if err != nil {
			runErr = fmt.Errorf("assembling sitemap entries: %w", err)
		}
	}
	stats.Duration = time.Since(stats.StartedAt)
	stats.EntriesOutput = len(entries)
	c.metrics.CrawlFinished(c.siteKey, runErr, stats.Duration, len(entries))

	c.log.WithFields(runLogFields).Info("===== Crawl Summary =====")
	c.log.WithFields(logrus.Fields{
		"levels":         stats.Levels,
		"pages_visited":  stats.PagesVisited,
		"pages_crawled":  stats.PagesCrawled,
		"pages_failed":   stats.PagesFailed,
		"pages_excluded": stats.PagesExcluded,
		"entries":        stats.EntriesOutput,
		"duration":       stats.Duration.String(),
	}).Info("Crawl finished")
	c.log.WithFields(runLogFields).Info("=========================")

	if runErr != nil {
		return &Result{Stats: stats}, runErr
	}
	return &Result{Entries: entries, Stats: stats}, nil
}

// crawlLevels processes frontiers until one comes up empty
func (c *Crawler) crawlLevels(ctx context.Context, stats *models.CrawlStats) error {
	frontier := []models.PendingTarget{{URL: c.siteCfg.StartURL, Level: 0}}

	for level := 0; len(frontier) > 0; level++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.siteCfg.MaxDepth > 0 && level > c.siteCfg.MaxDepth {
			c.log.Infof("Max depth (%d) reached, %d targets at level %d not crawled.", c.siteCfg.MaxDepth, len(frontier), level)
			break
		}

		levelLog := c.log.WithFields(logrus.Fields{"level": level, "frontier": len(frontier)})
		levelLog.Info("Crawling level")
		c.currentLevel.Store(int64(level))
		c.frontierSize.Store(int64(len(frontier)))
		c.metrics.LevelStarted(c.siteKey, len(frontier))
		stats.Levels = level + 1

		visits, err := c.selectVisits(frontier, stats, levelLog)
		if err != nil {
			return err
		}
		c.fetchLevel(ctx, visits, levelLog)
		if err := ctx.Err(); err != nil {
			return err
		}

		next, err := c.mergeLevel(visits, stats, levelLog)
		if err != nil {
			return err
		}
		levelLog.WithField("next_frontier", len(next)).Debug("Level complete")
		frontier = next
	}
	return nil
}

// selectVisits canonicalizes the frontier and keeps the targets that pass the
// filter and have not been visited yet, in frontier order.
func (c *Crawler) selectVisits(frontier []models.PendingTarget, stats *models.CrawlStats, levelLog *logrus.Entry) ([]*pageVisit, error) {
	visits := make([]*pageVisit, 0, len(frontier))
	inLevel := make(map[string]struct{}, len(frontier))

	for _, target := range frontier {
		canonical := parse.Canonicalize(target.URL)

		if err := c.filter.Check(canonical); err != nil {
			if errors.Is(err, utils.ErrParsing) {
				levelLog.WithField("url", target.URL).Warnf("Skipping malformed URL: %v", err)
			} else {
				levelLog.WithField("url", canonical).Debugf("Excluded: %v", err)
			}
			stats.PagesExcluded++
			c.metrics.PageExcluded(c.siteKey)
			continue
		}

		if _, dup := inLevel[canonical]; dup {
			continue
		}
		visited, err := c.store.IsVisited(canonical)
		if err != nil {
			return nil, err
		}
		if visited {
			continue
		}

		inLevel[canonical] = struct{}{}
		visits = append(visits, &pageVisit{target: target, canonical: canonical})
	}
	return visits, nil
}

// fetchLevel fetches and extracts every visit, up to the configured
// concurrency at a time. Results stay on the visits for mergeLevel.
func (c *Crawler) fetchLevel(ctx context.Context, visits []*pageVisit, levelLog *logrus.Entry) {
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, v := range visits {
		if err := ctx.Err(); err != nil {
			levelLog.Warnf("Stopping level early: %v", err)
			break
		}
		g.Go(func() error {
			c.visitPage(ctx, v, levelLog.WithField("url", v.canonical))
			return nil
		})
	}
	_ = g.Wait()
}

// visitPage fetches one page and extracts its links, metadata and images.
// The parsed document does not outlive this call.
func (c *Crawler) visitPage(ctx context.Context, v *pageVisit, taskLog *logrus.Entry) {
	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			v.err = fmt.Errorf("panic: %v", r)
			taskLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered while visiting page")
		}
		v.took = time.Since(startTime)
		c.processedCounter.Add(1)
	}()

	taskCtx := ctx
	if c.appCfg.PerPageTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, c.appCfg.PerPageTimeout)
		defer cancel()
	}

	page, err := c.loader.Load(taskCtx, v.canonical, func(page *fetch.Page) error {
		v.links = c.links.Extract(page.Document, v.canonical, v.target.Level)
		meta := c.meta.Extract(page.Document)
		images := c.images.Extract(page.Document, v.canonical)
		v.entry = c.buildEntry(v.target.Level, meta, images)
		return nil
	})
	v.statusCode = page.StatusCode
	v.err = err
}

// buildEntry applies the priority rule: a page-declared priority wins,
// otherwise the priority falls with depth down to the minimum.
func (c *Crawler) buildEntry(level int, meta process.PageMetadata, images []models.ImageRef) *models.CrawledEntry {
	entry := &models.CrawledEntry{
		Priority:        InferredPriority(level, c.maxPriority, c.minPriority),
		ChangeFrequency: meta.ChangeFrequency,
		LastModified:    meta.LastModified,
		Images:          images,
		IsIncluded:      meta.IncludeInSitemap,
	}
	if meta.HasPriority {
		entry.Priority = meta.Priority
		entry.IsDeclaredPriority = true
	}
	return entry
}

// mergeLevel records the level's results and builds the next frontier, both
// in frontier order, so the outcome does not depend on fetch concurrency.
func (c *Crawler) mergeLevel(visits []*pageVisit, stats *models.CrawlStats, levelLog *logrus.Entry) ([]models.PendingTarget, error) {
	var next []models.PendingTarget
	queued := make(map[string]struct{})

	for _, v := range visits {
		rec := c.recordFor(v)
		added, err := c.store.RecordPage(v.canonical, rec)
		if err != nil {
			return nil, err
		}
		if !added {
			continue
		}

		stats.PagesVisited++
		if rec.Status == models.PageStatusCrawled {
			stats.PagesCrawled++
		} else {
			stats.PagesFailed++
		}
		c.metrics.PageVisited(c.siteKey, rec.Status, v.took)

		logFields := logrus.Fields{"url": v.canonical, "status": rec.Status, "duration": v.took.String()}
		if v.err != nil {
			logFields["category"] = rec.ErrorType
			levelLog.WithFields(logFields).Infof("Page not usable: %v", v.err)
			continue
		}
		logFields["priority"] = rec.Entry.Priority
		logFields["links"] = len(v.links)
		levelLog.WithFields(logFields).Debug("Page recorded")

		for _, link := range v.links {
			if _, dup := queued[link.URL]; dup {
				continue
			}
			visited, err := c.store.IsVisited(link.URL)
			if err != nil {
				return nil, err
			}
			if visited {
				continue
			}
			queued[link.URL] = struct{}{}
			next = append(next, link)
		}
	}
	return next, nil
}

// recordFor turns a visit outcome into the record kept in the visited store
func (c *Crawler) recordFor(v *pageVisit) *models.PageRecord {
	rec := &models.PageRecord{
		Depth:       v.target.Level,
		LastAttempt: time.Now(),
		StatusCode:  v.statusCode,
	}
	switch {
	case v.err == nil:
		rec.Status = models.PageStatusCrawled
		rec.Entry = v.entry
	case errors.Is(v.err, utils.ErrNotFound):
		rec.Status = models.PageStatusNotFound
	case errors.Is(v.err, utils.ErrNonHTMLContent):
		rec.Status = models.PageStatusNonHTML
	default:
		rec.Status = models.PageStatusFailed
	}
	if v.err != nil {
		rec.ErrorType = utils.CategorizeError(v.err)
	}
	return rec
}
