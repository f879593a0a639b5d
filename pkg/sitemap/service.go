package sitemap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"site-mapper/pkg/config"
	"site-mapper/pkg/crawler"
	"site-mapper/pkg/utils"
)

// Document sources
const (
	SourceCache = "cache"
	SourceCrawl = "crawl"
)

// SiteCrawler runs a full crawl of one configured site
type SiteCrawler interface {
	CrawlSite(ctx context.Context, siteKey string) (*crawler.Result, error)
}

// Document is a rendered sitemap ready to be served
type Document struct {
	Body        []byte
	ETag        string
	GeneratedAt time.Time
	Source      string
	CachePath   string          // Set when the document was read from or written to the file cache
	Result      *crawler.Result // Nil for cached documents
}

// Service produces the sitemap of one site, from the file cache or a fresh crawl
type Service struct {
	siteKey     string
	maxPriority int
	crawler     SiteCrawler
	cache       *FileCache // Nil when the file cache is disabled
	log         *logrus.Entry
	group       singleflight.Group

	mu     sync.Mutex
	flight *generation // In-flight crawl, nil when idle
}

// generation is a crawl shared by concurrent callers. Its context outlives
// any single caller and is cancelled once every caller has given up.
type generation struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
	running bool // Set once a crawl runs under ctx
}

// NewService creates the sitemap service for siteKey
func NewService(appCfg *config.AppConfig, siteKey string, siteCrawler SiteCrawler, log *logrus.Entry) (*Service, error) {
	siteCfg, ok := appCfg.Sites[siteKey]
	if !ok {
		return nil, fmt.Errorf("%w: site '%s' not found in configuration", utils.ErrConfigValidation, siteKey)
	}
	logger := log.WithFields(logrus.Fields{"site_key": siteKey, "component": "sitemap_service"})
	maxPriority, _ := config.GetEffectivePriorityBounds(siteCfg, *appCfg)

	s := &Service{
		siteKey:     siteKey,
		maxPriority: maxPriority,
		crawler:     siteCrawler,
		log:         logger,
	}
	if config.GetEffectiveFileCacheEnabled(siteCfg, *appCfg) {
		s.cache = NewSiteFileCache(appCfg, siteKey, logger)
	}
	return s, nil
}

// SiteKey returns the site this service generates
func (s *Service) SiteKey() string {
	return s.siteKey
}

// CacheEnabled reports whether documents are persisted between requests
func (s *Service) CacheEnabled() bool {
	return s.cache != nil
}

// Get returns the site's sitemap. A cached document is returned when the file
// cache is enabled, a file exists and refresh is false; otherwise the site is
// crawled. Concurrent callers that need a crawl share a single one.
func (s *Service) Get(ctx context.Context, refresh bool) (*Document, error) {
	if s.cache != nil && !refresh {
		data, modTime, ok, err := s.cache.Read()
		if err != nil {
			s.log.Warnf("Ignoring unreadable sitemap cache: %v", err)
		} else if ok {
			s.log.Debugf("Serving cached sitemap from %s", s.cache.Path())
			return &Document{
				Body:        data,
				ETag:        utils.CalculateSHA256(data),
				GeneratedAt: modTime,
				Source:      SourceCache,
				CachePath:   s.cache.Path(),
			}, nil
		}
	}

	for {
		g := s.join(ctx)
		ch := s.group.DoChan(s.siteKey, func() (interface{}, error) {
			s.start(g)
			defer s.finish(g)
			return s.generate(g.ctx)
		})

		select {
		case res := <-ch:
			s.leave(g)
			if res.Err != nil {
				// The shared crawl was abandoned by the callers that started it
				if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
					s.log.Debug("Shared sitemap generation was cancelled, starting a new one")
					continue
				}
				return nil, res.Err
			}
			if res.Shared {
				s.log.Debug("Joined an in-flight sitemap generation")
			}
			return res.Val.(*Document), nil
		case <-ctx.Done():
			if s.leave(g) {
				// Wait for the abandoned crawl to release its resources
				<-ch
			}
			return nil, ctx.Err()
		}
	}
}

// join registers the caller with the in-flight generation, starting a new
// one when none is running
func (s *Service) join(ctx context.Context) *generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flight == nil {
		genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.flight = &generation{ctx: genCtx, cancel: cancel}
	}
	s.flight.waiters++
	return s.flight
}

// leave unregisters a caller. The last caller out cancels the crawl and
// reports whether a crawl was running under g.
func (s *Service) leave(g *generation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.waiters--
	if g.waiters > 0 {
		return false
	}
	g.cancel()
	if s.flight == g {
		s.flight = nil
	}
	return g.running
}

func (s *Service) start(g *generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.running = true
}

// finish detaches g once its crawl has returned
func (s *Service) finish(g *generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flight == g {
		s.flight = nil
	}
}

func (s *Service) generate(ctx context.Context) (*Document, error) {
	s.log.Info("Generating sitemap")
	result, err := s.crawler.CrawlSite(ctx, s.siteKey)
	if err != nil {
		return nil, fmt.Errorf("crawling site '%s': %w", s.siteKey, err)
	}

	body, err := RenderBytes(result.Entries, s.maxPriority)
	if err != nil {
		return nil, fmt.Errorf("rendering sitemap for '%s': %w", s.siteKey, err)
	}

	doc := &Document{
		Body:        body,
		ETag:        utils.CalculateSHA256(body),
		GeneratedAt: time.Now(),
		Source:      SourceCrawl,
		Result:      result,
	}
	if s.cache != nil {
		if err := s.cache.Write(body); err != nil {
			s.log.Errorf("Failed to cache sitemap: %v", err)
		} else {
			doc.CachePath = s.cache.Path()
		}
	}
	return doc, nil
}
