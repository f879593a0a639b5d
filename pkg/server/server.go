package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	applog "site-mapper/pkg/log"
	"site-mapper/pkg/metrics"
	"site-mapper/pkg/sitemap"
)

const sitemapContentType = "text/xml; charset=utf-8"

// SitemapProvider produces the sitemap document of one site
type SitemapProvider interface {
	Get(ctx context.Context, refresh bool) (*sitemap.Document, error)
}

// Config represents server configuration
type Config struct {
	Addr         string
	DefaultSite  string // Site served at /sitemap.xml
	ReadTimeout  time.Duration
	WriteTimeout time.Duration // Must allow for a full crawl when refresh is requested
	IdleTimeout  time.Duration
	Version      string
}

// DefaultConfig returns default server configuration
func DefaultConfig(addr, defaultSite string) Config {
	return Config{
		Addr:         addr,
		DefaultSite:  defaultSite,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
}

// Server exposes generated sitemaps over HTTP
type Server struct {
	cfg       Config
	providers map[string]SitemapProvider
	metrics   *metrics.Recorder
	log       *logrus.Entry
	router    *gin.Engine
}

// New creates a Server for the given per-site providers
func New(cfg Config, providers map[string]SitemapProvider, recorder *metrics.Recorder, log *logrus.Entry) (*Server, error) {
	if len(providers) == 0 {
		return nil, errors.New("no sites to serve")
	}
	if cfg.DefaultSite == "" && len(providers) == 1 {
		for key := range providers {
			cfg.DefaultSite = key
		}
	}
	if cfg.DefaultSite != "" {
		if _, ok := providers[cfg.DefaultSite]; !ok {
			return nil, fmt.Errorf("default site '%s' is not served", cfg.DefaultSite)
		}
	}

	s := &Server{
		cfg:       cfg,
		providers: providers,
		metrics:   recorder,
		log:       log.WithField("component", "http_server"),
	}
	s.router = s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(s.log))
	router.Use(recoveryMiddleware(s.log))

	router.GET("/sitemap.xml", s.handleDefaultSitemap)
	router.GET("/sites", s.handleListSites)
	router.GET("/sites/:site/sitemap.xml", s.handleSiteSitemap)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": s.cfg.Version})
	})
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	return router
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		ErrorLog:     applog.NewStdLogger(s.log, logrus.WarnLevel),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("Starting HTTP server")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.log.Info("Server stopped")
	return nil
}

func (s *Server) handleDefaultSitemap(c *gin.Context) {
	if s.cfg.DefaultSite == "" {
		s.metrics.SitemapServed("none", http.StatusNotFound)
		c.JSON(http.StatusNotFound, gin.H{"error": "no default site configured, use /sites/{site}/sitemap.xml"})
		return
	}
	s.serveSitemap(c, s.cfg.DefaultSite)
}

func (s *Server) handleSiteSitemap(c *gin.Context) {
	s.serveSitemap(c, c.Param("site"))
}

func (s *Server) handleListSites(c *gin.Context) {
	sites := make([]string, 0, len(s.providers))
	for key := range s.providers {
		sites = append(sites, key)
	}
	sort.Strings(sites)
	c.JSON(http.StatusOK, gin.H{"sites": sites, "default": s.cfg.DefaultSite})
}

func (s *Server) serveSitemap(c *gin.Context, siteKey string) {
	provider, ok := s.providers[siteKey]
	if !ok {
		s.metrics.SitemapServed("none", http.StatusNotFound)
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown site '%s'", siteKey)})
		return
	}

	refresh := false
	if raw := c.Query("refresh"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.metrics.SitemapServed("none", http.StatusBadRequest)
			c.JSON(http.StatusBadRequest, gin.H{"error": "refresh must be a boolean"})
			return
		}
		refresh = parsed
	}

	doc, err := provider.Get(c.Request.Context(), refresh)
	if err != nil {
		s.log.WithField("site_key", siteKey).Errorf("Sitemap generation failed: %v", err)
		s.metrics.SitemapServed("error", http.StatusInternalServerError)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sitemap generation failed"})
		return
	}

	etag := `"` + doc.ETag + `"`
	c.Header("ETag", etag)
	c.Header("X-Sitemap-Source", doc.Source)
	if !doc.GeneratedAt.IsZero() {
		c.Header("Last-Modified", doc.GeneratedAt.UTC().Format(http.TimeFormat))
	}
	if etagMatches(c.GetHeader("If-None-Match"), etag) {
		s.metrics.SitemapServed(doc.Source, http.StatusNotModified)
		c.Status(http.StatusNotModified)
		return
	}

	s.metrics.SitemapServed(doc.Source, http.StatusOK)
	c.Data(http.StatusOK, sitemapContentType, doc.Body)
}

// etagMatches implements the If-None-Match comparison for a strong ETag
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
