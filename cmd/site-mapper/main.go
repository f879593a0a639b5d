package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"site-mapper/pkg/config"
	"site-mapper/pkg/metrics"
	"site-mapper/pkg/orchestrate"
	"site-mapper/pkg/server"
	"site-mapper/pkg/sitemap"
	"site-mapper/pkg/watch"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sites":
		runListSites(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("site-mapper %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `site-mapper - BFS crawler that generates XML sitemaps

Usage:
  site-mapper <command> [options]

Commands:
  crawl       Crawl sites and write their sitemap and crawl report
  serve       Serve sitemaps over HTTP, crawling on demand
  watch       Regenerate sitemaps on a schedule
  validate    Validate configuration file
  list-sites  List available site keys
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'site-mapper <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Setting log level to: %s", level.String())
	}
	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	logAppConfig(appCfg, log)
	return appCfg, nil
}

// validateSiteConfigs validates each site, logs warnings and stores the
// normalized configuration back into appCfg.
func validateSiteConfigs(appCfg *config.AppConfig, siteKeys []string, log *logrus.Logger) error {
	for _, key := range siteKeys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err == nil {
			err = config.ValidatePriorityBounds(siteCfg, *appCfg)
		}
		if err != nil {
			return fmt.Errorf("site '%s' configuration error: %w", key, err)
		}
		for _, w := range siteWarnings {
			log.Warnf("[%s] %s", key, w)
		}
		appCfg.Sites[key] = siteCfg
	}
	return nil
}

// resolveSiteKeys picks the sites selected by the -site, -sites and
// -all-sites flags. With allowDefault, no selection means every site.
func resolveSiteKeys(appCfg *config.AppConfig, site, sites string, all, allowDefault bool) ([]string, error) {
	var siteKeys []string
	switch {
	case all:
		siteKeys = orchestrate.GetAllSiteKeys(appCfg)
	case sites != "":
		for _, s := range strings.Split(sites, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				siteKeys = append(siteKeys, s)
			}
		}
	case site != "":
		siteKeys = []string{site}
	case allowDefault:
		siteKeys = orchestrate.GetAllSiteKeys(appCfg)
	default:
		return nil, errors.New("one of -site, -sites, or -all-sites is required")
	}

	if len(siteKeys) == 0 {
		return nil, errors.New("no sites selected")
	}
	if err := orchestrate.ValidateSiteKeys(appCfg, siteKeys); err != nil {
		return nil, err
	}
	return siteKeys, nil
}

// prepare loads the config and validates the selected sites
func prepare(configFile string, log *logrus.Logger, site, sites string, all, allowDefault bool) (*config.AppConfig, []string, error) {
	appCfg, err := loadAndValidateConfig(configFile, log)
	if err != nil {
		return nil, nil, err
	}
	siteKeys, err := resolveSiteKeys(appCfg, site, sites, all, allowDefault)
	if err != nil {
		return nil, nil, err
	}
	if err := validateSiteConfigs(appCfg, siteKeys, log); err != nil {
		return nil, nil, err
	}
	return appCfg, siteKeys, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(log *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		log.Warn("Shutdown requested, stopping...")
	}()
	return ctx, stop
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// runCrawl handles the crawl subcommand
func runCrawl(args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config (single site)")
	sites := fs.String("sites", "", "Comma-separated site keys for parallel crawling")
	allSites := fs.Bool("all-sites", false, "Crawl all configured sites in parallel")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mapper crawl [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  site-mapper crawl -site docs\n")
		fmt.Fprintf(os.Stderr, "  site-mapper crawl -sites docs,blog\n")
		fmt.Fprintf(os.Stderr, "  site-mapper crawl -all-sites\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel, os.Stderr)
	appCfg, siteKeys, err := prepare(*configFile, log, *siteKey, *sites, *allSites, false)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	startPprof(*pprofAddr, log)

	ctx, stop := signalContext(log)
	defer stop()

	logEntry := log.WithField("component", "crawl")
	runner := orchestrate.NewSiteRunner(appCfg, logEntry, &orchestrate.SiteRunnerOptions{
		Metrics: metrics.NewRecorder(version),
	})
	os.Exit(doCrawl(ctx, appCfg, siteKeys, runner, logEntry))
}

// doCrawl generates the sitemaps of siteKeys and returns the exit code
func doCrawl(ctx context.Context, appCfg *config.AppConfig, siteKeys []string, runner *orchestrate.SiteRunner, log *logrus.Entry) int {
	orch := orchestrate.NewOrchestrator(appCfg, siteKeys, runner, log)
	results := orch.Run(ctx)

	if ctx.Err() != nil {
		log.Warn("Crawl cancelled gracefully.")
		return 0
	}
	for _, r := range results {
		if !r.Success {
			return 1
		}
	}
	return 0
}

// runServe handles the serve subcommand
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	addr := fs.String("addr", ":8080", "HTTP listen address")
	siteKey := fs.String("site", "", "Site served at /sitemap.xml (optional with a single site)")
	sites := fs.String("sites", "", "Comma-separated site keys to serve (default: all)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mapper serve [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEndpoints:\n")
		fmt.Fprintf(os.Stderr, "  GET /sitemap.xml[?refresh=true]\n")
		fmt.Fprintf(os.Stderr, "  GET /sites/{site}/sitemap.xml[?refresh=true]\n")
		fmt.Fprintf(os.Stderr, "  GET /sites, /healthz, /metrics\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel, os.Stderr)
	appCfg, siteKeys, err := prepare(*configFile, log, "", *sites, false, true)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	ctx, stop := signalContext(log)
	defer stop()

	gin.SetMode(gin.ReleaseMode)
	recorder := metrics.NewRecorder(version)
	logEntry := log.WithField("component", "serve")
	runner := orchestrate.NewSiteRunner(appCfg, logEntry, &orchestrate.SiteRunnerOptions{Metrics: recorder})

	cfg := server.DefaultConfig(*addr, *siteKey)
	cfg.Version = version
	srv, err := buildServer(appCfg, siteKeys, cfg, runner, recorder, logEntry)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// buildServer creates the HTTP server with one sitemap service per site
func buildServer(appCfg *config.AppConfig, siteKeys []string, cfg server.Config, runner *orchestrate.SiteRunner, recorder *metrics.Recorder, log *logrus.Entry) (*server.Server, error) {
	providers := make(map[string]server.SitemapProvider, len(siteKeys))
	for _, key := range siteKeys {
		svc, err := sitemap.NewService(appCfg, key, runner, log)
		if err != nil {
			return nil, err
		}
		if !svc.CacheEnabled() {
			log.Warnf("File cache disabled for site '%s': every request triggers a crawl", key)
		}
		providers[key] = svc
	}
	return server.New(cfg, providers, recorder, log)
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config (single site)")
	sites := fs.String("sites", "", "Comma-separated site keys")
	allSites := fs.Bool("all-sites", false, "Watch all configured sites")
	interval := fs.String("interval", "24h", "Regeneration interval (e.g., 30m, 1h, 24h, 7d)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mapper watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  site-mapper watch -site docs -interval 24h\n")
		fmt.Fprintf(os.Stderr, "  site-mapper watch -all-sites -interval 7d\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel, os.Stderr)
	every, err := watch.ParseInterval(*interval)
	if err != nil {
		log.Fatalf("Invalid interval: %v", err)
	}
	appCfg, siteKeys, err := prepare(*configFile, log, *siteKey, *sites, *allSites, false)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	ctx, stop := signalContext(log)
	defer stop()

	logEntry := log.WithField("component", "watch")
	runner := orchestrate.NewSiteRunner(appCfg, logEntry, &orchestrate.SiteRunnerOptions{
		Metrics: metrics.NewRecorder(version),
	})
	scheduler := watch.NewScheduler(appCfg, runner, siteKeys, every, logEntry, nil)
	if err := scheduler.Run(ctx); err != nil {
		log.Fatalf("Watch scheduler error: %v", err)
	}
	log.Info("Watch mode stopped")
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mapper validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, *siteKey, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, siteKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	keys := []string{siteKey}
	if siteKey == "" {
		keys = orchestrate.GetAllSiteKeys(appCfg)
	} else if _, ok := appCfg.Sites[siteKey]; !ok {
		fmt.Fprintf(stderr, "Error: site '%s' not found in config\n", siteKey)
		return 1
	}

	hasError := false
	for _, key := range keys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err == nil {
			err = config.ValidatePriorityBounds(siteCfg, *appCfg)
		}
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
			hasError = true
			continue
		}
		for _, w := range siteWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
		}
		fmt.Fprintf(stdout, "OK: [%s] %s\n", key, siteCfg.StartURL)
	}
	if hasError {
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListSites handles the list-sites subcommand
func runListSites(args []string) {
	fs := flag.NewFlagSet("list-sites", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: site-mapper list-sites [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doListSites(*configFile, os.Stdout, os.Stderr))
}

// doListSites lists sites and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListSites(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(stdout, "Sites in %s:\n\n", configPath)
	for _, key := range keys {
		site := appCfg.Sites[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    Start URL: %s\n", site.StartURL)
		if site.MaxDepth > 0 {
			fmt.Fprintf(stdout, "    Max Depth: %d\n", site.MaxDepth)
		}
		if len(site.DisallowedPathPatterns) > 0 {
			fmt.Fprintf(stdout, "    Excluded Patterns: %d\n", len(site.DisallowedPathPatterns))
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Concurrency:%d, StateDir:%q, OutputDir:%s",
		appCfg.Concurrency, appCfg.StateDir, appCfg.OutputBaseDir)
	log.Infof("Global Config Priorities: Max:%d, Min:%d, LastModifiedFallback:%s, FileCache:%t",
		appCfg.MaxPriority, appCfg.MinPriority, appCfg.LastModifiedFallback, appCfg.FileCacheEnabled)
	log.Infof("Global Config Timeouts: GlobalCrawl:%v, PerPage:%v, MaxPageSize:%d bytes",
		appCfg.GlobalCrawlTimeout, appCfg.PerPageTimeout, appCfg.MaxPageSizeBytes)
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}
