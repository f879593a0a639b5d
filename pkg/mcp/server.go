package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"site-mapper/pkg/config"
	"site-mapper/pkg/orchestrate"
	"site-mapper/pkg/sitemap"
)

const serverName = "site-mapper"

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Version    string
	Logger     *logrus.Logger
	Runner     *orchestrate.SiteRunner // Created from AppConfig when nil
}

// Server exposes sitemap generation as MCP tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	runner     *orchestrate.SiteRunner
	services   map[string]*sitemap.Service
	jobManager *JobManager
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	log := cfg.Logger.WithField("component", "mcp")

	runner := cfg.Runner
	if runner == nil {
		runner = orchestrate.NewSiteRunner(cfg.AppConfig, log, nil)
	}

	services := make(map[string]*sitemap.Service, len(cfg.AppConfig.Sites))
	for _, key := range orchestrate.GetAllSiteKeys(cfg.AppConfig) {
		svc, err := sitemap.NewService(cfg.AppConfig, key, runner, log)
		if err != nil {
			return nil, err
		}
		services[key] = svc
	}

	s := &Server{
		mcpServer:  server.NewMCPServer(serverName, cfg.Version, server.WithLogging()),
		cfg:        cfg,
		log:        log,
		runner:     runner,
		services:   services,
		jobManager: NewJobManager(),
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	listSitesTool := mcp.NewTool("list_sites",
		mcp.WithDescription("List all configured sites and when their sitemap was last generated"),
	)
	s.mcpServer.AddTool(listSitesTool, s.handleListSites)

	generateTool := mcp.NewTool("generate_sitemap",
		mcp.WithDescription("Return the sitemap XML of a configured site, crawling it when no cached sitemap is available"),
		mcp.WithString("site_key",
			mcp.Required(),
			mcp.Description("Site key from config file"),
		),
		mcp.WithBoolean("refresh",
			mcp.Description("Force a fresh crawl instead of using the cached sitemap"),
		),
	)
	s.mcpServer.AddTool(generateTool, s.handleGenerateSitemap)

	crawlSiteTool := mcp.NewTool("crawl_site",
		mcp.WithDescription("Start a background crawl that writes the sitemap and crawl report of a site. Returns immediately with a job ID."),
		mcp.WithString("site_key",
			mcp.Required(),
			mcp.Description("Site key from config file"),
		),
	)
	s.mcpServer.AddTool(crawlSiteTool, s.handleCrawlSite)

	getJobStatusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status and progress of a crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by crawl_site"),
		),
	)
	s.mcpServer.AddTool(getJobStatusTool, s.handleGetJobStatus)

	cancelJobTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a running crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by crawl_site"),
		),
	)
	s.mcpServer.AddTool(cancelJobTool, s.handleCancelJob)

	s.log.Infof("Registered %d MCP tools", 5)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()
	return nil
}
