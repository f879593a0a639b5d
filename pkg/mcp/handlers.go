package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"site-mapper/pkg/crawler"
	"site-mapper/pkg/orchestrate"
	"site-mapper/pkg/sitemap"
)

// handleListSites handles the list_sites tool
func (s *Server) handleListSites(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys := orchestrate.GetAllSiteKeys(s.cfg.AppConfig)
	sites := make([]map[string]interface{}, 0, len(keys))

	for _, key := range keys {
		siteCfg := s.cfg.AppConfig.Sites[key]
		siteInfo := map[string]interface{}{
			"key":          key,
			"start_url":    siteCfg.StartURL,
			"primary_host": siteCfg.PrimaryHost,
			"max_depth":    siteCfg.MaxDepth,
			"file_cache":   s.services[key].CacheEnabled(),
		}

		if report, err := crawler.ReadReport(sitemap.SiteOutputDir(s.cfg.AppConfig, key)); err == nil {
			siteInfo["last_crawled"] = report.CrawlEndTime.Format(time.RFC3339)
			siteInfo["last_entries"] = len(report.Entries)
		}

		if s.jobManager.IsRunning(key) {
			siteInfo["status"] = "running"
		}

		sites = append(sites, siteInfo)
	}

	result := map[string]interface{}{
		"sites":       sites,
		"config_path": s.cfg.ConfigPath,
		"total_sites": len(sites),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGenerateSitemap handles the generate_sitemap tool
func (s *Server) handleGenerateSitemap(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	siteKey := request.GetString("site_key", "")
	if siteKey == "" {
		return mcp.NewToolResultError("site_key parameter is required"), nil
	}
	svc, exists := s.services[siteKey]
	if !exists {
		return mcp.NewToolResultError(s.unknownSiteMessage(siteKey)), nil
	}

	doc, err := svc.Get(ctx, request.GetBool("refresh", false))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sitemap generation failed: %v", err)), nil
	}

	result := map[string]interface{}{
		"site_key":     siteKey,
		"source":       doc.Source,
		"etag":         doc.ETag,
		"generated_at": doc.GeneratedAt.UTC().Format(time.RFC3339),
		"sitemap_xml":  string(doc.Body),
	}
	if doc.CachePath != "" {
		result["cache_path"] = doc.CachePath
	}
	if doc.Result != nil {
		result["entries"] = len(doc.Result.Entries)
		result["pages_visited"] = doc.Result.Stats.PagesVisited
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCrawlSite handles the crawl_site tool
func (s *Server) handleCrawlSite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	siteKey := request.GetString("site_key", "")
	if siteKey == "" {
		return mcp.NewToolResultError("site_key parameter is required"), nil
	}
	if _, exists := s.cfg.AppConfig.Sites[siteKey]; !exists {
		return mcp.NewToolResultError(s.unknownSiteMessage(siteKey)), nil
	}

	if existingJob := s.jobManager.GetJobBySite(siteKey); existingJob != nil && existingJob.Status.active() {
		result := map[string]interface{}{
			"status":   "already_running",
			"message":  "A crawl is already in progress for this site",
			"job_id":   existingJob.ID,
			"site_key": siteKey,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	job, err := s.jobManager.CreateJob(siteKey)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create job: %v", err)), nil
	}

	go s.runCrawlJob(job.ID, siteKey)

	result := map[string]interface{}{
		"status":   "started",
		"message":  "Crawl started successfully",
		"job_id":   job.ID,
		"site_key": siteKey,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}
	if job.Status.active() {
		if progress, running := s.runner.Progress(job.SiteKey); running {
			s.jobManager.UpdateProgress(jobID, progress)
			job = s.jobManager.GetJob(jobID)
		}
	}

	result := map[string]interface{}{
		"job_id":          job.ID,
		"site_key":        job.SiteKey,
		"status":          job.Status,
		"started_at":      job.StartedAt.Format(time.RFC3339),
		"level":           job.Level,
		"frontier_size":   job.FrontierSize,
		"pages_processed": job.PagesProcessed,
	}

	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.Status == JobStatusCompleted {
		result["entries_output"] = job.EntriesOutput
		result["sitemap_path"] = job.SitemapPath
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	if s.jobManager.GetJob(jobID) == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":    jobID,
		"cancelled": s.jobManager.CancelJob(jobID),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runCrawlJob crawls a site in the background and writes its outputs
func (s *Server) runCrawlJob(jobID, siteKey string) {
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")
	jobCtx := s.jobManager.GetContext(jobID)

	o := orchestrate.NewOrchestrator(s.cfg.AppConfig, []string{siteKey}, s.runner, s.log)
	results := o.Run(jobCtx)
	if len(results) == 0 {
		s.jobManager.UpdateStatus(jobID, JobStatusFailed, "no result produced")
		return
	}

	r := results[0]
	switch {
	case r.Success:
		s.jobManager.Complete(jobID, r.PagesVisited, r.Entries, r.SitemapPath)
	case errors.Is(r.Error, context.Canceled):
		s.jobManager.UpdateStatus(jobID, JobStatusCancelled, "")
	default:
		s.jobManager.UpdateStatus(jobID, JobStatusFailed, r.Error.Error())
	}
}

func (s *Server) unknownSiteMessage(siteKey string) string {
	return fmt.Sprintf("site '%s' not found. Available sites: %v", siteKey, orchestrate.GetAllSiteKeys(s.cfg.AppConfig))
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
