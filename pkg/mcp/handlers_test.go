package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-mapper/pkg/config"
	"site-mapper/pkg/fetch"
	"site-mapper/pkg/orchestrate"
	"site-mapper/pkg/utils"
)

// siteFetcher serves HTML bodies keyed by URL; unknown URLs are 404.
// When gate is set every fetch waits for it to be closed or for ctx.
type siteFetcher struct {
	pages map[string]string
	gate  chan struct{}
	mu    sync.Mutex
	calls int
}

func (f *siteFetcher) Get(ctx context.Context, rawURL string) (*fetch.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	body, ok := f.pages[rawURL]
	if !ok {
		return nil, &utils.HTTPStatusError{StatusCode: http.StatusNotFound, URL: rawURL}
	}
	return &fetch.Response{URL: rawURL, StatusCode: http.StatusOK, ContentType: "text/html", Body: []byte(body)}, nil
}

func (f *siteFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newDocsFetcher() *siteFetcher {
	return &siteFetcher{pages: map[string]string{
		"http://docs.example.com":       `<a href="/guide">Guide</a>`,
		"http://docs.example.com/guide": `<a href="/">Home</a>`,
	}}
}

func newTestServer(t *testing.T, fetcher fetch.HTTPFetcher) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	appCfg := &config.AppConfig{
		OutputBaseDir:    t.TempDir(),
		FileCacheEnabled: true,
		Sites: map[string]config.SiteConfig{
			"docs": {StartURL: "http://docs.example.com/"},
			"blog": {StartURL: "http://blog.example.com/"},
		},
	}
	_, err := appCfg.Validate()
	require.NoError(t, err)
	for key, siteCfg := range appCfg.Sites {
		_, err := siteCfg.Validate()
		require.NoError(t, err)
		appCfg.Sites[key] = siteCfg
	}

	runner := orchestrate.NewSiteRunner(appCfg, logrus.NewEntry(logger), &orchestrate.SiteRunnerOptions{Fetcher: fetcher})
	s, err := NewServer(&ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: "config.yaml",
		Transport:  "stdio",
		Logger:     logger,
		Runner:     runner,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.False(t, result.IsError, "tool returned error: %v", result.Content)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func TestNewServer_RequiresAppConfig(t *testing.T) {
	_, err := NewServer(&ServerConfig{})
	assert.Error(t, err)
}

func TestHandleListSites(t *testing.T) {
	s := newTestServer(t, newDocsFetcher())

	result, err := s.handleListSites(context.Background(), toolRequest("list_sites", nil))
	require.NoError(t, err)
	out := decodeResult(t, result)

	assert.Equal(t, float64(2), out["total_sites"])
	assert.Equal(t, "config.yaml", out["config_path"])
	sites := out["sites"].([]interface{})
	require.Len(t, sites, 2)
	first := sites[0].(map[string]interface{})
	assert.Equal(t, "blog", first["key"])
	assert.Equal(t, "blog.example.com", first["primary_host"])
	assert.NotContains(t, first, "last_crawled")
}

func TestHandleGenerateSitemap(t *testing.T) {
	t.Run("missing site key", func(t *testing.T) {
		s := newTestServer(t, newDocsFetcher())
		result, err := s.handleGenerateSitemap(context.Background(), toolRequest("generate_sitemap", nil))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("unknown site", func(t *testing.T) {
		s := newTestServer(t, newDocsFetcher())
		result, err := s.handleGenerateSitemap(context.Background(), toolRequest("generate_sitemap", map[string]any{"site_key": "nope"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("crawl then cache", func(t *testing.T) {
		fetcher := newDocsFetcher()
		s := newTestServer(t, fetcher)

		out := decodeResult(t, mustCall(t, s.handleGenerateSitemap, map[string]any{"site_key": "docs"}))
		assert.Equal(t, "crawl", out["source"])
		assert.Equal(t, float64(2), out["entries"])
		assert.Contains(t, out["sitemap_xml"], "<loc>http://docs.example.com/guide</loc>")
		calls := fetcher.callCount()

		out = decodeResult(t, mustCall(t, s.handleGenerateSitemap, map[string]any{"site_key": "docs"}))
		assert.Equal(t, "cache", out["source"])
		assert.Equal(t, calls, fetcher.callCount())

		out = decodeResult(t, mustCall(t, s.handleGenerateSitemap, map[string]any{"site_key": "docs", "refresh": true}))
		assert.Equal(t, "crawl", out["source"])
		assert.Greater(t, fetcher.callCount(), calls)
	})
}

func mustCall(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := handler(context.Background(), toolRequest("", args))
	require.NoError(t, err)
	return result
}

func waitForJob(t *testing.T, s *Server, jobID string, want JobStatus) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.Eventually(t, func() bool {
		out = decodeResult(t, mustCall(t, s.handleGetJobStatus, map[string]any{"job_id": jobID}))
		return out["status"] == string(want)
	}, 5*time.Second, 10*time.Millisecond)
	return out
}

func TestHandleCrawlSite(t *testing.T) {
	s := newTestServer(t, newDocsFetcher())

	out := decodeResult(t, mustCall(t, s.handleCrawlSite, map[string]any{"site_key": "docs"}))
	assert.Equal(t, "started", out["status"])
	jobID := out["job_id"].(string)
	require.NotEmpty(t, jobID)

	status := waitForJob(t, s, jobID, JobStatusCompleted)
	assert.Equal(t, float64(2), status["entries_output"])
	assert.Equal(t, float64(2), status["pages_processed"])
	assert.NotEmpty(t, status["sitemap_path"])

	// The written report shows up in list_sites
	listing := decodeResult(t, mustCall(t, s.handleListSites, nil))
	var docs map[string]interface{}
	for _, site := range listing["sites"].([]interface{}) {
		if info := site.(map[string]interface{}); info["key"] == "docs" {
			docs = info
		}
	}
	require.NotNil(t, docs)
	assert.Contains(t, docs, "last_crawled")
	assert.Equal(t, float64(2), docs["last_entries"])
}

func TestHandleCrawlSite_Errors(t *testing.T) {
	s := newTestServer(t, newDocsFetcher())

	result := mustCall(t, s.handleCrawlSite, nil)
	assert.True(t, result.IsError)

	result = mustCall(t, s.handleCrawlSite, map[string]any{"site_key": "missing"})
	assert.True(t, result.IsError)
}

func TestHandleCrawlSite_AlreadyRunningAndCancel(t *testing.T) {
	fetcher := newDocsFetcher()
	fetcher.gate = make(chan struct{})
	s := newTestServer(t, fetcher)

	first := decodeResult(t, mustCall(t, s.handleCrawlSite, map[string]any{"site_key": "docs"}))
	jobID := first["job_id"].(string)

	second := decodeResult(t, mustCall(t, s.handleCrawlSite, map[string]any{"site_key": "docs"}))
	assert.Equal(t, "already_running", second["status"])
	assert.Equal(t, jobID, second["job_id"])

	waitForJob(t, s, jobID, JobStatusRunning)

	cancelled := decodeResult(t, mustCall(t, s.handleCancelJob, map[string]any{"job_id": jobID}))
	assert.Equal(t, true, cancelled["cancelled"])

	status := decodeResult(t, mustCall(t, s.handleGetJobStatus, map[string]any{"job_id": jobID}))
	assert.Equal(t, string(JobStatusCancelled), status["status"])

	// The runner releases the site once the cancelled crawl unwinds
	require.Eventually(t, func() bool {
		_, running := s.runner.Progress("docs")
		return !running
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandleGetJobStatus_Errors(t *testing.T) {
	s := newTestServer(t, newDocsFetcher())

	assert.True(t, mustCall(t, s.handleGetJobStatus, nil).IsError)
	assert.True(t, mustCall(t, s.handleGetJobStatus, map[string]any{"job_id": "nope"}).IsError)
	assert.True(t, mustCall(t, s.handleCancelJob, map[string]any{"job_id": "nope"}).IsError)
}

func TestFormatJSON(t *testing.T) {
	out := formatJSON(map[string]interface{}{"a": 1})
	assert.JSONEq(t, `{"a":1}`, out)

	out = formatJSON(map[string]interface{}{"bad": make(chan int)})
	assert.Contains(t, out, "error")
}
