package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-mapper/pkg/config"
	"site-mapper/pkg/fetch"
	"site-mapper/pkg/orchestrate"
	"site-mapper/pkg/server"
	"site-mapper/pkg/utils"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

const twoSites = `
sites:
  site_a:
    start_url: "http://a.com/"
  site_b:
    start_url: "http://b.com/docs"
    max_depth: 3
    disallowed_path_patterns: ["^/private"]
`

func TestLoadConfig_ValidFile(t *testing.T) {
	cfgPath := writeConfig(t, `
concurrency: 4
output_base_dir: "./out"
state_dir: "./state"
sites:
  test_site:
    start_url: "http://example.com"
`)

	cfg, err := loadConfig(cfgPath)

	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "./state", cfg.StateDir)
	assert.Contains(t, cfg.Sites, "test_site")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := loadConfig("/nonexistent/path/config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := loadConfig(writeConfig(t, "{{invalid yaml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestDoValidate_AllSites(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate(writeConfig(t, twoSites), "", &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "OK: [site_a]")
	assert.Contains(t, stdout.String(), "OK: [site_b]")
	assert.Contains(t, stdout.String(), "Configuration valid")
}

func TestDoValidate_SpecificSite(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate(writeConfig(t, twoSites), "site_b", &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "OK: [site_b] http://b.com/docs")
	assert.NotContains(t, stdout.String(), "site_a")
}

func TestDoValidate_SiteNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate(writeConfig(t, twoSites), "nonexistent", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "not found")
}

func TestDoValidate_InvalidSite(t *testing.T) {
	cfgPath := writeConfig(t, `
sites:
  bad_site:
    start_url: "ftp://example.com"
  bad_pattern:
    start_url: "http://example.com"
    disallowed_path_patterns: ["[unclosed"]
`)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "ERROR: [bad_site]")
	assert.Contains(t, stderr.String(), "ERROR: [bad_pattern]")
}

func TestDoValidate_InvalidPriorities(t *testing.T) {
	cfgPath := writeConfig(t, `
max_priority: 2
min_priority: 5
sites:
  a:
    start_url: "http://a.com"
`)

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, doValidate(cfgPath, "", &stdout, &stderr))
	assert.Contains(t, stderr.String(), "min_priority")
}

func TestDoValidate_SiteMaxBelowGlobalMin(t *testing.T) {
	cfgPath := writeConfig(t, `
min_priority: 5
sites:
  a:
    start_url: "http://a.com"
    max_priority: 3
`)

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, doValidate(cfgPath, "", &stdout, &stderr))
	assert.Contains(t, stderr.String(), "ERROR: [a]")
	assert.Contains(t, stderr.String(), "effective min_priority (5) > max_priority (3)")
}

func TestDoValidate_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate("/nonexistent.yaml", "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error")
}

func TestDoListSites(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doListSites(writeConfig(t, twoSites), &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	out := stdout.String()
	assert.Contains(t, out, "site_a")
	assert.Contains(t, out, "Start URL: http://b.com/docs")
	assert.Contains(t, out, "Max Depth: 3")
	assert.Contains(t, out, "Excluded Patterns: 1")
}

func TestDoListSites_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doListSites("/nonexistent.yaml", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error")
}

func TestPrintUsageTo(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)

	out := buf.String()
	for _, cmd := range []string{"crawl", "serve", "watch", "validate", "list-sites", "mcp-server", "version"} {
		assert.Contains(t, out, cmd)
	}
}

func TestResolveSiteKeys(t *testing.T) {
	appCfg, err := loadConfig(writeConfig(t, twoSites))
	require.NoError(t, err)

	tests := []struct {
		name         string
		site         string
		sites        string
		all          bool
		allowDefault bool
		want         []string
		wantErr      bool
	}{
		{name: "single site", site: "site_a", want: []string{"site_a"}},
		{name: "comma list", sites: "site_b, site_a,", want: []string{"site_b", "site_a"}},
		{name: "all sites", all: true, want: []string{"site_a", "site_b"}},
		{name: "default to all", allowDefault: true, want: []string{"site_a", "site_b"}},
		{name: "nothing selected", wantErr: true},
		{name: "unknown site", site: "missing", wantErr: true},
		{name: "empty list", sites: " , ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveSiteKeys(appCfg, tt.site, tt.sites, tt.all, tt.allowDefault)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateSiteConfigs_StoresNormalizedConfig(t *testing.T) {
	appCfg, err := loadConfig(writeConfig(t, twoSites))
	require.NoError(t, err)

	require.NoError(t, validateSiteConfigs(appCfg, []string{"site_b"}, quietLogger()))
	assert.Equal(t, "b.com", appCfg.Sites["site_b"].PrimaryHost)
	assert.Empty(t, appCfg.Sites["site_a"].PrimaryHost)
}

type pageFetcher map[string]string

func (f pageFetcher) Get(_ context.Context, rawURL string) (*fetch.Response, error) {
	body, ok := f[rawURL]
	if !ok {
		return nil, &utils.HTTPStatusError{StatusCode: http.StatusNotFound, URL: rawURL}
	}
	return &fetch.Response{URL: rawURL, StatusCode: http.StatusOK, ContentType: "text/html", Body: []byte(body)}, nil
}

func preparedConfig(t *testing.T) (*config.AppConfig, []string) {
	t.Helper()
	cfgPath := writeConfig(t, `
output_base_dir: "`+filepath.ToSlash(t.TempDir())+`"
sites:
  docs:
    start_url: "http://docs.example.com/"
`)
	appCfg, siteKeys, err := prepare(cfgPath, quietLogger(), "docs", "", false, false)
	require.NoError(t, err)
	return appCfg, siteKeys
}

func TestDoCrawl(t *testing.T) {
	appCfg, siteKeys := preparedConfig(t)
	log := logrus.NewEntry(quietLogger())
	runner := orchestrate.NewSiteRunner(appCfg, log, &orchestrate.SiteRunnerOptions{Fetcher: pageFetcher{
		"http://docs.example.com":       `<a href="/guide">Guide</a>`,
		"http://docs.example.com/guide": `<p>Guide</p>`,
	}})

	assert.Equal(t, 0, doCrawl(context.Background(), appCfg, siteKeys, runner, log))

	data, err := os.ReadFile(filepath.Join(appCfg.OutputBaseDir, "docs", config.DefaultSitemapFilename))
	require.NoError(t, err)
	assert.Contains(t, string(data), "<loc>http://docs.example.com/guide</loc>")
}

func TestDoCrawl_FailedSite(t *testing.T) {
	appCfg, siteKeys := preparedConfig(t)
	log := logrus.NewEntry(quietLogger())
	runner := orchestrate.NewSiteRunner(appCfg, log, &orchestrate.SiteRunnerOptions{Fetcher: pageFetcher{}})

	// The start page 404s: the crawl succeeds with an empty sitemap
	assert.Equal(t, 0, doCrawl(context.Background(), appCfg, siteKeys, runner, log))

	appCfg.Sites["docs"] = config.SiteConfig{StartURL: "ftp://docs.example.com/"}
	assert.Equal(t, 1, doCrawl(context.Background(), appCfg, siteKeys, runner, log))
}

func TestBuildServer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	appCfg, siteKeys := preparedConfig(t)
	log := logrus.NewEntry(quietLogger())
	runner := orchestrate.NewSiteRunner(appCfg, log, &orchestrate.SiteRunnerOptions{Fetcher: pageFetcher{
		"http://docs.example.com": `<p>Home</p>`,
	}})

	srv, err := buildServer(appCfg, siteKeys, server.DefaultConfig(":0", ""), runner, nil, log)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sitemap.xml", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<loc>http://docs.example.com</loc>")
}

func TestDoMcpServer_Errors(t *testing.T) {
	t.Run("invalid log level", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, 1, doMcpServer("config.yaml", "stdio", 0, "loud", &stdout, &stderr))
		assert.Contains(t, stderr.String(), "Invalid log level")
	})

	t.Run("missing config", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, 1, doMcpServer("/nonexistent.yaml", "stdio", 0, "info", &stdout, &stderr))
		assert.Contains(t, stderr.String(), "Error loading config")
	})

	t.Run("invalid site", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		cfgPath := writeConfig(t, "sites:\n  bad:\n    start_url: \"\"\n")
		assert.Equal(t, 1, doMcpServer(cfgPath, "stdio", 0, "info", &stdout, &stderr))
		assert.Contains(t, stderr.String(), "bad")
	})

	t.Run("unknown transport", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		cfgPath := writeConfig(t, "output_base_dir: \""+filepath.ToSlash(t.TempDir())+"\"\nsites:\n  a:\n    start_url: \"http://a.com\"\n")
		assert.Equal(t, 1, doMcpServer(cfgPath, "carrier-pigeon", 0, "info", &stdout, &stderr))
		assert.Contains(t, stderr.String(), "unknown transport")
	})
}
