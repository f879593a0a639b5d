package crawler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"site-mapper/pkg/config"
	"site-mapper/pkg/models"
	"site-mapper/pkg/utils"
)

// ReportFilename is the name of the crawl report written next to the sitemap
const ReportFilename = "crawl_report.yaml"

// CrawlReport is the YAML summary of one crawl run
type CrawlReport struct {
	SiteKey           string                 `yaml:"site_key"`
	PrimaryHost       string                 `yaml:"primary_host"`
	CrawlStartTime    time.Time              `yaml:"crawl_start_time"`
	CrawlEndTime      time.Time              `yaml:"crawl_end_time"`
	Stats             models.CrawlStats      `yaml:"stats"`
	SiteConfiguration map[string]interface{} `yaml:"site_configuration,omitempty"`
	Entries           []models.SitemapEntry  `yaml:"entries"`
}

// WriteReport writes a YAML report for result into dir and returns its path.
func WriteReport(log *logrus.Entry, dir, siteKey string, siteCfg *config.SiteConfig, result *Result) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: creating report directory '%s': %w", utils.ErrFilesystem, dir, err)
	}
	reportPath := filepath.Join(dir, ReportFilename)

	var siteConfigMap map[string]interface{}
	siteConfigBytes, errCfgMarshal := yaml.Marshal(siteCfg)
	if errCfgMarshal != nil {
		log.Warnf("Could not marshal site_configuration for crawl report: %v", errCfgMarshal)
	} else if errCfgUnmarshal := yaml.Unmarshal(siteConfigBytes, &siteConfigMap); errCfgUnmarshal != nil {
		log.Warnf("Could not unmarshal site_configuration into map for crawl report: %v", errCfgUnmarshal)
		siteConfigMap = nil
	}

	entries := make([]models.SitemapEntry, len(result.Entries))
	copy(entries, result.Entries)
	SortEntries(entries)

	report := CrawlReport{
		SiteKey:           siteKey,
		PrimaryHost:       siteCfg.PrimaryHost,
		CrawlStartTime:    result.Stats.StartedAt,
		CrawlEndTime:      result.Stats.StartedAt.Add(result.Stats.Duration),
		Stats:             result.Stats,
		SiteConfiguration: siteConfigMap,
		Entries:           entries,
	}

	yamlData, err := yaml.Marshal(&report)
	if err != nil {
		return "", fmt.Errorf("failed to marshal crawl report to YAML for site '%s': %w", siteKey, err)
	}
	if err := os.WriteFile(reportPath, yamlData, 0644); err != nil {
		return "", fmt.Errorf("%w: writing crawl report '%s' for site '%s': %w", utils.ErrFilesystem, reportPath, siteKey, err)
	}

	log.Infof("Wrote crawl report (%d entries) to %s", len(entries), reportPath)
	return reportPath, nil
}

// ReadReport loads the crawl report stored in dir
func ReadReport(dir string) (*CrawlReport, error) {
	data, err := os.ReadFile(filepath.Join(dir, ReportFilename))
	if err != nil {
		return nil, err
	}
	var report CrawlReport
	if err := yaml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing crawl report in '%s': %w", dir, err)
	}
	return &report, nil
}
