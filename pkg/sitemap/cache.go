package sitemap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"site-mapper/pkg/config"
	"site-mapper/pkg/utils"
)

// FileCache keeps the last rendered sitemap of a site on disk
type FileCache struct {
	path string
	log  *logrus.Entry
}

// SiteOutputDir returns the directory holding a site's generated files
func SiteOutputDir(appCfg *config.AppConfig, siteKey string) string {
	return filepath.Join(appCfg.OutputBaseDir, utils.SiteKeyFilename(siteKey))
}

// NewFileCache creates a cache stored at dir/filename
func NewFileCache(dir, filename string, log *logrus.Entry) *FileCache {
	return &FileCache{path: filepath.Join(dir, filename), log: log}
}

// NewSiteFileCache creates the cache for a configured site
func NewSiteFileCache(appCfg *config.AppConfig, siteKey string, log *logrus.Entry) *FileCache {
	siteCfg := appCfg.Sites[siteKey]
	return NewFileCache(SiteOutputDir(appCfg, siteKey), config.GetEffectiveSitemapFilename(siteCfg, *appCfg), log)
}

// Path returns the cache file location
func (c *FileCache) Path() string {
	return c.path
}

// Read returns the cached document and its modification time.
// ok is false when nothing has been cached yet.
func (c *FileCache) Read() (data []byte, modTime time.Time, ok bool, err error) {
	info, err := os.Stat(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("%w: stat '%s': %w", utils.ErrFilesystem, c.path, err)
	}
	data, err = os.ReadFile(c.path)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("%w: reading '%s': %w", utils.ErrFilesystem, c.path, err)
	}
	return data, info.ModTime(), true, nil
}

// Write replaces the cached document. Readers see either the old or the new
// file, never a partial one.
func (c *FileCache) Write(data []byte) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating '%s': %w", utils.ErrFilesystem, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".sitemap-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file in '%s': %w", utils.ErrFilesystem, dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // No-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: syncing '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("%w: chmod '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("%w: renaming to '%s': %w", utils.ErrFilesystem, c.path, err)
	}

	c.log.Infof("Wrote sitemap (%d bytes) to %s", len(data), c.path)
	return nil
}
