package storage

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"site-mapper/pkg/models"
	"site-mapper/pkg/utils"
)

// writeVisitedLog writes one "url<TAB>status<TAB>depth" line per record of store.
func writeVisitedLog(ctx context.Context, filePath string, store PageStore, log *logrus.Entry) error {
	log.Infof("Writing visited log to %s...", filePath)
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("%w: create visited log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	writtenCount := 0
	iterErr := store.ForEachPage(ctx, func(canonicalURL string, rec *models.PageRecord) error {
		if _, err := fmt.Fprintf(writer, "%s\t%s\t%d\n", canonicalURL, rec.Status, rec.Depth); err != nil {
			return fmt.Errorf("%w: writing visited log: %w", utils.ErrFilesystem, err)
		}
		writtenCount++
		if writtenCount%5000 == 0 {
			log.Debugf("Flushing visited writer after %d entries...", writtenCount)
			if err := writer.Flush(); err != nil {
				return fmt.Errorf("%w: flushing visited log: %w", utils.ErrFilesystem, err)
			}
		}
		return nil
	})
	if iterErr != nil {
		log.Warnf("Finished writing visited log with errors. Wrote ~%d URLs to %s", writtenCount, filePath)
		return iterErr
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("%w: final flush of visited log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("%w: sync visited log '%s': %w", utils.ErrFilesystem, filePath, err)
	}

	log.Infof("Finished writing %d URLs to visited log: %s", writtenCount, filePath)
	return nil
}
