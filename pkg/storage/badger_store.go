package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"site-mapper/pkg/log"
	"site-mapper/pkg/models"
	"site-mapper/pkg/utils"
)

const (
	pageKeyPrefix = "page:"      // Prefix for page URL keys in DB
	visitedDBDir  = "visited_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the VisitedStore interface using BadgerDB.
// Each crawl run starts from an empty database.
type BadgerStore struct {
	db       *badger.DB
	dbPath   string
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached key count for O(1) GetVisitedCount
}

// NewBadgerStore initializes a fresh BadgerStore for siteKey under stateDir.
// Any database left by a previous run of the same site is removed.
func NewBadgerStore(stateDir, siteKey string, logger *logrus.Entry) (*BadgerStore, error) {
	dbDirName := utils.SiteKeyFilename(siteKey) + "_" + visitedDBDir
	dbPath := filepath.Join(stateDir, dbDirName)

	if err := os.RemoveAll(dbPath); err != nil {
		logger.Errorf("Failed to remove previous state directory %s: %v", dbPath, err)
	}
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	logger.Infof("Initializing visited URL database at: %s", dbPath)

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1) // Records are written once

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	return &BadgerStore{db: db, dbPath: dbPath, log: logger}, nil
}

// Path returns the database directory
func (s *BadgerStore) Path() string {
	return s.dbPath
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Conflicts on overlapping keys resolve in microseconds, so a tight loop is enough.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// RecordPage implements the VisitedStore interface
func (s *BadgerStore) RecordPage(canonicalURL string, rec *models.PageRecord) (bool, error) {
	key := []byte(pageKeyPrefix + canonicalURL)

	recBytes, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("%w: failed to marshal PageRecord for key '%s': %w", utils.ErrParsing, string(key), err)
	}

	added := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		added = false
		_, errGet := txn.Get(key)
		if errGet == nil {
			return nil // First record wins
		}
		if !errors.Is(errGet, badger.ErrKeyNotFound) {
			return errGet
		}
		if errSet := txn.SetEntry(badger.NewEntry(key, recBytes)); errSet != nil {
			return errSet
		}
		added = true
		return nil
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in RecordPage: %v", err)
		return false, fmt.Errorf("%w: recording page key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if added {
		s.keyCount.Add(1)
	}
	return added, nil
}

// IsVisited implements the VisitedStore interface
func (s *BadgerStore) IsVisited(canonicalURL string) (bool, error) {
	key := []byte(pageKeyPrefix + canonicalURL)
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: checking page key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return found, nil
}

// GetPage implements the VisitedStore interface
func (s *BadgerStore) GetPage(canonicalURL string) (models.PageStatus, *models.PageRecord, error) {
	key := []byte(pageKeyPrefix + canonicalURL)
	status := models.PageStatusAbsent
	var rec *models.PageRecord

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting page key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var decoded models.PageRecord
			if errJson := json.Unmarshal(val, &decoded); errJson != nil {
				return fmt.Errorf("%w: decoding page key '%s': %w", utils.ErrParsing, string(key), errJson)
			}
			rec = &decoded
			status = decoded.Status
			return nil
		})
	})
	if errView != nil {
		s.log.Errorf("DB View error in GetPage for key '%s': %v", string(key), errView)
		return models.PageStatusDBError, nil, errView
	}
	return status, rec, nil
}

// ForEachPage implements the VisitedStore interface. Records are visited in key order.
func (s *BadgerStore) ForEachPage(ctx context.Context, fn func(canonicalURL string, rec *models.PageRecord) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(pageKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			canonicalURL := string(item.Key()[len(prefix):])

			var rec models.PageRecord
			errValue := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if errValue != nil {
				s.log.Warnf("Skipping undecodable record for '%s': %v", canonicalURL, errValue)
				continue
			}
			if err := fn(canonicalURL, &rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetVisitedCount implements the VisitedStore interface
func (s *BadgerStore) GetVisitedCount() (int, error) {
	return int(s.keyCount.Load()), nil
}

// WriteVisitedLog implements the VisitedStore interface
func (s *BadgerStore) WriteVisitedLog(ctx context.Context, filePath string) error {
	return writeVisitedLog(ctx, filePath, s, s.log)
}

// RunGC runs BadgerDB's value log garbage collection periodically until ctx is done
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for err == nil && ctx.Err() == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// StartGC runs RunGC in the background. The returned stop function ends the
// collection and waits for a cycle in progress, so Close may follow it.
func (s *BadgerStore) StartGC(ctx context.Context, interval time.Duration) (stop func()) {
	gcCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunGC(gcCtx, interval)
	}()
	return func() {
		cancel()
		<-done
	}
}

// Close implements the VisitedStore interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Debug("Closing visited DB...")
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("%w: closing visited DB: %w", utils.ErrDatabase, err)
		}
	}
	return nil
}
