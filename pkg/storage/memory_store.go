package storage

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"site-mapper/pkg/models"
)

// MemoryStore implements VisitedStore with an in-process map.
// Iteration follows insertion order.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.PageRecord
	order   []string
	log     *logrus.Entry
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore(logger *logrus.Entry) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.PageRecord),
		log:     logger,
	}
}

// RecordPage implements the VisitedStore interface
func (s *MemoryStore) RecordPage(canonicalURL string, rec *models.PageRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[canonicalURL]; exists {
		return false, nil
	}
	copied := *rec
	s.records[canonicalURL] = &copied
	s.order = append(s.order, canonicalURL)
	return true, nil
}

// IsVisited implements the VisitedStore interface
func (s *MemoryStore) IsVisited(canonicalURL string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.records[canonicalURL]
	return exists, nil
}

// GetPage implements the VisitedStore interface
func (s *MemoryStore) GetPage(canonicalURL string) (models.PageStatus, *models.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, exists := s.records[canonicalURL]
	if !exists {
		return models.PageStatusAbsent, nil, nil
	}
	copied := *rec
	return rec.Status, &copied, nil
}

// ForEachPage implements the VisitedStore interface
func (s *MemoryStore) ForEachPage(ctx context.Context, fn func(canonicalURL string, rec *models.PageRecord) error) error {
	s.mu.RLock()
	keys := make([]string, len(s.order))
	copy(keys, s.order)
	s.mu.RUnlock()

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.RLock()
		copied := *s.records[key]
		s.mu.RUnlock()
		if err := fn(key, &copied); err != nil {
			return err
		}
	}
	return nil
}

// GetVisitedCount implements the VisitedStore interface
func (s *MemoryStore) GetVisitedCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// WriteVisitedLog implements the VisitedStore interface
func (s *MemoryStore) WriteVisitedLog(ctx context.Context, filePath string) error {
	return writeVisitedLog(ctx, filePath, s, s.log)
}

// Close implements the VisitedStore interface
func (s *MemoryStore) Close() error {
	return nil
}
