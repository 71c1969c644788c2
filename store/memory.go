package store

import (
	"sync"

	"github.com/atmosphericc/stockwatch/models"
)

// MemoryStore keeps records in memory behind a mutex while honoring the
// same WithLock contract as FileStore. It exists for tests and for
// embedding the coordinator without a shared file.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.PurchaseRecord

	// SaveErr, when set, is returned by Save and WithLock to simulate
	// persistence failures.
	SaveErr error
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]models.PurchaseRecord{}}
}

// Load returns a copy of the current record map.
func (s *MemoryStore) Load() map[string]models.PurchaseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRecords(s.records)
}

// Save replaces the record map.
func (s *MemoryStore) Save(records map[string]models.PurchaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.records = copyRecords(records)
	return nil
}

// WithLock runs fn against a snapshot and persists the result atomically
// with respect to other WithLock and Load calls.
func (s *MemoryStore) WithLock(fn MutateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := fn(copyRecords(s.records))
	if updated == nil {
		updated = map[string]models.PurchaseRecord{}
	}
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.records = copyRecords(updated)
	return nil
}

func copyRecords(in map[string]models.PurchaseRecord) map[string]models.PurchaseRecord {
	out := make(map[string]models.PurchaseRecord, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
