package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository implements Repository with in-memory storage.
// Expired records are removed by DeleteOlderThan.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{records: make(map[string]Record)}
}

// Get implements Repository.
func (r *InMemoryRepository) Get(_ context.Context, route, key string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[scopedKey(route, key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return &record, nil
}

// Store implements Repository.
func (r *InMemoryRepository) Store(_ context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := scopedKey(record.Route, record.Key)
	if _, exists := r.records[id]; exists {
		return ErrKeyExists
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	r.records[id] = *record
	return nil
}

// DeleteOlderThan removes records older than d and returns how many were removed.
func (r *InMemoryRepository) DeleteOlderThan(d time.Duration) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-d)
	var deleted int64
	for id, record := range r.records {
		if record.CreatedAt.Before(cutoff) {
			delete(r.records, id)
			deleted++
		}
	}
	return deleted
}

// Len returns the number of stored records.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
