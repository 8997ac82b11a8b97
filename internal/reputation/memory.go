package reputation

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	failGet bool
	failPut bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// FailReads makes Get return an error.
func (m *MemoryStore) FailReads(fail bool) {
	m.mu.Lock()
	m.failGet = fail
	m.mu.Unlock()
}

// FailWrites makes Upsert return an error.
func (m *MemoryStore) FailWrites(fail bool) {
	m.mu.Lock()
	m.failPut = fail
	m.mu.Unlock()
}

func (m *MemoryStore) Get(_ context.Context, wallet string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failGet {
		return nil, context.DeadlineExceeded
	}
	rec, ok := m.records[wallet]
	if !ok {
		return nil, ErrNotFound
	}
	copy := rec
	return &copy, nil
}

func (m *MemoryStore) Upsert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return context.DeadlineExceeded
	}
	m.records[rec.WalletAddress] = *rec
	return nil
}

func (m *MemoryStore) LowScoreClusterIDs(_ context.Context, maxScore int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var ids []string
	for _, rec := range m.records {
		if rec.ReputationScore <= maxScore && rec.ClusterID != "" && !seen[rec.ClusterID] {
			seen[rec.ClusterID] = true
			ids = append(ids, rec.ClusterID)
		}
	}
	return ids, nil
}
