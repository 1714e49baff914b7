package calllog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps call records in process memory for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

func (s *InMemoryStore) SaveCall(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if prior, ok := s.records[record.ID]; ok && record.CreatedAt.IsZero() {
		record.CreatedAt = prior.CreatedAt
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	s.records[record.ID] = record
	return nil
}

func (s *InMemoryStore) GetCall(_ context.Context, callID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[callID]
	if !ok {
		return Record{}, ErrStoreNotFound
	}
	return record, nil
}

func (s *InMemoryStore) RecentCalls(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	out := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
