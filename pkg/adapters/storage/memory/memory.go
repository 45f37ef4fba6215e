package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/tenderflow/pkg/domain"
	"github.com/aescanero/tenderflow/pkg/ports"
)

// InMemoryStorage implements ResultStorage with a map. Records are copied on
// the way in and out.
type InMemoryStorage struct {
	records map[string]*domain.InvocationRecord
	mu      sync.RWMutex
}

// NewInMemoryStorage creates a new in-memory result storage
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		records: make(map[string]*domain.InvocationRecord),
	}
}

// Save stores a copy of record
func (s *InMemoryStorage) Save(ctx context.Context, record *domain.InvocationRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ID] = record.Clone()
	return nil
}

// Get returns a copy of the record with id
func (s *InMemoryStorage) Get(ctx context.Context, id string) (*domain.InvocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("invocation %s: %w", id, ports.ErrNotFound)
	}
	return record.Clone(), nil
}

// List returns stored ids, oldest submission first
func (s *InMemoryStorage) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.records[ids[i]], s.records[ids[j]]
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return ids[i] < ids[j]
	})
	return ids, nil
}

// Delete removes the record with id
func (s *InMemoryStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("invocation %s: %w", id, ports.ErrNotFound)
	}
	delete(s.records, id)
	return nil
}
