package history

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps history in memory, newest first. Good enough for a
// single run; gone on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	max     int
}

// NewMemoryStore creates an in-memory history store
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = 1000
	}
	return &MemoryStore{max: max}
}

// Record implements Store.
func (s *MemoryStore) Record(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append([]*Entry{entry}, s.entries...)
	if len(s.entries) > s.max {
		s.entries = s.entries[:s.max]
	}
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*Entry, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := int64(len(s.entries))
	if offset >= len(s.entries) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(s.entries) {
		end = len(s.entries)
	}

	out := make([]*Entry, end-offset)
	for i, e := range s.entries[offset:end] {
		copied := *e
		out[i] = &copied
	}
	return out, total, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
