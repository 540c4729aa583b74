package history

import (
	"context"
	"sync"

	"github.com/aura-chat/backend/internal/event"
)

// MemoryStore keeps the log in process memory. History is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	events []event.Event
}

// NewMemoryStore creates an empty in-memory log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, e event.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return int64(len(s.events)), nil
}

// Snapshot implements Store. The returned slice is a copy.
func (s *MemoryStore) Snapshot(_ context.Context) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out, nil
}
