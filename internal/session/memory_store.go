package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is used when no Redis is configured. Bindings are lost on
// restart.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	bindings map[string]memoryEntry
}

type memoryEntry struct {
	binding   Binding
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		bindings: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Bind(_ context.Context, sessionID string, binding Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if binding.BoundAt.IsZero() {
		binding.BoundAt = now
	}
	s.bindings[sessionID] = memoryEntry{binding: binding, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, sessionID string) (Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	entry, ok := s.bindings[sessionID]
	if !ok {
		return Binding{}, ErrNotFound
	}
	if !now.Before(entry.expiresAt) {
		delete(s.bindings, sessionID)
		return Binding{}, ErrNotFound
	}
	entry.expiresAt = now.Add(s.ttl)
	s.bindings[sessionID] = entry
	return entry.binding, nil
}

func (s *MemoryStore) Unbind(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.bindings, sessionID)
	s.mu.Unlock()
	return nil
}
