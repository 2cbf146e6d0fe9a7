package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemStore is a process-local Store for single-instance deployments and
// tests. Same admission semantics as RedisStore, no cross-instance state.
type MemStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemStore initializes an empty in-memory window store.
func NewMemStore() *MemStore {
	return &MemStore{windows: make(map[string][]time.Time)}
}

// Slide implements Store.
func (s *MemStore) Slide(_ context.Context, key string, now time.Time, window, _ time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	kept := s.windows[key][:0]
	for _, ts := range s.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	s.windows[key] = kept

	return len(kept), kept[0], nil
}
