package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in memory, for tests and ephemeral
// deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append writes one event.
func (m *MemoryStore) Append(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *event
	m.events = append(m.events, &clone)
	return nil
}

// List returns up to limit events, newest first.
func (m *MemoryStore) List(ctx context.Context, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Event, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0; i-- {
		clone := *m.events[i]
		result = append(result, &clone)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Prune deletes events older than the cutoff.
func (m *MemoryStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.events[:0]
	deleted := 0
	for _, event := range m.events {
		if event.Timestamp.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, event)
	}
	m.events = kept
	return deleted, nil
}

// Close releases resources held by the store. It is a no-op for MemoryStore.
func (m *MemoryStore) Close() error {
	return nil
}
