package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Memory implements Store using an in-process map.
//
// Memory is safe for concurrent use and is the default backend for tests
// and ephemeral deployments. All returned records are copies; mutating a
// returned record does not affect stored state.
type Memory struct {
	mu      sync.RWMutex
	servers map[int64]*Server
	nextID  int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		servers: make(map[int64]*Server),
		nextID:  1,
	}
}

// Insert persists a new record and returns its assigned id.
func (m *Memory) Insert(ctx context.Context, srv *Server) (int64, error) {
	if srv == nil {
		return 0, fmt.Errorf("server cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	stored := srv.Clone()
	stored.ID = id
	m.servers[id] = stored

	return id, nil
}

// Update overwrites the record identified by srv.ID.
func (m *Memory) Update(ctx context.Context, srv *Server) error {
	if srv == nil {
		return fmt.Errorf("server cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[srv.ID]; !ok {
		return ErrNotFound
	}
	m.servers[srv.ID] = srv.Clone()
	return nil
}

// Delete removes the record.
func (m *Memory) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[id]; !ok {
		return ErrNotFound
	}
	delete(m.servers, id)
	return nil
}

// Get returns the record, or (nil, nil) when absent.
func (m *Memory) Get(ctx context.Context, id int64) (*Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	srv, ok := m.servers[id]
	if !ok {
		return nil, nil
	}
	return srv.Clone(), nil
}

// List returns records matching the options, in the requested order.
func (m *Memory) List(ctx context.Context, opts ListOptions) ([]*Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Server, 0, len(m.servers))
	for _, srv := range m.servers {
		if opts.ActiveOnly && !srv.IsActive {
			continue
		}
		if opts.ExcludeID != 0 && srv.ID == opts.ExcludeID {
			continue
		}
		result = append(result, srv.Clone())
	}

	sortServers(result, opts.OrderBy)
	return result, nil
}

// ClearSelected clears the IsSelected flag on every record.
func (m *Memory) ClearSelected(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, srv := range m.servers {
		srv.IsSelected = false
	}
	return nil
}

// SetSelected clears every IsSelected flag, then sets it on the given record.
func (m *Memory) SetSelected(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.servers[id]
	if !ok {
		return ErrNotFound
	}
	for _, srv := range m.servers {
		srv.IsSelected = false
	}
	target.IsSelected = true
	return nil
}

// AddUsage atomically adds amount to the record's usage and stamps LastUsed.
func (m *Memory) AddUsage(ctx context.Context, id int64, amount decimal.Decimal, when time.Time) (*Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	srv, ok := m.servers[id]
	if !ok {
		return nil, ErrNotFound
	}

	srv.CurrentUsage = srv.CurrentUsage.Add(amount)
	srv.LastUsed = when
	return srv.Clone(), nil
}

// ResetUsage sets the record's CurrentUsage to exactly zero.
func (m *Memory) ResetUsage(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	srv, ok := m.servers[id]
	if !ok {
		return ErrNotFound
	}
	srv.CurrentUsage = decimal.Zero
	return nil
}

// SetActive sets the record's IsActive flag.
func (m *Memory) SetActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	srv, ok := m.servers[id]
	if !ok {
		return ErrNotFound
	}
	srv.IsActive = active
	return nil
}

// Touch sets the record's LastUsed timestamp.
func (m *Memory) Touch(ctx context.Context, id int64, when time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	srv, ok := m.servers[id]
	if !ok {
		return ErrNotFound
	}
	srv.LastUsed = when
	return nil
}

// Close releases resources held by the store. It is a no-op for Memory.
func (m *Memory) Close() error {
	return nil
}

// sortServers applies the requested ordering in place.
func sortServers(servers []*Server, order Order) {
	switch order {
	case OrderByPriorityID:
		sort.SliceStable(servers, func(i, j int) bool {
			if servers[i].Priority != servers[j].Priority {
				return servers[i].Priority < servers[j].Priority
			}
			return servers[i].ID < servers[j].ID
		})
	case OrderByRotation:
		sort.SliceStable(servers, func(i, j int) bool {
			if servers[i].Priority != servers[j].Priority {
				return servers[i].Priority < servers[j].Priority
			}
			if !servers[i].LastUsed.Equal(servers[j].LastUsed) {
				return servers[i].LastUsed.Before(servers[j].LastUsed)
			}
			return servers[i].ID < servers[j].ID
		})
	default:
		sort.SliceStable(servers, func(i, j int) bool {
			return servers[i].ID < servers[j].ID
		})
	}
}
