package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStorage keeps events in memory. It implements Storage and Reader and
// seals each tenant chain like the Postgres store does.
type MemoryStorage struct {
	mu     sync.RWMutex
	events map[uuid.UUID][]Event
	err    error
}

// NewMemoryStorage returns an empty in-memory trail.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{events: make(map[uuid.UUID][]Event)}
}

// FailWith makes subsequent Store calls return err. Pass nil to recover.
func (m *MemoryStorage) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Store chains and appends events. A batch is stored whole or not at all.
func (m *MemoryStorage) Store(_ context.Context, events ...Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	for _, e := range events {
		if err := e.Validate(); err != nil {
			return err
		}
	}

	for _, e := range events {
		chain := m.events[e.TenantID]
		prev := ""
		if n := len(chain); n > 0 {
			prev = chain[n-1].Hash
		}
		Seal(prev, &e)
		m.events[e.TenantID] = append(chain, e)
	}
	return nil
}

// Find returns the tenant's events that match filter, oldest first.
func (m *MemoryStorage) Find(_ context.Context, tenantID uuid.UUID, filter Filter) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	skipped := 0
	for _, e := range m.events[tenantID] {
		if !filter.Match(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of stored events across all tenants.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, chain := range m.events {
		n += len(chain)
	}
	return n
}
