package rbac

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Entry is a cached permission union. ValidUntil is the earliest expiry
// among the assignments it was built from; a zero value never expires.
type Entry struct {
	Permissions []string  `json:"permissions"`
	ValidUntil  time.Time `json:"valid_until,omitzero"`
}

// Fresh reports whether the entry may still be used at now.
func (e Entry) Fresh(now time.Time) bool {
	return e.ValidUntil.IsZero() || now.Before(e.ValidUntil)
}

// Cache stores permission unions per (tenant, principal). Get and Set are
// best effort. Delete and DeleteTenant must report failure, because a stale
// entry breaks read-your-writes.
//
// Every Delete and DeleteTenant advances the tenant's generation. A reader
// takes Generation before loading from storage and passes it to Set, which
// stores the entry only if no invalidation of the tenant happened since.
// Caches shared between processes must keep the generation in the shared
// backend, otherwise one instance can write back a union another instance
// has just invalidated.
type Cache interface {
	Get(ctx context.Context, tenantID, principalID uuid.UUID) (Entry, bool)
	Generation(ctx context.Context, tenantID uuid.UUID) (uint64, error)
	Set(ctx context.Context, tenantID, principalID uuid.UUID, gen uint64, e Entry)
	Delete(ctx context.Context, tenantID uuid.UUID, principalIDs ...uuid.UUID) error
	DeleteTenant(ctx context.Context, tenantID uuid.UUID) error
}

// MemoryCache is a process-local expirable LRU.
type MemoryCache struct {
	lru *expirable.LRU[string, Entry]

	mu   sync.Mutex
	gens map[uuid.UUID]uint64
}

// NewMemoryCache creates a cache of size entries living at most ttl. A zero
// ttl keeps entries until evicted or invalidated.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		lru:  expirable.NewLRU[string, Entry](max(size, 1), nil, ttl),
		gens: make(map[uuid.UUID]uint64),
	}
}

func cacheKey(tenantID, principalID uuid.UUID) string {
	return tenantID.String() + ":" + principalID.String()
}

// Get returns a live entry.
func (c *MemoryCache) Get(_ context.Context, tenantID, principalID uuid.UUID) (Entry, bool) {
	return c.lru.Get(cacheKey(tenantID, principalID))
}

// Generation returns the tenant's invalidation counter.
func (c *MemoryCache) Generation(_ context.Context, tenantID uuid.UUID) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[tenantID], nil
}

// Set stores e unless the tenant was invalidated after gen was taken.
func (c *MemoryCache) Set(_ context.Context, tenantID, principalID uuid.UUID, gen uint64, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[tenantID] != gen {
		return
	}
	c.lru.Add(cacheKey(tenantID, principalID), e)
}

// Delete drops the entries and fences out loads that started before it.
func (c *MemoryCache) Delete(_ context.Context, tenantID uuid.UUID, principalIDs ...uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[tenantID]++
	for _, id := range principalIDs {
		c.lru.Remove(cacheKey(tenantID, id))
	}
	return nil
}

// DeleteTenant drops every entry of the tenant.
func (c *MemoryCache) DeleteTenant(_ context.Context, tenantID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[tenantID]++
	prefix := tenantID.String() + ":"
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int { return c.lru.Len() }

type noCache struct{}

func (noCache) Get(context.Context, uuid.UUID, uuid.UUID) (Entry, bool) { return Entry{}, false }
func (noCache) Generation(context.Context, uuid.UUID) (uint64, error) { return 0, nil }
func (noCache) Set(context.Context, uuid.UUID, uuid.UUID, uint64, Entry) {}
func (noCache) Delete(context.Context, uuid.UUID, ...uuid.UUID) error { return nil }
func (noCache) DeleteTenant(context.Context, uuid.UUID) error { return nil }
