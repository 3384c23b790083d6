package authz

import (
	"sync"

	"github.com/google/uuid"
)

// tenantLocks is a keyed mutex. Entries are dropped when the last holder
// unlocks, so idle tenants cost nothing.
type tenantLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*tenantLock
}

type tenantLock struct {
	mu   sync.Mutex
	refs int
}

func newTenantLocks() *tenantLocks {
	return &tenantLocks{locks: make(map[uuid.UUID]*tenantLock)}
}

// lock blocks until tenantID is free and returns the unlock func.
func (l *tenantLocks) lock(tenantID uuid.UUID) func() {
	l.mu.Lock()
	tl, ok := l.locks[tenantID]
	if !ok {
		tl = &tenantLock{}
		l.locks[tenantID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, tenantID)
		}
		l.mu.Unlock()
	}
}
