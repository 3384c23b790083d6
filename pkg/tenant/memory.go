package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryProvider is an in-process Provider for tests and local development.
type MemoryProvider struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]Tenant
	byOrgID map[string]uuid.UUID
}

// NewMemoryProvider creates a provider seeded with tenants.
func NewMemoryProvider(tenants ...*Tenant) *MemoryProvider {
	p := &MemoryProvider{
		byID:    make(map[uuid.UUID]Tenant),
		byOrgID: make(map[string]uuid.UUID),
	}
	for _, t := range tenants {
		_ = p.Create(context.Background(), t)
	}
	return p
}

// GetByID returns a copy of the stored tenant.
func (p *MemoryProvider) GetByID(_ context.Context, id uuid.UUID) (*Tenant, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	t, ok := p.byID[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return &t, nil
}

func (p *MemoryProvider) GetByOrgID(ctx context.Context, orgID string) (*Tenant, error) {
	p.mu.RLock()
	id, ok := p.byOrgID[orgID]
	p.mu.RUnlock()

	if !ok {
		return nil, ErrTenantNotFound
	}
	return p.GetByID(ctx, id)
}

// Create fails with ErrTenantExists on a taken id or org id.
func (p *MemoryProvider) Create(_ context.Context, t *Tenant) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, taken := p.byOrgID[t.OrgID]; taken {
		return ErrOrgIDTaken
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	p.byID[t.ID] = *t
	p.byOrgID[t.OrgID] = t.ID
	return nil
}

// UpdateStatus sets the status without checking the transition.
func (p *MemoryProvider) UpdateStatus(_ context.Context, id uuid.UUID, status Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.byID[id]
	if !ok {
		return ErrTenantNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	p.byID[id] = t
	return nil
}
