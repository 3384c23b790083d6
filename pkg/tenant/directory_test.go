package tenant_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/authzkit/pkg/tenant"
)

// countingProvider wraps MemoryProvider and counts reads.
type countingProvider struct {
	*tenant.MemoryProvider
	reads atomic.Int32
	err   error
	block bool
}

func (p *countingProvider) GetByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	p.reads.Add(1)
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.MemoryProvider.GetByID(ctx, id)
}

func (p *countingProvider) GetByOrgID(ctx context.Context, orgID string) (*tenant.Tenant, error) {
	p.reads.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.MemoryProvider.GetByOrgID(ctx, orgID)
}

func newTenant(orgID string, status tenant.Status) *tenant.Tenant {
	return &tenant.Tenant{ID: uuid.New(), OrgID: orgID, Name: orgID, Status: status}
}

func TestDirectory_Resolve(t *testing.T) {
	t.Parallel()

	acme := newTenant("acme", tenant.StatusActive)
	frozen := newTenant("frozen", tenant.StatusSuspended)
	fresh := newTenant("fresh", tenant.StatusPending)
	dir := tenant.NewDirectory(tenant.NewMemoryProvider(acme, frozen, fresh))
	ctx := context.Background()

	t.Run("by org slug, case folded", func(t *testing.T) {
		t.Parallel()
		got, err := dir.Resolve(ctx, "ACME")
		require.NoError(t, err)
		assert.Equal(t, acme.ID, got.ID)
	})

	t.Run("by id", func(t *testing.T) {
		t.Parallel()
		got, err := dir.Resolve(ctx, acme.ID.String())
		require.NoError(t, err)
		assert.Equal(t, "acme", got.OrgID)
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		_, err := dir.Resolve(ctx, "nobody")
		assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
		_, err = dir.Resolve(ctx, uuid.NewString())
		assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
	})

	t.Run("invalid reference", func(t *testing.T) {
		t.Parallel()
		for _, ref := range []string{"", "  ", "a", "-bad-", "has space"} {
			_, err := dir.Resolve(ctx, ref)
			assert.ErrorIs(t, err, tenant.ErrInvalidIdentifier, ref)
		}
	})

	t.Run("suspended is distinct internally", func(t *testing.T) {
		t.Parallel()
		_, err := dir.Resolve(ctx, "frozen")
		assert.ErrorIs(t, err, tenant.ErrTenantSuspended)
	})

	t.Run("suspended is hidden publicly", func(t *testing.T) {
		t.Parallel()
		_, err := dir.ResolvePublic(ctx, "frozen")
		assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
		assert.NotErrorIs(t, err, tenant.ErrTenantSuspended)
	})

	t.Run("pending is not active", func(t *testing.T) {
		t.Parallel()
		_, err := dir.Resolve(ctx, "fresh")
		assert.ErrorIs(t, err, tenant.ErrTenantNotActive)
		_, err = dir.ResolvePublic(ctx, "fresh")
		assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
	})
}

func TestDirectory_Cache(t *testing.T) {
	t.Parallel()

	acme := newTenant("acme", tenant.StatusActive)
	p := &countingProvider{MemoryProvider: tenant.NewMemoryProvider(acme)}
	dir := tenant.NewDirectory(p)
	ctx := context.Background()

	_, err := dir.Resolve(ctx, "acme")
	require.NoError(t, err)
	_, err = dir.Resolve(ctx, "acme")
	require.NoError(t, err)
	_, err = dir.Resolve(ctx, acme.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.reads.Load(), "slug and id lookups share one load")

	dir.Invalidate(acme.ID)
	_, err = dir.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.reads.Load())
}

func TestDirectory_StorageFailures(t *testing.T) {
	t.Parallel()

	t.Run("errors become storage unavailable", func(t *testing.T) {
		t.Parallel()
		p := &countingProvider{MemoryProvider: tenant.NewMemoryProvider(), err: errors.New("connection refused")}
		dir := tenant.NewDirectory(p)

		_, err := dir.Resolve(context.Background(), "acme")
		assert.ErrorIs(t, err, tenant.ErrStorageUnavailable)
	})

	t.Run("reads are bounded", func(t *testing.T) {
		t.Parallel()
		p := &countingProvider{MemoryProvider: tenant.NewMemoryProvider(), block: true}
		dir := tenant.NewDirectory(p, tenant.WithReadTimeout(20*time.Millisecond))

		start := time.Now()
		_, err := dir.Resolve(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, tenant.ErrStorageUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestDirectory_Lifecycle(t *testing.T) {
	t.Parallel()

	dir := tenant.NewDirectory(tenant.NewMemoryProvider())
	ctx := context.Background()

	created, err := dir.Create(ctx, "Globex", "Globex Corp", nil)
	require.NoError(t, err)
	assert.Equal(t, "globex", created.OrgID)
	assert.Equal(t, tenant.StatusPending, created.Status)
	assert.Equal(t, tenant.ProviderLocal, created.Provider.Type())

	_, err = dir.Create(ctx, "globex", "dup", nil)
	assert.ErrorIs(t, err, tenant.ErrOrgIDTaken)

	_, err = dir.SetStatus(ctx, created.ID, tenant.StatusSuspended)
	assert.ErrorIs(t, err, tenant.ErrInvalidTransition, "pending cannot be suspended")

	_, err = dir.SetStatus(ctx, created.ID, tenant.StatusActive)
	require.NoError(t, err)
	_, err = dir.Resolve(ctx, "globex")
	require.NoError(t, err)

	_, err = dir.SetStatus(ctx, created.ID, tenant.StatusSuspended)
	require.NoError(t, err)
	_, err = dir.Resolve(ctx, "globex")
	assert.ErrorIs(t, err, tenant.ErrTenantSuspended, "status change is visible immediately")

	_, err = dir.SetStatus(ctx, created.ID, tenant.StatusActive)
	require.NoError(t, err, "suspended tenants can be reinstated")
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	assert.True(t, tenant.CanTransition(tenant.StatusPending, tenant.StatusActive))
	assert.True(t, tenant.CanTransition(tenant.StatusActive, tenant.StatusSuspended))
	assert.True(t, tenant.CanTransition(tenant.StatusSuspended, tenant.StatusActive))
	assert.False(t, tenant.CanTransition(tenant.StatusActive, tenant.StatusPending))
	assert.False(t, tenant.CanTransition(tenant.StatusSuspended, tenant.StatusPending))
	assert.False(t, tenant.CanTransition(tenant.StatusActive, tenant.StatusActive))
}

// stallingProvider holds the first GetByID after it has read the tenant,
// until release is closed.
type stallingProvider struct {
	*tenant.MemoryProvider
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (p *stallingProvider) GetByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	t, err := p.MemoryProvider.GetByID(ctx, id)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return t, err
}

func TestDirectory_LookupRacingSuspension(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	acme := newTenant("acme", tenant.StatusActive)
	provider := &stallingProvider{
		MemoryProvider: tenant.NewMemoryProvider(acme),
		read:           make(chan struct{}),
		release:        make(chan struct{}),
	}
	dir := tenant.NewDirectory(provider)

	done := make(chan error)
	go func() {
		_, err := dir.Resolve(ctx, acme.ID.String())
		done <- err
	}()
	<-provider.read

	_, err := dir.SetStatus(ctx, acme.ID, tenant.StatusSuspended)
	require.NoError(t, err)

	close(provider.release)
	require.NoError(t, <-done, "the racing lookup read the tenant while it was still active")

	_, err = dir.Resolve(ctx, acme.ID.String())
	assert.ErrorIs(t, err, tenant.ErrTenantSuspended)
	_, err = dir.Resolve(ctx, "acme")
	assert.ErrorIs(t, err, tenant.ErrTenantSuspended)
}
