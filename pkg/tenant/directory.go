package tenant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dmitrymomot/authzkit/pkg/logger"
)

const (
	DefaultReadTimeout = 3 * time.Second
	DefaultCacheSize   = 1024
	DefaultCacheTTL    = 30 * time.Second
)

// Directory resolves tenant references with bounded-time storage reads.
type Directory struct {
	provider    Provider
	cache       *expirable.LRU[string, Tenant]
	readTimeout time.Duration
	logger      *slog.Logger

	// gen counts invalidations. A lookup caches its result only if gen is
	// unchanged since the lookup started, so a read racing SetStatus cannot
	// put the old status back.
	mu  sync.Mutex
	gen uint64
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*directoryConfig)

type directoryConfig struct {
	readTimeout time.Duration
	cacheSize   int
	cacheTTL    time.Duration
	logger      *slog.Logger
}

// WithReadTimeout bounds every storage read.
func WithReadTimeout(d time.Duration) DirectoryOption {
	return func(c *directoryConfig) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithCacheSize sets the number of cached tenants. Zero disables caching.
func WithCacheSize(n int) DirectoryOption {
	return func(c *directoryConfig) { c.cacheSize = n }
}

// WithCacheTTL sets how long a lookup is cached. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) DirectoryOption {
	return func(c *directoryConfig) { c.cacheTTL = ttl }
}

// WithDirectoryLogger sets the directory logger.
func WithDirectoryLogger(l *slog.Logger) DirectoryOption {
	return func(c *directoryConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewDirectory creates a Directory over provider. Panics on a nil provider.
func NewDirectory(provider Provider, opts ...DirectoryOption) *Directory {
	if provider == nil {
		panic("tenant: provider cannot be nil")
	}

	cfg := &directoryConfig{
		readTimeout: DefaultReadTimeout,
		cacheSize:   DefaultCacheSize,
		cacheTTL:    DefaultCacheTTL,
		logger:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	d := &Directory{
		provider:    provider,
		readTimeout: cfg.readTimeout,
		logger:      cfg.logger.With(logger.Component("tenant.directory")),
	}
	if cfg.cacheSize > 0 {
		// Two entries per tenant: one by id and one by org slug.
		d.cache = expirable.NewLRU[string, Tenant](cfg.cacheSize*2, nil, cfg.cacheTTL)
	}
	return d
}

// Resolve returns an active tenant by id or org slug. Suspended tenants yield
// ErrTenantSuspended and pending ones ErrTenantNotActive. Use it for callers
// that are already authenticated.
func (d *Directory) Resolve(ctx context.Context, ref string) (*Tenant, error) {
	t, err := d.Get(ctx, ref)
	if err != nil {
		return nil, err
	}

	switch t.Status {
	case StatusActive:
		return t, nil
	case StatusSuspended:
		return nil, ErrTenantSuspended
	default:
		return nil, ErrTenantNotActive
	}
}

// ResolvePublic is Resolve for unauthenticated callers: any tenant that is
// not active is reported as not found.
func (d *Directory) ResolvePublic(ctx context.Context, ref string) (*Tenant, error) {
	t, err := d.Resolve(ctx, ref)
	if errors.Is(err, ErrTenantSuspended) || errors.Is(err, ErrTenantNotActive) {
		return nil, ErrTenantNotFound
	}
	return t, err
}

// Get returns the tenant regardless of status.
func (d *Directory) Get(ctx context.Context, ref string) (*Tenant, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrInvalidIdentifier
	}

	if id, err := uuid.Parse(ref); err == nil {
		return d.GetByID(ctx, id)
	}

	orgID, err := NormalizeOrgID(ref)
	if err != nil {
		return nil, err
	}
	if t, ok := d.cached(orgKey(orgID)); ok {
		return t, nil
	}
	return d.load(ctx, func(ctx context.Context) (*Tenant, error) {
		return d.provider.GetByOrgID(ctx, orgID)
	})
}

// GetByID returns the tenant with id regardless of status.
func (d *Directory) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidIdentifier
	}
	if t, ok := d.cached(idKey(id)); ok {
		return t, nil
	}
	return d.load(ctx, func(ctx context.Context) (*Tenant, error) {
		return d.provider.GetByID(ctx, id)
	})
}

// Create registers a new pending tenant.
func (d *Directory) Create(ctx context.Context, orgID, name string, provider ProviderConfig) (*Tenant, error) {
	normalized, err := NormalizeOrgID(orgID)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		provider = LocalConfig{}
	}
	if err := provider.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &Tenant{
		ID:        uuid.New(),
		OrgID:     normalized,
		Name:      strings.TrimSpace(name),
		Status:    StatusPending,
		Provider:  provider,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.provider.Create(ctx, t); err != nil {
		return nil, d.storageErr(err)
	}
	return t, nil
}

// SetStatus applies a lifecycle transition and drops the cached copy. Only
// this Directory's cache is affected; other instances learn about the change
// through Invalidate.
func (d *Directory) SetStatus(ctx context.Context, id uuid.UUID, to Status) (*Tenant, error) {
	d.Invalidate(id)

	t, err := d.fetch(ctx, func(ctx context.Context) (*Tenant, error) {
		return d.provider.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if err := t.Transition(to); err != nil {
		return nil, err
	}
	if err := d.provider.UpdateStatus(ctx, id, to); err != nil {
		return nil, d.storageErr(err)
	}

	d.Invalidate(id)
	d.logger.InfoContext(ctx, "tenant status changed",
		logger.TenantID(id),
		slog.String("status", string(to)),
	)
	return t, nil
}

// Invalidate removes the tenant from the cache and fences off lookups
// already in flight.
func (d *Directory) Invalidate(id uuid.UUID) {
	if d.cache == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if t, ok := d.cache.Peek(idKey(id)); ok {
		d.cache.Remove(orgKey(t.OrgID))
	}
	d.cache.Remove(idKey(id))
}

func (d *Directory) load(ctx context.Context, fn func(ctx context.Context) (*Tenant, error)) (*Tenant, error) {
	d.mu.Lock()
	gen := d.gen
	d.mu.Unlock()

	t, err := d.fetch(ctx, fn)
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		d.mu.Lock()
		if d.gen == gen {
			d.cache.Add(idKey(t.ID), *t)
			d.cache.Add(orgKey(t.OrgID), *t)
		}
		d.mu.Unlock()
	}
	cp := *t
	return &cp, nil
}

func (d *Directory) fetch(ctx context.Context, fn func(ctx context.Context) (*Tenant, error)) (*Tenant, error) {
	ctx, cancel := context.WithTimeout(ctx, d.readTimeout)
	defer cancel()

	t, err := fn(ctx)
	if err != nil {
		return nil, d.storageErr(err)
	}
	if t == nil {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

// storageErr keeps domain errors as they are and folds everything else,
// including deadlines, into ErrStorageUnavailable.
func (d *Directory) storageErr(err error) error {
	switch {
	case errors.Is(err, ErrTenantNotFound), errors.Is(err, ErrOrgIDTaken), errors.Is(err, ErrInvalidIdentifier):
		return err
	}
	d.logger.Error("tenant storage failure", logger.Error(err), logger.Reason("storage_unavailable"))
	return errors.Join(ErrStorageUnavailable, err)
}

func (d *Directory) cached(key string) (*Tenant, bool) {
	if d.cache == nil {
		return nil, false
	}
	t, ok := d.cache.Get(key)
	if !ok {
		return nil, false
	}
	return &t, true
}

func idKey(id uuid.UUID) string   { return "id:" + id.String() }
func orgKey(orgID string) string { return "org:" + orgID }
