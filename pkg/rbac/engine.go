package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/isolation"
	"github.com/dmitrymomot/authzkit/pkg/logger"
	"github.com/dmitrymomot/authzkit/pkg/permission"
)

// DefaultReadTimeout bounds the storage reads of one evaluation.
const DefaultReadTimeout = 3 * time.Second

// Cache events reported to the observer.
const (
	CacheHit        = "hit"
	CacheMiss       = "miss"
	CacheStale      = "stale"
	CacheInvalidate = "invalidate"
)

// Engine evaluates permissions for tenant-scoped principals.
type Engine struct {
	store       Reader
	cache       Cache
	readTimeout time.Duration
	logger      *slog.Logger
	observe     func(event string)
	now         func() time.Time
}

type EngineOption func(*Engine)

// WithCache enables caching of permission unions.
func WithCache(c Cache) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithReadTimeout bounds the store reads of one permission load. A read
// that runs out of time fails closed with ErrStorageUnavailable.
func WithReadTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.readTimeout = d
		}
	}
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCacheObserver receives CacheHit, CacheMiss, CacheStale and
// CacheInvalidate events.
func WithCacheObserver(fn func(event string)) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.observe = fn
		}
	}
}

// WithEngineClock overrides time.Now for assignment expiry.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an Engine over store. Without WithCache every check
// reads through to storage.
func NewEngine(store Reader, opts ...EngineOption) *Engine {
	if store == nil {
		panic("rbac: store cannot be nil")
	}
	e := &Engine{
		store:       store,
		cache:       noCache{},
		readTimeout: DefaultReadTimeout,
		logger:      logger.Discard(),
		observe:     func(string) {},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logger.Component("rbac.engine"))
	return e
}

// HasPermission reports whether the principal may perform action on
// resource within tenantID. Denial is (false, nil). A principal of another
// tenant, a missing principal and a disabled principal are all denied.
// Storage failures return false with ErrStorageUnavailable.
func (e *Engine) HasPermission(ctx context.Context, tenantID, principalID uuid.UUID, resource, action string) (bool, error) {
	check := Check{Resource: resource, Action: action}
	if err := validateRequest(tenantID, principalID, check); err != nil {
		return false, err
	}

	set, err := e.permissions(ctx, tenantID, principalID)
	if err != nil || set == nil {
		return false, err
	}
	return set.Allows(resource, action), nil
}

// HasPermissions evaluates several checks against one load of the
// principal's permissions.
func (e *Engine) HasPermissions(ctx context.Context, tenantID, principalID uuid.UUID, checks []Check) (map[Check]bool, error) {
	if err := validateRequest(tenantID, principalID, checks...); err != nil {
		return nil, err
	}

	result := make(map[Check]bool, len(checks))
	for _, c := range checks {
		result[c] = false
	}

	set, err := e.permissions(ctx, tenantID, principalID)
	if err != nil {
		return result, err
	}
	if set == nil {
		return result, nil
	}
	for _, c := range checks {
		result[c] = set.Allows(c.Resource, c.Action)
	}
	return result, nil
}

// EffectivePermissions returns the sorted union for a principal. A
// disabled principal has none. Unlike HasPermission a missing principal is
// reported as ErrPrincipalNotFound.
func (e *Engine) EffectivePermissions(ctx context.Context, tenantID, principalID uuid.UUID) ([]string, error) {
	if tenantID == uuid.Nil || principalID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant and principal are required", ErrInvalidInput)
	}
	set, err := e.load(ctx, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return []string{}, nil
	}
	return set.Keys(), nil
}

// Invalidate drops cached unions of the given principals. Mutations call it
// before they return so the next check sees the change.
func (e *Engine) Invalidate(ctx context.Context, tenantID uuid.UUID, principalIDs ...uuid.UUID) error {
	e.observe(CacheInvalidate)
	if err := e.cache.Delete(ctx, tenantID, principalIDs...); err != nil {
		e.logger.ErrorContext(ctx, "permission cache invalidation failed", logger.TenantID(tenantID), logger.Error(err))
		return errors.Join(ErrCacheUnavailable, err)
	}
	return nil
}

// InvalidateTenant drops every cached union of a tenant.
func (e *Engine) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error {
	e.observe(CacheInvalidate)
	if err := e.cache.DeleteTenant(ctx, tenantID); err != nil {
		e.logger.ErrorContext(ctx, "tenant cache invalidation failed", logger.TenantID(tenantID), logger.Error(err))
		return errors.Join(ErrCacheUnavailable, err)
	}
	return nil
}

// permissions is load with a missing principal turned into a denial.
func (e *Engine) permissions(ctx context.Context, tenantID, principalID uuid.UUID) (permission.Set, error) {
	set, err := e.load(ctx, tenantID, principalID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return nil, nil
	}
	return set, err
}

// load returns the principal's union, or nil for a principal that must be
// denied everything.
func (e *Engine) load(ctx context.Context, tenantID, principalID uuid.UUID) (permission.Set, error) {
	now := e.now()

	if entry, ok := e.cache.Get(ctx, tenantID, principalID); ok {
		if entry.Fresh(now) {
			e.observe(CacheHit)
			return permission.NewSet(entry.Permissions...), nil
		}
		e.observe(CacheStale)
	} else {
		e.observe(CacheMiss)
	}

	// An invalidation that lands while the union is being built moves the
	// generation on and the stale union is not cached.
	gen, genErr := e.cache.Generation(ctx, tenantID)

	ctx, cancel := context.WithTimeout(ctx, e.readTimeout)
	defer cancel()

	p, err := e.store.GetPrincipal(ctx, tenantID, principalID)
	if err != nil {
		return nil, e.storageErr(ctx, tenantID, err)
	}
	if p.TenantID != tenantID {
		logger.Fatal(ctx, e.logger, "principal of another tenant returned by storage",
			logger.TenantID(tenantID),
			logger.PrincipalID(principalID),
		)
		return nil, nil
	}
	if !p.IsActive() {
		return nil, nil
	}

	assignments, err := e.store.ActiveAssignments(ctx, tenantID, principalID, now)
	if err != nil {
		return nil, e.storageErr(ctx, tenantID, err)
	}

	var validUntil time.Time
	roleIDs := make([]uuid.UUID, 0, len(assignments))
	for _, a := range assignments {
		if err := isolation.Ensure(tenantID, a); err != nil {
			return nil, e.storageErr(ctx, tenantID, err)
		}
		if !a.ActiveAt(now) {
			continue
		}
		if a.ExpiresAt != nil && (validUntil.IsZero() || a.ExpiresAt.Before(validUntil)) {
			validUntil = *a.ExpiresAt
		}
		roleIDs = append(roleIDs, a.RoleID)
	}

	roles, err := ResolveInheritance(ctx, e.store, tenantID, roleIDs)
	if err != nil {
		return nil, e.storageErr(ctx, tenantID, err)
	}

	set := permission.NewSet(p.DirectPermissions...)
	for _, r := range roles {
		set.Add(r.Permissions...)
	}

	if genErr == nil {
		e.cache.Set(ctx, tenantID, principalID, gen, Entry{Permissions: set.Keys(), ValidUntil: validUntil})
	}
	return set, nil
}

// ResolveInheritance returns the roles in roleIDs and every role they
// inherit, each once. Parents deeper than MaxInheritanceDepth levels and
// missing parents are ignored.
func ResolveInheritance(ctx context.Context, store Reader, tenantID uuid.UUID, roleIDs []uuid.UUID) ([]Role, error) {
	seen := make(map[uuid.UUID]struct{}, len(roleIDs))
	var out []Role

	frontier := roleIDs
	for depth := 0; len(frontier) > 0 && depth <= MaxInheritanceDepth; depth++ {
		roles, err := store.RolesByIDs(ctx, tenantID, frontier)
		if err != nil {
			return nil, err
		}

		var next []uuid.UUID
		for _, r := range roles {
			if err := isolation.Ensure(tenantID, r); err != nil {
				return nil, err
			}
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
			for _, parent := range r.Inherits {
				if _, ok := seen[parent]; !ok {
					next = append(next, parent)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func (e *Engine) storageErr(ctx context.Context, tenantID uuid.UUID, err error) error {
	switch {
	case errors.Is(err, ErrPrincipalNotFound):
		return err
	case isolation.IsFatal(err):
		logger.Fatal(ctx, e.logger, "tenant isolation violation", logger.TenantID(tenantID), logger.Error(err))
		return err
	}
	e.logger.ErrorContext(ctx, "permission evaluation failed",
		logger.TenantID(tenantID),
		logger.Reason("storage_unavailable"),
		logger.Error(err),
	)
	return errors.Join(ErrStorageUnavailable, err)
}

func validateRequest(tenantID, principalID uuid.UUID, checks ...Check) error {
	if tenantID == uuid.Nil || principalID == uuid.Nil {
		return fmt.Errorf("%w: tenant and principal are required", ErrInvalidInput)
	}
	for _, c := range checks {
		if c.Resource == "" || c.Action == "" {
			return fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
		}
		if _, _, err := permission.Parse(c.Key()); err != nil {
			return errors.Join(ErrInvalidInput, err)
		}
	}
	return nil
}
