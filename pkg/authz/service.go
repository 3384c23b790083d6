package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/audit"
	"github.com/dmitrymomot/authzkit/pkg/credential"
	"github.com/dmitrymomot/authzkit/pkg/isolation"
	"github.com/dmitrymomot/authzkit/pkg/logger"
	"github.com/dmitrymomot/authzkit/pkg/notify"
	"github.com/dmitrymomot/authzkit/pkg/rbac"
	"github.com/dmitrymomot/authzkit/pkg/tenant"
)

// Denial reasons added on top of the credential resolver's.
const (
	ReasonTenantUnavailable = "tenant_unavailable"
	ReasonUnknownPrincipal  = "unknown_principal"
	ReasonPrincipalDisabled = "principal_disabled"
)

// Service is the public face of the authorization core. Reads go straight
// to the engine; mutations are serialized per tenant and followed by cache
// invalidation and change notification before they return.
type Service struct {
	directory   *tenant.Directory
	store       rbac.Store
	resolver    *credential.Resolver
	engine      *rbac.Engine
	manager     *rbac.Manager
	notifier    notify.Notifier
	keys        credential.KeyManager
	hasher      *credential.Hasher
	audit       *audit.Logger
	metrics     *Metrics
	locks       *tenantLocks
	readTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Service)

// WithEngine replaces the default engine, which has no cache.
func WithEngine(e *rbac.Engine) Option {
	return func(s *Service) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithManager replaces the default manager.
func WithManager(m *rbac.Manager) Option {
	return func(s *Service) {
		if m != nil {
			s.manager = m
		}
	}
}

// WithNotifier sets where change events go. Wrap slow publishers in
// notify.Async; Notify is called while the tenant lock is held.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithKeys enables API-key administration.
func WithKeys(keys credential.KeyManager, hasher *credential.Hasher) Option {
	return func(s *Service) {
		s.keys = keys
		s.hasher = hasher
	}
}

// WithAuditLogger records API-key administration. RBAC mutations are
// audited by the manager inside their transaction.
func WithAuditLogger(l *audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

// WithMetrics records decisions. A nil m disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithReadTimeout bounds the tenant and store reads of one request.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds the service. directory, store and resolver are required.
func New(directory *tenant.Directory, store rbac.Store, resolver *credential.Resolver, opts ...Option) *Service {
	if directory == nil || store == nil || resolver == nil {
		panic("authz: directory, store and resolver are required")
	}
	s := &Service{
		directory:   directory,
		store:       store,
		resolver:    resolver,
		notifier:    notify.Nop,
		locks:       newTenantLocks(),
		readTimeout: rbac.DefaultReadTimeout,
		now:         time.Now,
		logger:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = rbac.NewEngine(store, rbac.WithReadTimeout(s.readTimeout))
	}
	if s.manager == nil {
		s.manager = rbac.NewManager(store)
	}
	s.logger = s.logger.With(logger.Component("authz"))
	return s
}

// Engine and Directory expose the collaborators the HTTP layer wires
// directly.
func (s *Service) Engine() *rbac.Engine         { return s.engine }
func (s *Service) Directory() *tenant.Directory { return s.directory }

// Authenticate resolves a raw credential to an identity whose tenant and
// principal are both active. An unknown or inactive tenant or principal is
// reported as credential.ErrInvalidCredential and audited as a denial.
func (s *Service) Authenticate(ctx context.Context, raw string) (*credential.Identity, error) {
	id, err := s.resolver.Resolve(ctx, raw)
	if err != nil {
		return nil, err
	}

	if _, err := s.directory.Resolve(ctx, id.TenantID.String()); err != nil {
		if errors.Is(err, tenant.ErrStorageUnavailable) {
			return nil, err
		}
		return nil, s.resolver.Deny(ctx, id, ReasonTenantUnavailable)
	}

	err = isolation.WithTenantScope(ctx, id.TenantID, func(ctx context.Context, scope isolation.Scope) error {
		readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
		defer cancel()

		p, err := s.store.GetPrincipal(readCtx, id.TenantID, id.PrincipalID)
		switch {
		case errors.Is(err, rbac.ErrPrincipalNotFound):
			return s.resolver.Deny(ctx, id, ReasonUnknownPrincipal)
		case err != nil:
			if isolation.IsFatal(err) {
				return err
			}
			return errors.Join(rbac.ErrStorageUnavailable, err)
		}
		if err := scope.Check(p); err != nil {
			logger.Fatal(ctx, s.logger, "principal crossed tenant boundary",
				logger.TenantID(id.TenantID),
				logger.PrincipalID(id.PrincipalID),
			)
			return err
		}
		if !p.IsActive() {
			return s.resolver.Deny(ctx, id, ReasonPrincipalDisabled)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return id, nil
}

// Authorize reports whether principalID may perform action on resource.
// A tenant that is not active yields false. Storage failures yield false
// with rbac.ErrStorageUnavailable.
func (s *Service) Authorize(ctx context.Context, tenantID, principalID uuid.UUID, resource, action string) (bool, error) {
	start := s.now()
	allowed, err := s.authorize(ctx, tenantID, func(ctx context.Context) (bool, error) {
		return s.engine.HasPermission(ctx, tenantID, principalID, resource, action)
	})
	s.metrics.observeDecision(decisionLabel(allowed, err), s.now().Sub(start))

	s.logger.DebugContext(ctx, "authorization decision",
		logger.TenantID(tenantID),
		logger.PrincipalID(principalID),
		logger.Permission(resource+"."+action),
		logger.Decision(decisionLabel(allowed, err)),
	)
	return allowed, err
}

// AuthorizeAll is Authorize for several checks against one permission union.
func (s *Service) AuthorizeAll(ctx context.Context, tenantID, principalID uuid.UUID, checks []rbac.Check) (map[rbac.Check]bool, error) {
	start := s.now()
	var out map[rbac.Check]bool
	_, err := s.authorize(ctx, tenantID, func(ctx context.Context) (bool, error) {
		var err error
		out, err = s.engine.HasPermissions(ctx, tenantID, principalID, checks)
		return false, err
	})
	if out == nil {
		out = make(map[rbac.Check]bool, len(checks))
		for _, c := range checks {
			out[c] = false
		}
	}

	elapsed := s.now().Sub(start)
	for _, c := range checks {
		s.metrics.observeDecision(decisionLabel(out[c], err), elapsed)
	}
	return out, err
}

func (s *Service) authorize(ctx context.Context, tenantID uuid.UUID, eval func(ctx context.Context) (bool, error)) (bool, error) {
	if tenantID == uuid.Nil {
		return false, fmt.Errorf("%w: tenant is required", rbac.ErrInvalidInput)
	}

	var allowed bool
	err := isolation.WithTenantScope(ctx, tenantID, func(ctx context.Context, _ isolation.Scope) error {
		active, err := s.tenantActive(ctx, tenantID)
		if err != nil || !active {
			return err
		}
		allowed, err = eval(ctx)
		return err
	})
	if err != nil {
		return false, err
	}
	return allowed, nil
}

func (s *Service) tenantActive(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	_, err := s.directory.Resolve(ctx, tenantID.String())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, tenant.ErrTenantNotFound),
		errors.Is(err, tenant.ErrTenantSuspended),
		errors.Is(err, tenant.ErrTenantNotActive):
		s.logger.DebugContext(ctx, "tenant rejects authorization", logger.TenantID(tenantID), logger.Reason(err.Error()))
		return false, nil
	default:
		s.logger.ErrorContext(ctx, "tenant lookup failed",
			logger.TenantID(tenantID),
			logger.Reason("storage_unavailable"),
			logger.Error(err),
		)
		return false, err
	}
}

// EffectivePermissions returns the sorted permission union of a principal.
func (s *Service) EffectivePermissions(ctx context.Context, tenantID, principalID uuid.UUID) ([]string, error) {
	var keys []string
	err := isolation.WithTenantScope(ctx, tenantID, func(ctx context.Context, _ isolation.Scope) error {
		var err error
		keys, err = s.engine.EffectivePermissions(ctx, tenantID, principalID)
		return err
	})
	return keys, err
}

func decisionLabel(allowed bool, err error) string {
	switch {
	case err != nil:
		return ResultError
	case allowed:
		return ResultAllow
	default:
		return ResultDeny
	}
}
