package tenant

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/logger"
)

type contextKey struct{}

// WithTenant stores t in ctx.
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the tenant placed by Middleware or guard.ActiveTenant.
func FromContext(ctx context.Context) (*Tenant, bool) {
	t, ok := ctx.Value(contextKey{}).(*Tenant)
	return t, ok && t != nil
}

// IDFromContext returns the id of the tenant stored in ctx.
func IDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if t, ok := FromContext(ctx); ok {
		return t.ID, true
	}
	return uuid.Nil, false
}

// MustFromContext panics with ErrNoTenantInContext. Use it only behind
// RequireTenant or a guard that loads the tenant.
func MustFromContext(ctx context.Context) *Tenant {
	t, ok := FromContext(ctx)
	if !ok {
		panic(ErrNoTenantInContext)
	}
	return t
}

// LoggerExtractor returns a logger.ContextExtractor adding tenant_id.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		id, ok := IDFromContext(ctx)
		if !ok {
			return slog.Attr{}, false
		}
		return logger.TenantID(id), true
	}
}
