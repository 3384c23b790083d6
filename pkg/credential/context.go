package credential

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/authzkit/pkg/logger"
)

type identityKey struct{}

// WithIdentity stores the identity in the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// MustFromContext panics when the context carries no identity.
func MustFromContext(ctx context.Context) *Identity {
	id, ok := FromContext(ctx)
	if !ok {
		panic(ErrNoIdentity)
	}
	return id
}

// LoggerExtractor returns a logger.ContextExtractor adding principal_id.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id, ok := FromContext(ctx); ok {
			return logger.PrincipalID(id.PrincipalID.String()), true
		}
		return slog.Attr{}, false
	}
}
