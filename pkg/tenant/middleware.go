package tenant

import (
	"net/http"
	"strings"

	"github.com/dmitrymomot/authzkit/pkg/logger"
)

// Middleware resolves the tenant reference of the request through dir and
// adds the tenant to the request context. It uses the public view, so a
// suspended tenant answers 404 here.
func Middleware(dir *Directory, resolver Resolver, opts ...Option) func(http.Handler) http.Handler {
	cfg := &config{
		errorHandler: defaultErrorHandler,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, skip := range cfg.skipPaths {
				if strings.HasPrefix(r.URL.Path, skip) {
					next.ServeHTTP(w, r)
					return
				}
			}

			ref, err := resolver.Resolve(r)
			if err != nil {
				cfg.errorHandler(w, r, err)
				return
			}
			if ref == "" {
				if cfg.optional {
					next.ServeHTTP(w, r)
					return
				}
				cfg.errorHandler(w, r, ErrNoTenantInContext)
				return
			}

			t, err := dir.ResolvePublic(r.Context(), ref)
			if err != nil {
				cfg.logger.DebugContext(r.Context(), "tenant resolution failed",
					logger.Error(err),
				)
				cfg.errorHandler(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), t)))
		})
	}
}

// RequireTenant rejects requests that reached it without a tenant in context.
func RequireTenant(errorHandler ErrorHandler) func(http.Handler) http.Handler {
	if errorHandler == nil {
		errorHandler = defaultErrorHandler
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := FromContext(r.Context()); !ok {
				errorHandler(w, r, ErrNoTenantInContext)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
