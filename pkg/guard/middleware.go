package guard

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmitrymomot/authzkit/pkg/credential"
	"github.com/dmitrymomot/authzkit/pkg/isolation"
	"github.com/dmitrymomot/authzkit/pkg/logger"
	"github.com/dmitrymomot/authzkit/pkg/tenant"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderAPIKey        = "X-API-Key"
)

// ErrorHandler writes the response for a rejected request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, res Result, status int)

type config struct {
	errorHandler ErrorHandler
	extractor    func(r *http.Request) string
	directory    TenantResolver
	logger       *slog.Logger
}

type Option func(*config)

// WithErrorHandler replaces the default JSON error response.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *config) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

// WithCredentialExtractor replaces the default header lookup.
func WithCredentialExtractor(fn func(r *http.Request) string) Option {
	return func(c *config) {
		if fn != nil {
			c.extractor = fn
		}
	}
}

// WithTenantDirectory makes RequirePermission load the active tenant into
// the request context after authentication.
func WithTenantDirectory(d TenantResolver) Option {
	return func(c *config) { c.directory = d }
}

// WithLogger sets the guard logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func newConfig(opts []Option) *config {
	c := &config{
		errorHandler: defaultErrorHandler,
		extractor:    CredentialFromRequest,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.Component("guard"))
	return c
}

// CredentialFromRequest returns the bearer token of the Authorization header
// or, failing that, the X-API-Key header.
func CredentialFromRequest(r *http.Request) string {
	if h := r.Header.Get(HeaderAuthorization); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(HeaderAPIKey))
}

// StatusCode maps a non-Allow result to an HTTP status.
func StatusCode(res Result) int {
	switch res.Decision {
	case DecisionAllow:
		return http.StatusOK
	case DecisionDeny:
		switch {
		case errors.Is(res.Cause, ErrUnauthenticated),
			errors.Is(res.Cause, credential.ErrInvalidCredential),
			errors.Is(res.Cause, credential.ErrExpiredCredential):
			return http.StatusUnauthorized
		case errors.Is(res.Cause, tenant.ErrTenantNotFound):
			return http.StatusNotFound
		default:
			return http.StatusForbidden
		}
	default:
		if isolation.IsFatal(res.Cause) {
			return http.StatusInternalServerError
		}
		return http.StatusForbidden
	}
}

// HTTPMiddleware runs g for every request. The credential found by the
// extractor is available to guards through CredentialFromContext.
func HTTPMiddleware(g Guard, opts ...Option) func(http.Handler) http.Handler {
	return middleware(g, newConfig(opts))
}

// RequirePermission authenticates the request and requires resource.action.
func RequirePermission(authn Authenticator, authz Authorizer, resource, action string, opts ...Option) func(http.Handler) http.Handler {
	cfg := newConfig(opts)
	guards := []Guard{Authenticated(authn)}
	if cfg.directory != nil {
		guards = append(guards, ActiveTenant(cfg.directory))
	}
	guards = append(guards, Permission(authz, resource, action))
	return middleware(Pipeline(guards...), cfg)
}

func middleware(g Guard, cfg *config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if raw := cfg.extractor(r); raw != "" {
				ctx = WithCredential(ctx, raw)
			}

			ctx, res := g.Check(ctx)
			if res.Allowed() {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			status := StatusCode(res)
			reason := res.Reason
			if res.Decision == DecisionError && !isolation.IsFatal(res.Cause) {
				reason = "storage_unavailable"
			}
			attrs := []slog.Attr{
				logger.Decision(res.Decision.String()),
				logger.Reason(reason),
				slog.Int("status", status),
			}
			if res.Cause != nil {
				attrs = append(attrs, logger.Error(res.Cause))
			}
			switch {
			case isolation.IsFatal(res.Cause):
				logger.Fatal(ctx, cfg.logger, "tenant isolation violation", attrs...)
			case res.Decision == DecisionError:
				cfg.logger.LogAttrs(ctx, slog.LevelError, "guard failed closed", attrs...)
			default:
				cfg.logger.LogAttrs(ctx, slog.LevelDebug, "request denied", attrs...)
			}

			cfg.errorHandler(w, r, res, status)
		})
	}
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, res Result, status int) {
	if status == http.StatusInternalServerError {
		w.WriteHeader(status)
		return
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authzkit"`)
	}
	http.Error(w, http.StatusText(status), status)
}
