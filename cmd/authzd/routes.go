package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/authzkit/pkg/clientip"
	"github.com/dmitrymomot/authzkit/pkg/guard"
	"github.com/dmitrymomot/authzkit/pkg/httpserver"
	"github.com/dmitrymomot/authzkit/pkg/ratelimiter"
	"github.com/dmitrymomot/authzkit/pkg/requestid"
	"github.com/dmitrymomot/authzkit/pkg/tenant"
)

// healthTimeout bounds a readiness probe.
const healthTimeout = 2 * time.Second

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		requestid.Middleware,
		a.ips.Middleware,
		userAgent,
	)

	r.Get("/livez", httpserver.HealthCheckHandler(a.logger, healthTimeout))
	r.Get("/readyz", httpserver.HealthCheckHandler(a.logger, healthTimeout, a.checks...))
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(ratelimiter.Middleware(a.limiter, func(r *http.Request) string {
			return clientip.GetIPFromContext(r.Context())
		}, a.logger))

		r.With(tenant.Middleware(a.directory, tenant.NewPathResolver(3),
			tenant.WithErrorHandler(tenantError),
			tenant.WithLogger(a.logger),
		)).Get("/tenants/{orgID}", a.tenantInfo)

		r.Group(func(r chi.Router) {
			r.Use(guard.HTTPMiddleware(
				guard.Pipeline(guard.Authenticated(a.svc), guard.ActiveTenant(a.directory)),
				a.guardOptions()...,
			))
			r.Get("/me/permissions", a.myPermissions)
			r.Post("/authorize", a.authorize)
		})

		r.With(a.require("role", "read")).Get("/roles", a.listRoles)
		r.With(a.require("role", "read")).Get("/roles/hierarchy", a.roleHierarchy)
		r.With(a.require("role", "read")).Get("/roles/{roleID}", a.getRole)
		r.With(a.require("role", "read")).Get("/role-templates", a.listTemplates)
		r.With(a.require("role", "read")).Get("/permissions", a.listPermissions)
		r.Group(func(r chi.Router) {
			r.Use(a.require("role", "write"))
			r.Post("/roles", a.createRole)
			r.Post("/role-templates/{template}/roles", a.createRoleFromTemplate)
			r.Patch("/roles/{roleID}", a.updateRole)
			r.Delete("/roles/{roleID}", a.deleteRole)
			r.Put("/roles/{roleID}/permissions/{permission}", a.grantRolePermission)
			r.Delete("/roles/{roleID}/permissions/{permission}", a.revokeRolePermission)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.require("assignment", "write"))
			r.Post("/assignments/bulk", a.bulkAssign)
			r.Put("/users/{userID}/roles/{roleID}", a.assignRole)
			r.Delete("/users/{userID}/roles/{roleID}", a.revokeRole)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.require("principal", "write"))
			r.Post("/principals", a.savePrincipal)
			r.Put("/principals/{principalID}/permissions/{permission}", a.grantDirect)
			r.Delete("/principals/{principalID}/permissions/{permission}", a.revokeDirect)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.require("permission", "write"))
			r.Put("/permissions/{permission}", a.definePermission)
			r.Delete("/permissions/{permission}", a.removePermission)
		})

		r.With(a.require("api_key", "read")).Get("/api-keys", a.listKeys)
		r.With(a.require("api_key", "write")).Post("/api-keys", a.issueKey)
		r.With(a.require("api_key", "write")).Delete("/api-keys/{keyID}", a.revokeKey)

		r.With(a.require("audit", "read")).Get("/audit", a.auditTrail)
	})
	return r
}

func (a *app) guardOptions() []guard.Option {
	return []guard.Option{
		guard.WithErrorHandler(guardError),
		guard.WithLogger(a.logger),
	}
}

func (a *app) require(resource, action string) func(http.Handler) http.Handler {
	opts := append(a.guardOptions(), guard.WithTenantDirectory(a.directory))
	return guard.RequirePermission(a.svc, a.svc, resource, action, opts...)
}

func userAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.UserAgent(); ua != "" {
			r = r.WithContext(context.WithValue(r.Context(), userAgentKey{}, ua))
		}
		next.ServeHTTP(w, r)
	})
}
