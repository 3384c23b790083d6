// Package tenant is the tenant directory: it resolves an organization slug or
// tenant id to a Tenant and rejects unknown, pending and suspended tenants.
//
// # Architecture
//
// The package is built around three pieces:
//
// 1. Provider - loads tenants from storage (Postgres, memory)
// 2. Directory - bounded-time, cached lookups with lifecycle rules
// 3. Middleware - resolves the tenant reference of an HTTP request and puts
// the tenant into the request context
//
// # Visibility
//
// Resolve is the authenticated view and returns ErrTenantSuspended for
// suspended tenants. ResolvePublic is what unauthenticated callers see: a
// suspended or pending tenant is reported as ErrTenantNotFound so its
// existence is not leaked.
//
// # Usage
//
//	dir := tenant.NewDirectory(provider,
//		tenant.WithReadTimeout(3*time.Second),
//		tenant.WithCacheTTL(30*time.Second),
//	)
//
//	router.Use(tenant.Middleware(dir, tenant.NewHeaderResolver("X-Tenant-ID")))
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//		t := tenant.MustFromContext(r.Context())
//		_ = t.OrgID
//	}
//
// # Provider configuration
//
// Each tenant carries the identity provider configuration used by the
// external login collaborator. ProviderConfig is a closed set of variants
// (AzureADConfig, Auth0Config, SAMLConfig, LocalConfig) serialized with a
// {"type": ..., "config": ...} envelope.
package tenant
