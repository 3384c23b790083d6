// Package guard composes authorization checks into an explicit pipeline and
// exposes it as HTTP middleware.
//
// A Guard inspects the request context and returns a Result: Allow, Deny with
// a reason, or Error with a cause. Pipeline runs guards in order and stops at
// the first result that is not Allow. Guards may derive the context, which is
// how Authenticated attaches the identity for the guards after it.
//
//	mw := guard.RequirePermission(svc, svc, "role", "write",
//		guard.WithTenantDirectory(directory),
//		guard.WithLogger(log),
//	)
//	r.With(mw).Post("/roles", createRole)
//
// Status codes: unauthenticated 401, unknown tenant 404, denied or failed
// closed 403, tenant isolation violation 500 with an empty body.
package guard
