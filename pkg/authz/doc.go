// Package authz composes the tenant directory, credential resolver, RBAC
// engine and manager into one service.
//
// Reads:
//
//	id, err := svc.Authenticate(ctx, raw)
//	ok, err := svc.Authorize(ctx, id.TenantID, id.PrincipalID, "invoices", "read")
//
// Authorize never returns true alongside an error. A tenant that is
// suspended, pending or unknown always yields false.
//
// Mutations take a per-tenant lock, run in one store transaction together
// with their audit event, then invalidate the affected principals and
// publish a notify.ChangeEvent. Remote instances feed those events back
// through HandleChange.
//
// SweepExpired is meant to run on a schedule and removes role assignments
// whose expiry has passed.
package authz
