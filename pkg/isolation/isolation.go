// Package isolation scopes data access to exactly one tenant.
//
// Every storage entry point takes the tenant id as a mandatory argument.
// WithTenantScope pins that tenant into the context, and Check asserts that
// rows coming back from storage belong to it. A mismatch is a
// TenantIsolationViolation: a bug, never a user error, and never retried.
package isolation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Scoped is implemented by every tenant-owned row.
type Scoped interface {
	ScopeTenantID() uuid.UUID
}

// Scope identifies the tenant an operation is bound to.
type Scope struct {
	TenantID uuid.UUID
}

type scopeCtxKey struct{}

// WithTenantScope runs fn with ctx bound to tenantID. Nesting a scope for a
// different tenant inside an existing one is a violation.
func WithTenantScope(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context, s Scope) error) error {
	if tenantID == uuid.Nil {
		return ErrMissingTenant
	}

	if existing, ok := FromContext(ctx); ok && existing.TenantID != tenantID {
		return &ViolationError{
			Expected: existing.TenantID,
			Actual:   tenantID,
			Entity:   "scope",
		}
	}

	s := Scope{TenantID: tenantID}
	return fn(context.WithValue(ctx, scopeCtxKey{}, s), s)
}

// FromContext returns the active scope, if any.
func FromContext(ctx context.Context) (Scope, bool) {
	if ctx == nil {
		return Scope{}, false
	}
	s, ok := ctx.Value(scopeCtxKey{}).(Scope)
	return s, ok
}

// Check returns a *ViolationError for the first row owned by another tenant.
func (s Scope) Check(rows ...Scoped) error {
	for _, row := range rows {
		if row == nil {
			continue
		}
		if got := row.ScopeTenantID(); got != s.TenantID {
			return &ViolationError{
				Expected: s.TenantID,
				Actual:   got,
				Entity:   fmt.Sprintf("%T", row),
			}
		}
	}
	return nil
}

// Ensure checks a single row against the expected tenant outside of a scope.
func Ensure(tenantID uuid.UUID, row Scoped) error {
	return Scope{TenantID: tenantID}.Check(row)
}

// CheckRows asserts rows against the scope bound to ctx. Without a scope it
// is a no-op, since the tenant argument of the storage call already filtered.
func CheckRows[T Scoped](ctx context.Context, rows []T) error {
	s, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	for _, row := range rows {
		if err := s.Check(row); err != nil {
			return err
		}
	}
	return nil
}
