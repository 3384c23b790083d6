package guard

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/credential"
	"github.com/dmitrymomot/authzkit/pkg/rbac"
	"github.com/dmitrymomot/authzkit/pkg/tenant"
)

const (
	ReasonTenantNotFound = "tenant_not_found"
	ReasonTenantInactive = "tenant_inactive"
	ReasonPermission     = "permission_denied"
	ReasonTenantMismatch = "tenant_mismatch"
)

// Authenticator turns a raw credential into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*credential.Identity, error)
}

// Authorizer answers permission checks.
type Authorizer interface {
	Authorize(ctx context.Context, tenantID, principalID uuid.UUID, resource, action string) (bool, error)
}

// TenantResolver resolves an active tenant, as tenant.Directory.Resolve does.
type TenantResolver interface {
	Resolve(ctx context.Context, ref string) (*tenant.Tenant, error)
}

type credentialKey struct{}

// WithCredential stores the raw credential for Authenticated.
func WithCredential(ctx context.Context, raw string) context.Context {
	return context.WithValue(ctx, credentialKey{}, raw)
}

// CredentialFromContext returns the raw bearer credential stored by
// HTTPMiddleware.
func CredentialFromContext(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(credentialKey{}).(string)
	return raw, ok && raw != ""
}

// Authenticated resolves the credential from the context and attaches the
// identity. Storage failures are errors, everything else is a 401 denial.
func Authenticated(a Authenticator) Guard {
	return GuardFunc(func(ctx context.Context) (context.Context, Result) {
		raw, ok := CredentialFromContext(ctx)
		if !ok {
			return ctx, Unauthenticated(ErrNoCredential)
		}
		id, err := a.Authenticate(ctx, raw)
		if err != nil {
			if errors.Is(err, credential.ErrInvalidCredential) || errors.Is(err, credential.ErrExpiredCredential) {
				return ctx, Unauthenticated(err)
			}
			return ctx, Fail(err)
		}
		return credential.WithIdentity(ctx, id), Allow()
	})
}

// ActiveTenant loads the identity's tenant, requires it to be active, and
// attaches it to the context.
func ActiveTenant(dir TenantResolver) Guard {
	return GuardFunc(func(ctx context.Context) (context.Context, Result) {
		id, ok := credential.FromContext(ctx)
		if !ok {
			return ctx, Unauthenticated(credential.ErrNoIdentity)
		}
		if t, ok := tenant.FromContext(ctx); ok && t.ID != id.TenantID {
			return ctx, DenyWith(ReasonTenantMismatch, tenant.ErrTenantNotFound)
		}

		t, err := dir.Resolve(ctx, id.TenantID.String())
		switch {
		case err == nil:
			return tenant.WithTenant(ctx, t), Allow()
		case errors.Is(err, tenant.ErrTenantNotFound):
			return ctx, DenyWith(ReasonTenantNotFound, err)
		case errors.Is(err, tenant.ErrTenantSuspended), errors.Is(err, tenant.ErrTenantNotActive):
			return ctx, DenyWith(ReasonTenantInactive, err)
		default:
			return ctx, Fail(err)
		}
	})
}

// Permission requires the identity to hold resource.action.
func Permission(a Authorizer, resource, action string) Guard {
	return GuardFunc(func(ctx context.Context) (context.Context, Result) {
		id, ok := credential.FromContext(ctx)
		if !ok {
			return ctx, Unauthenticated(credential.ErrNoIdentity)
		}
		allowed, err := a.Authorize(ctx, id.TenantID, id.PrincipalID, resource, action)
		if err != nil {
			return ctx, Fail(err)
		}
		if !allowed {
			return ctx, DenyWith(ReasonPermission, rbac.ErrAccessDenied)
		}
		return ctx, Allow()
	})
}
