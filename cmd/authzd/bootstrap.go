package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/credential"
	"github.com/dmitrymomot/authzkit/pkg/rbac"
	"github.com/dmitrymomot/authzkit/pkg/tenant"
)

// adminRole is the seeded role granted to the first principal of a tenant.
const adminRole = "admin"

type bootstrapResult struct {
	Tenant *tenant.Tenant
	Key    string
}

// bootstrap creates an active tenant, applies the seed and issues an API key
// for adminID holding the admin role.
func (a *app) bootstrap(ctx context.Context, orgID, name string, adminID uuid.UUID) (*bootstrapResult, error) {
	if adminID == uuid.Nil {
		adminID = uuid.New()
	}

	t, err := a.directory.Create(ctx, orgID, name, nil)
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	if t, err = a.svc.SetTenantStatus(ctx, adminID, t.ID, tenant.StatusActive); err != nil {
		return nil, fmt.Errorf("activate tenant: %w", err)
	}

	roles, err := a.svc.SeedTenant(ctx, t.ID, adminID, a.seed)
	if err != nil {
		return nil, fmt.Errorf("seed tenant: %w", err)
	}
	var admin *rbac.Role
	for i := range roles {
		if roles[i].Name == adminRole {
			admin = &roles[i]
		}
	}
	if admin == nil {
		return nil, fmt.Errorf("%w: seed has no %q role", rbac.ErrInvalidSeed, adminRole)
	}

	if _, err := a.svc.SavePrincipal(ctx, t.ID, rbac.Principal{ID: adminID}); err != nil {
		return nil, fmt.Errorf("save principal: %w", err)
	}
	if _, err := a.svc.AssignRole(ctx, t.ID, adminID, adminID, admin.ID, rbac.AssignOptions{}); err != nil {
		return nil, fmt.Errorf("assign admin: %w", err)
	}

	raw, _, err := a.svc.IssueAPIKey(ctx, adminID, credential.NewKey{
		TenantID:    t.ID,
		PrincipalID: adminID,
		Name:        "bootstrap",
		Scope:       credential.ScopeRBAC,
	})
	if err != nil {
		return nil, fmt.Errorf("issue key: %w", err)
	}
	return &bootstrapResult{Tenant: t, Key: raw}, nil
}
