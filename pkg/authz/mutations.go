package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/audit"
	"github.com/dmitrymomot/authzkit/pkg/credential"
	"github.com/dmitrymomot/authzkit/pkg/isolation"
	"github.com/dmitrymomot/authzkit/pkg/logger"
	"github.com/dmitrymomot/authzkit/pkg/notify"
	"github.com/dmitrymomot/authzkit/pkg/permission"
	"github.com/dmitrymomot/authzkit/pkg/rbac"
	"github.com/dmitrymomot/authzkit/pkg/tenant"
)

// ErrKeysDisabled is returned by API-key administration when the service
// was built without WithKeys.
var ErrKeysDisabled = errors.New("authz: api key administration not configured")

// mutate runs fn under the tenant lock and scope. After fn commits, the
// affected principals are invalidated and listeners notified, in that order.
func (s *Service) mutate(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context) (rbac.Result, error)) error {
	if tenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant is required", rbac.ErrInvalidInput)
	}

	unlock := s.locks.lock(tenantID)
	defer unlock()

	return isolation.WithTenantScope(ctx, tenantID, func(ctx context.Context, _ isolation.Scope) error {
		res, err := fn(ctx)
		if err != nil {
			return err
		}
		return s.afterCommit(ctx, tenantID, res)
	})
}

func (s *Service) afterCommit(ctx context.Context, tenantID uuid.UUID, res rbac.Result) error {
	if !res.Changed {
		return nil
	}

	var invalidateErr error
	if len(res.Affected) > 0 {
		invalidateErr = s.engine.Invalidate(ctx, tenantID, res.Affected...)
	}

	event := notify.ChangeEvent{
		TenantID:             tenantID,
		Scope:                notify.ScopeRBAC,
		AffectedPrincipalIDs: res.Affected,
		OccurredAt:           s.now().UTC(),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "change notification dropped", logger.TenantID(tenantID), logger.Error(err))
	}
	return invalidateErr
}

// SavePrincipal creates or updates a principal. Disabling a principal
// invalidates its cached permissions.
func (s *Service) SavePrincipal(ctx context.Context, tenantID uuid.UUID, p rbac.Principal) (rbac.Principal, error) {
	var saved rbac.Principal
	err := s.mutate(ctx, tenantID, func(ctx context.Context) (res rbac.Result, err error) {
		saved, res, err = s.manager.SavePrincipal(ctx, tenantID, p)
		return res, err
	})
	return saved, err
}

// CreateRole adds a role to the tenant. Nobody holds it yet, so no cached
// set is dropped.
func (s *Service) CreateRole(ctx context.Context, tenantID, actorID uuid.UUID, in rbac.RoleInput) (rbac.Role, error) {
	var role rbac.Role
	err := s.mutate(ctx, tenantID, func(ctx context.Context) (res rbac.Result, err error) {
		role, res, err = s.manager.CreateRole(ctx, tenantID, actorID, in)
		return res, err
	})
	return role, err
}

// UpdateRole applies u. A non-zero u.ExpectedVersion must match the stored
// version or rbac.ErrVersionConflict is returned.
func (s *Service) UpdateRole(ctx context.Context, tenantID, actorID, roleID uuid.UUID, u rbac.RoleUpdate) (rbac.Role, error) {
	var role rbac.Role
	err := s.mutate(ctx, tenantID, func(ctx context.Context) (res rbac.Result, err error) {
		role, res, err = s.manager.UpdateRole(ctx, tenantID, actorID, roleID, u)
		return res, err
	})
	return role, err
}

// DeleteRole removes a role; see rbac.Manager.DeleteRole for cascading.
func (s *Service) DeleteRole(ctx context.Context, tenantID, actorID, roleID uuid.UUID, opts rbac.DeleteOptions) error {
	return s.mutate(ctx, tenantID, func(ctx context.Context) (rbac.Result, error) {
		return s.manager.DeleteRole(ctx, tenantID, actorID, roleID, opts)
	})
}

// AssignRole is idempotent: assigning a held role returns the existing
// assignment and writes nothing.
func (s *Service) AssignRole(ctx context.Context, tenantID, actorID, userID, roleID uuid.UUID, opts rbac.AssignOptions) (rbac.Assignment, error) {
	var a rbac.Assignment
	err := s.mutate(ctx, tenantID, func(ctx context.Context) (res rbac.Result, err error) {
		a, res, err = s.manager.AssignRole(ctx, tenantID, actorID, userID, roleID, opts)
		return res, err
	})
	return a, err
}

// BulkAssign gives every user every role in one transaction and returns
// the assignments it created. Existing pairs are skipped.
func (s *Service) BulkAssign(ctx context.Context, tenantID, actorID uuid.UUID, userIDs, roleIDs []uuid.UUID, opts rbac.AssignOptions) ([]rbac.Assignment, error) {
	var created []rbac.Assignment
	err := s.mutate(ctx, tenantID, func(ctx context.Context) (res rbac.Result, err error) {
		created, res, err = s.manager.BulkAssign(ctx, tenantID, actorID, userIDs, roleIDs, opts)
		return res, err
	})
	return created, err
}

// RevokeRole removes an assignment. Revoking a missing one is a no-op.
func (s *Service) RevokeRole(ctx context.Context, tenantID, actorID, userID, roleID uuid.UUID) error {
	return s.mutate(ctx, tenantID, func(ctx context.Context) (rbac.Result, error) {
		return s.manager.RevokeRole(ctx, tenantID, actorID, userID, roleID)
	})
}

// GrantPermission adds key to a role and refreshes every holder of the role
// or of a role inheriting from it.
func (s *Service) GrantPermission(ctx context.Context, tenantID, actorID, roleID uuid.UUID, key string) error {
	return s.mutate(ctx, tenantID, func(ctx context.Context) (rbac.Result, error) {
		return s.manager.GrantPermission(ctx, tenantID, actorID, roleID, key)
	})
}

// RevokePermission removes key from a role.
func (s *Service) RevokePermission(ctx context.Context, tenantID, actorID, roleID uuid.UUID, key string) error {
	return s.mutate(ctx, tenantID, func(ctx context.Context) (rbac.Result, error) {
		return s.manager.RevokePermission(ctx, tenantID, actorID, roleID, key)
	})
}

// GrantDirect gives key to one principal outside of any role.
func (s *Service) GrantDirect(ctx context.Context, tenantID, actorID, principalID uuid.UUID, key string) error {
	return s.mutate(ctx, tenantID, func(ctx context.Context) (rbac.Result, error) {
		return s.manager.GrantDirect(ctx, tenantID, actorID, principalID, key)
	})
}

// RevokeDirect takes back a direct grant.
func (s *Service) RevokeDirect(ctx context.Context, tenantID, actorID, principalID uuid.UUID, key string) error {
	return s.mutate(ctx, tenantID, func(ctx context.Context) (rbac.Result, error) {
		return s.manager.RevokeDirect(ctx, tenantID, actorID, principalID, key)
	})
}

// DefinePermission adds or updates an entry of the tenant catalog.
func (s *Service) DefinePermission(ctx context.Context, tenantID, actorID uuid.UUID, d permission.Definition) (permission.Definition, error) {
	var def permission.Definition
	err := s.mutate(ctx, tenantID, func(ctx context.Context) (res rbac.Result, err error) {
		def, res, err = s.manager.DefinePermission(ctx, tenantID, actorID, d)
		return res, err
	})
	return def, err
}

// RemovePermission deletes an unused entry of the tenant catalog.
func (s *Service) RemovePermission(ctx context.Context, tenantID, actorID uuid.UUID, key string) error {
	return s.mutate(ctx, tenantID, func(ctx context.Context) (rbac.Result, error) {
		return s.manager.RemovePermission(ctx, tenantID, actorID, key)
	})
}

// CreateRoleFromTemplate creates a role from the template of seed named
// template.
func (s *Service) CreateRoleFromTemplate(ctx context.Context, tenantID, actorID uuid.UUID, seed *rbac.Seed, template, name string) (rbac.Role, error) {
	if seed == nil {
		return rbac.Role{}, fmt.Errorf("%w: %q", rbac.ErrTemplateNotFound, template)
	}
	tmpl, ok := seed.Template(template)
	if !ok {
		return rbac.Role{}, fmt.Errorf("%w: %q", rbac.ErrTemplateNotFound, template)
	}
	var role rbac.Role
	err := s.mutate(ctx, tenantID, func(ctx context.Context) (res rbac.Result, err error) {
		role, res, err = s.manager.CreateRoleFromTemplate(ctx, tenantID, actorID, tmpl, name)
		return res, err
	})
	return role, err
}

// SeedTenant applies the default catalog and roles to a tenant and drops
// every cached permission set of it.
func (s *Service) SeedTenant(ctx context.Context, tenantID, actorID uuid.UUID, seed *rbac.Seed) ([]rbac.Role, error) {
	var roles []rbac.Role
	err := s.mutate(ctx, tenantID, func(ctx context.Context) (rbac.Result, error) {
		var err error
		if roles, err = s.manager.Seed(ctx, tenantID, actorID, seed); err != nil {
			return rbac.Result{}, err
		}
		return rbac.Result{}, s.engine.InvalidateTenant(ctx, tenantID)
	})
	return roles, err
}

// SweepExpired removes expired assignments in every tenant that has any.
// It returns the number of tenants that changed. A failing tenant does not
// stop the others; their errors are joined.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	tenants, err := s.manager.ExpiredTenants(ctx)
	if err != nil {
		return 0, err
	}

	swept := 0
	var errs []error
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		var changed bool
		err := s.mutate(ctx, tenantID, func(ctx context.Context) (rbac.Result, error) {
			res, err := s.manager.SweepExpired(ctx, tenantID)
			changed = res.Changed
			return res, err
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "expiry sweep failed", logger.TenantID(tenantID), logger.Error(err))
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		if changed {
			swept++
		}
	}

	if swept > 0 {
		s.logger.InfoContext(ctx, "expired assignments swept", "tenants", swept)
	}
	return swept, errors.Join(errs...)
}

// HandleChange applies a change event published by another instance. It
// matches notify.Handler.
func (s *Service) HandleChange(ctx context.Context, event notify.ChangeEvent) error {
	if event.TenantID == uuid.Nil {
		return fmt.Errorf("%w: change event without tenant", rbac.ErrInvalidInput)
	}
	if event.Scope == notify.ScopeTenant {
		s.directory.Invalidate(event.TenantID)
		return s.engine.InvalidateTenant(ctx, event.TenantID)
	}
	if len(event.AffectedPrincipalIDs) == 0 {
		return s.engine.InvalidateTenant(ctx, event.TenantID)
	}
	return s.engine.Invalidate(ctx, event.TenantID, event.AffectedPrincipalIDs...)
}

// SetTenantStatus moves a tenant through its lifecycle. The local caches are
// dropped before it returns and other instances are told to drop theirs, so
// a suspended tenant stops authorizing everywhere.
func (s *Service) SetTenantStatus(ctx context.Context, actorID, tenantID uuid.UUID, to tenant.Status) (*tenant.Tenant, error) {
	unlock := s.locks.lock(tenantID)
	defer unlock()

	from, err := s.directory.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	t, err := s.directory.SetStatus(ctx, tenantID, to)
	if err != nil {
		return nil, err
	}

	invalidateErr := s.engine.InvalidateTenant(ctx, tenantID)
	event := notify.ChangeEvent{
		TenantID:   tenantID,
		Scope:      notify.ScopeTenant,
		OccurredAt: s.now().UTC(),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "change notification dropped", logger.TenantID(tenantID), logger.Error(err))
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, audit.Change{
			TenantID:   tenantID,
			ActorID:    actorID,
			Action:     audit.ActionTenantStatus,
			EntityType: audit.EntityTenant,
			EntityID:   tenantID.String(),
			Details:    map[string]any{"from": string(from.Status), "to": string(to)},
		}); err != nil {
			s.logger.WarnContext(ctx, "tenant audit dropped", logger.TenantID(tenantID), logger.Error(err))
		}
	}
	return t, invalidateErr
}

// IssueAPIKey creates an API key for an existing, active principal. The raw
// key is returned once.
func (s *Service) IssueAPIKey(ctx context.Context, actorID uuid.UUID, in credential.NewKey) (string, credential.APIKey, error) {
	if s.keys == nil || s.hasher == nil {
		return "", credential.APIKey{}, ErrKeysDisabled
	}

	var (
		raw string
		key credential.APIKey
	)
	err := isolation.WithTenantScope(ctx, in.TenantID, func(ctx context.Context, scope isolation.Scope) error {
		p, err := s.store.GetPrincipal(ctx, in.TenantID, in.PrincipalID)
		if err != nil {
			return err
		}
		if err := scope.Check(p); err != nil {
			return err
		}
		if !p.IsActive() {
			return fmt.Errorf("%w: principal is disabled", rbac.ErrInvalidInput)
		}

		raw, key, err = s.hasher.Issue(in, s.now().UTC())
		if err != nil {
			return err
		}
		if err := s.keys.CreateAPIKey(ctx, in.TenantID, key); err != nil {
			return err
		}
		s.recordKey(ctx, actorID, key, audit.ActionCredentialIssued)
		return nil
	})
	if err != nil {
		return "", credential.APIKey{}, err
	}
	return raw, key, nil
}

// RevokeAPIKey revokes a key. Resolution fails for it right away.
func (s *Service) RevokeAPIKey(ctx context.Context, tenantID, actorID, keyID uuid.UUID) error {
	if s.keys == nil {
		return ErrKeysDisabled
	}
	return isolation.WithTenantScope(ctx, tenantID, func(ctx context.Context, _ isolation.Scope) error {
		if err := s.keys.RevokeAPIKey(ctx, tenantID, keyID); err != nil {
			return err
		}
		s.recordKey(ctx, actorID, credential.APIKey{ID: keyID, TenantID: tenantID}, audit.ActionCredentialRevoked)
		return nil
	})
}

// ListAPIKeys lists the keys of a tenant without their hashes.
func (s *Service) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]credential.APIKey, error) {
	if s.keys == nil {
		return nil, ErrKeysDisabled
	}
	var keys []credential.APIKey
	err := isolation.WithTenantScope(ctx, tenantID, func(ctx context.Context, _ isolation.Scope) error {
		var err error
		if keys, err = s.keys.ListAPIKeys(ctx, tenantID); err != nil {
			return err
		}
		return isolation.CheckRows(ctx, keys)
	})
	return keys, err
}

func (s *Service) recordKey(ctx context.Context, actorID uuid.UUID, key credential.APIKey, action string) {
	if s.audit == nil {
		return
	}
	details := map[string]any{}
	if key.Prefix != "" {
		details["key_prefix"] = key.Prefix
		details["scope"] = string(key.Scope)
		details["principal_id"] = key.PrincipalID.String()
	}
	if err := s.audit.Record(ctx, audit.Change{
		TenantID:   key.TenantID,
		ActorID:    actorID,
		Action:     action,
		EntityType: audit.EntityCredential,
		EntityID:   key.ID.String(),
		Details:    details,
	}); err != nil {
		s.logger.WarnContext(ctx, "credential audit dropped", logger.TenantID(key.TenantID), logger.Error(err))
	}
}
