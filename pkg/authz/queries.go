package authz

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/isolation"
	"github.com/dmitrymomot/authzkit/pkg/logger"
	"github.com/dmitrymomot/authzkit/pkg/permission"
	"github.com/dmitrymomot/authzkit/pkg/rbac"
)

// ListRoles returns every role defined in the tenant.
func (s *Service) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]rbac.Role, error) {
	var roles []rbac.Role
	err := s.read(ctx, tenantID, func(ctx context.Context) error {
		var err error
		if roles, err = s.store.ListRoles(ctx, tenantID); err != nil {
			return err
		}
		return isolation.CheckRows(ctx, roles)
	})
	return roles, err
}

// RoleHierarchy returns the tenant's roles as inheritance trees.
func (s *Service) RoleHierarchy(ctx context.Context, tenantID uuid.UUID) ([]rbac.RoleNode, error) {
	roles, err := s.ListRoles(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return rbac.Hierarchy(roles), nil
}

// GetRole returns one role of the tenant or rbac.ErrRoleNotFound.
func (s *Service) GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (rbac.Role, error) {
	var role rbac.Role
	err := s.read(ctx, tenantID, func(ctx context.Context) error {
		var err error
		if role, err = s.store.GetRole(ctx, tenantID, roleID); err != nil {
			return err
		}
		return isolation.CheckRows(ctx, []rbac.Role{role})
	})
	return role, err
}

// ListPermissions returns the catalog visible to the tenant: system
// permissions plus the tenant's own.
func (s *Service) ListPermissions(ctx context.Context, tenantID uuid.UUID) ([]permission.Definition, error) {
	var defs []permission.Definition
	err := s.read(ctx, tenantID, func(ctx context.Context) error {
		var err error
		defs, err = s.store.ListPermissions(ctx, tenantID)
		return err
	})
	return defs, err
}

func (s *Service) read(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context) error) error {
	err := isolation.WithTenantScope(ctx, tenantID, func(ctx context.Context, _ isolation.Scope) error {
		readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
		defer cancel()
		return fn(readCtx)
	})
	switch {
	case err == nil,
		errors.Is(err, rbac.ErrRoleNotFound),
		errors.Is(err, rbac.ErrInvalidInput),
		errors.Is(err, isolation.ErrMissingTenant):
		return err
	case isolation.IsFatal(err):
		logger.Fatal(ctx, s.logger, "tenant isolation violation", logger.TenantID(tenantID), logger.Error(err))
		return err
	}
	s.logger.ErrorContext(ctx, "rbac read failed", logger.TenantID(tenantID), logger.Error(err))
	return errors.Join(rbac.ErrStorageUnavailable, err)
}
