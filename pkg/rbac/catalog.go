package rbac

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/audit"
	"github.com/dmitrymomot/authzkit/pkg/permission"
)

// DefinePermission adds or updates a tenant catalog entry. Seeded and
// platform entries are read-only. Once a tenant has a catalog, only its
// keys can be granted, so defining the first entry narrows what roles and
// principals may hold.
func (m *Manager) DefinePermission(ctx context.Context, tenantID, actorID uuid.UUID, d permission.Definition) (permission.Definition, Result, error) {
	key, err := permission.Normalize(d.Key)
	if err != nil {
		return permission.Definition{}, Result{}, errors.Join(ErrInvalidInput, err)
	}
	if key == permission.Wildcard {
		return permission.Definition{}, Result{}, fmt.Errorf("%w: the wildcard is not a catalog entry", ErrInvalidInput)
	}
	def := permission.Definition{
		TenantID:    tenantID,
		Key:         key,
		Category:    strings.TrimSpace(d.Category),
		Description: strings.TrimSpace(d.Description),
	}

	var changed bool
	err = m.store.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		cur, found, err := catalogEntry(ctx, tx, tenantID, key)
		if err != nil {
			return err
		}
		if found && (cur.IsSystem || cur.TenantID != tenantID) {
			return fmt.Errorf("%w: %q", ErrSystemPermission, key)
		}
		if found && cur == def {
			return nil
		}
		if err := tx.UpsertPermission(ctx, tenantID, def); err != nil {
			return err
		}
		changed = true
		return m.record(ctx, tx, audit.Change{
			TenantID:   tenantID,
			ActorID:    actorID,
			Action:     audit.ActionPermissionDefined,
			EntityType: audit.EntityPermission,
			EntityID:   key,
			Details: map[string]any{
				"category":    def.Category,
				"description": def.Description,
				"updated":     found,
			},
		})
	})
	if err != nil {
		return permission.Definition{}, Result{}, m.txErr(ctx, tenantID, err)
	}
	if !changed {
		return def, Result{}, nil
	}
	return def, Result{Changed: true}, nil
}

// RemovePermission deletes a tenant catalog entry. A key still held by a
// role or granted directly to a principal is not removed; revoke it first.
// Removing an unknown key succeeds without writing anything.
func (m *Manager) RemovePermission(ctx context.Context, tenantID, actorID uuid.UUID, key string) (Result, error) {
	key, err := permission.Normalize(key)
	if err != nil {
		return Result{}, errors.Join(ErrInvalidInput, err)
	}

	var removed bool
	err = m.store.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		cur, found, err := catalogEntry(ctx, tx, tenantID, key)
		if err != nil || !found {
			return err
		}
		if cur.IsSystem || cur.TenantID != tenantID {
			return fmt.Errorf("%w: %q", ErrSystemPermission, key)
		}

		roles, err := tx.ListRoles(ctx, tenantID)
		if err != nil {
			return err
		}
		var holdingRoles []string
		for _, r := range roles {
			if slices.Contains(r.Permissions, key) {
				holdingRoles = append(holdingRoles, r.Name)
			}
		}
		if len(holdingRoles) > 0 {
			return fmt.Errorf("%w: %q is held by roles %s", ErrPermissionInUse, key, strings.Join(holdingRoles, ", "))
		}
		principals, err := tx.PrincipalsWithPermission(ctx, tenantID, key)
		if err != nil {
			return err
		}
		if len(principals) > 0 {
			return fmt.Errorf("%w: %q is granted directly to %d principals", ErrPermissionInUse, key, len(principals))
		}

		if removed, err = tx.RemovePermission(ctx, tenantID, key); err != nil || !removed {
			return err
		}
		return m.record(ctx, tx, audit.Change{
			TenantID:   tenantID,
			ActorID:    actorID,
			Action:     audit.ActionPermissionRemoved,
			EntityType: audit.EntityPermission,
			EntityID:   key,
			Details:    map[string]any{"category": cur.Category},
		})
	})
	if err != nil {
		return Result{}, m.txErr(ctx, tenantID, err)
	}
	if !removed {
		return Result{}, nil
	}
	return Result{Changed: true}, nil
}

// catalogEntry finds key among the tenant and platform entries.
func catalogEntry(ctx context.Context, r Reader, tenantID uuid.UUID, key string) (permission.Definition, bool, error) {
	defs, err := r.ListPermissions(ctx, tenantID)
	if err != nil {
		return permission.Definition{}, false, err
	}
	for _, d := range defs {
		if d.Key == key && (d.TenantID == tenantID || d.TenantID == uuid.Nil) {
			return d, true, nil
		}
	}
	return permission.Definition{}, false, nil
}

// CreateRoleFromTemplate creates a tenant role from a seed template. The
// role is named name, or after the template when name is empty. Template
// parents are looked up by name among the tenant's roles.
func (m *Manager) CreateRoleFromTemplate(ctx context.Context, tenantID, actorID uuid.UUID, tmpl SeedRole, name string) (Role, Result, error) {
	if strings.TrimSpace(name) == "" {
		name = tmpl.Name
	}
	name, err := normalizeRoleName(name)
	if err != nil {
		return Role{}, Result{}, err
	}
	keys, err := normalizeKeys(tmpl.Permissions)
	if err != nil {
		return Role{}, Result{}, err
	}
	desc := tmpl.Description
	if desc == "" {
		desc = "Created from template: " + tmpl.Name
	}

	now := m.now().UTC()
	role := Role{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Name:        name,
		Description: desc,
		Permissions: keys,
		Priority:    tmpl.Priority,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = m.store.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		parents := make([]uuid.UUID, 0, len(tmpl.Inherits))
		for _, p := range tmpl.Inherits {
			parent, err := tx.GetRoleByName(ctx, tenantID, p)
			if err != nil {
				return fmt.Errorf("template %q parent %q: %w", tmpl.Name, p, err)
			}
			parents = append(parents, parent.ID)
		}
		return m.createRole(ctx, tx, actorID, &role, parents, tmpl.Name)
	})
	if err != nil {
		return Role{}, Result{}, m.txErr(ctx, tenantID, err)
	}
	return role, Result{Changed: true}, nil
}
