package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/audit"
	"github.com/dmitrymomot/authzkit/pkg/isolation"
	"github.com/dmitrymomot/authzkit/pkg/logger"
	"github.com/dmitrymomot/authzkit/pkg/permission"
)

// RoleInput describes a new role.
type RoleInput struct {
	Name        string
	Description string
	Permissions []string
	Inherits    []uuid.UUID
	Priority    int
	IsSystem    bool
}

// RoleUpdate changes the non-nil fields of a role. ExpectedVersion, when
// not zero, must match the stored version.
type RoleUpdate struct {
	Name            *string
	Description     *string
	Priority        *int
	Permissions     *[]string
	Inherits        *[]uuid.UUID
	ExpectedVersion int64
}

// DeleteOptions controls DeleteRole. Without Cascade a role that is still
// assigned cannot be deleted.
type DeleteOptions struct {
	Cascade bool
}

// AssignOptions controls AssignRole. A nil ExpiresAt never expires.
type AssignOptions struct {
	ExpiresAt *time.Time
}

// Manager applies RBAC mutations. Each mutation that changes data writes
// exactly one audit event in the same transaction. Cache invalidation and
// change notification are left to the caller, using Result.Affected.
type Manager struct {
	store  Store
	audit  *audit.Logger
	now    func() time.Time
	logger *slog.Logger
}

type ManagerOption func(*Manager)

// WithAuditLogger sets the logger used to build audit events. Its storage
// is not used; events are appended through the transaction.
func WithAuditLogger(l *audit.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.audit = l
		}
	}
}

// WithManagerClock overrides time.Now.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager applies mutations to store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	if store == nil {
		panic("rbac: store cannot be nil")
	}
	m := &Manager{
		store:  store,
		audit:  audit.NewLogger(nil),
		now:    time.Now,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logger.Component("rbac.manager"))
	return m
}

// SavePrincipal creates or replaces a principal. It is not audited.
func (m *Manager) SavePrincipal(ctx context.Context, tenantID uuid.UUID, p Principal) (Principal, Result, error) {
	if p.ID == uuid.Nil {
		return Principal{}, Result{}, fmt.Errorf("%w: principal id is required", ErrInvalidInput)
	}
	switch p.Status {
	case "":
		p.Status = PrincipalActive
	case PrincipalActive, PrincipalDisabled:
	default:
		return Principal{}, Result{}, fmt.Errorf("%w: unknown principal status %q", ErrInvalidInput, p.Status)
	}
	keys, err := normalizeKeys(p.DirectPermissions)
	if err != nil {
		return Principal{}, Result{}, err
	}

	p.TenantID = tenantID
	p.DirectPermissions = keys
	now := m.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	err = m.store.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		if err := checkCatalog(ctx, tx, tenantID, keys); err != nil {
			return err
		}
		return tx.SavePrincipal(ctx, tenantID, p)
	})
	if err != nil {
		return Principal{}, Result{}, m.txErr(ctx, tenantID, err)
	}
	return p, Result{Changed: true, Affected: []uuid.UUID{p.ID}}, nil
}

// CreateRole adds a role. Its permissions must be in the tenant catalog and
// its parents must exist without forming a cycle.
func (m *Manager) CreateRole(ctx context.Context, tenantID, actorID uuid.UUID, in RoleInput) (Role, Result, error) {
	name, err := normalizeRoleName(in.Name)
	if err != nil {
		return Role{}, Result{}, err
	}
	keys, err := normalizeKeys(in.Permissions)
	if err != nil {
		return Role{}, Result{}, err
	}

	now := m.now().UTC()
	role := Role{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Name:        name,
		Description: in.Description,
		Permissions: keys,
		IsSystem:    in.IsSystem,
		Priority:    in.Priority,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = m.store.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		return m.createRole(ctx, tx, actorID, &role, in.Inherits, "")
	})
	if err != nil {
		return Role{}, Result{}, m.txErr(ctx, tenantID, err)
	}
	return role, Result{Changed: true}, nil
}

// createRole validates and inserts role. A non-empty template is recorded
// in the role.created event.
func (m *Manager) createRole(ctx context.Context, tx Tx, actorID uuid.UUID, role *Role, inherits []uuid.UUID, template string) error {
	if err := checkCatalog(ctx, tx, role.TenantID, role.Permissions); err != nil {
		return err
	}
	parents, err := checkInheritance(ctx, tx, role.TenantID, role.ID, inherits)
	if err != nil {
		return err
	}
	role.Inherits = parents

	if err := tx.CreateRole(ctx, role.TenantID, *role); err != nil {
		return err
	}
	details := map[string]any{
		"name":        role.Name,
		"permissions": role.Permissions,
		"inherits":    idStrings(role.Inherits),
		"priority":    role.Priority,
		"system":      role.IsSystem,
	}
	if template != "" {
		details["template"] = template
	}
	return m.record(ctx, tx, audit.Change{
		TenantID:   role.TenantID,
		ActorID:    actorID,
		Action:     audit.ActionRoleCreated,
		EntityType: audit.EntityRole,
		EntityID:   role.ID.String(),
		Details:    details,
	})
}

// UpdateRole applies u and bumps the version. An update that changes no
// field writes nothing and returns the stored role with an empty Result.
func (m *Manager) UpdateRole(ctx context.Context, tenantID, actorID, roleID uuid.UUID, u RoleUpdate) (Role, Result, error) {
	var (
		updated  Role
		affected []uuid.UUID
		changed  bool
	)

	err := m.store.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		cur, err := tx.LockRole(ctx, tenantID, roleID)
		if err != nil {
			return err
		}
		if u.ExpectedVersion != 0 && u.ExpectedVersion != cur.Version {
			return fmt.Errorf("%w: expected version %d, have %d", ErrVersionConflict, u.ExpectedVersion, cur.Version)
		}

		next := cur.Clone()
		changes := map[string]any{}

		if u.Name != nil {
			name, err := normalizeRoleName(*u.Name)
			if err != nil {
				return err
			}
			if name != cur.Name {
				if cur.IsSystem {
					return fmt.Errorf("%w: cannot rename %q", ErrSystemRole, cur.Name)
				}
				next.Name = name
				changes["name"] = map[string]any{"from": cur.Name, "to": name}
			}
		}
		if u.Description != nil && *u.Description != cur.Description {
			next.Description = *u.Description
			changes["description"] = *u.Description
		}
		if u.Priority != nil && *u.Priority != cur.Priority {
			next.Priority = *u.Priority
			changes["priority"] = map[string]any{"from": cur.Priority, "to": *u.Priority}
		}
		if u.Permissions != nil {
			keys, err := normalizeKeys(*u.Permissions)
			if err != nil {
				return err
			}
			if err := checkCatalog(ctx, tx, tenantID, keys); err != nil {
				return err
			}
			if !slices.Equal(keys, cur.Permissions) {
				next.Permissions = keys
				changes["permissions"] = map[string]any{"from": cur.Permissions, "to": keys}
			}
		}
		if u.Inherits != nil {
			parents, err := checkInheritance(ctx, tx, tenantID, roleID, *u.Inherits)
			if err != nil {
				return err
			}
			if !slices.Equal(parents, cur.Inherits) {
				next.Inherits = parents
				changes["inherits"] = map[string]any{"from": idStrings(cur.Inherits), "to": idStrings(parents)}
			}
		}
		if len(changes) == 0 {
			updated = cur
			return nil
		}

		next.UpdatedAt = m.now().UTC()
		if updated, err = tx.UpdateRole(ctx, tenantID, next); err != nil {
			return err
		}
		if affected, err = holders(ctx, tx, tenantID, roleID); err != nil {
			return err
		}
		changes["version"] = updated.Version
		changed = true

		return m.record(ctx, tx, audit.Change{
			TenantID:   tenantID,
			ActorID:    actorID,
			Action:     audit.ActionRoleUpdated,
			EntityType: audit.EntityRole,
			EntityID:   roleID.String(),
			Details:    changes,
		})
	})
	if err != nil {
		return Role{}, Result{}, m.txErr(ctx, tenantID, err)
	}
	if !changed {
		return updated, Result{}, nil
	}
	return updated, Result{Changed: true, Affected: affected}, nil
}

// DeleteRole removes a role. System roles are never deleted. With Cascade
// the role's assignments are removed in the same transaction and listed in
// the single role.deleted event. Roles inheriting from the deleted role
// lose that parent either way.
func (m *Manager) DeleteRole(ctx context.Context, tenantID, actorID, roleID uuid.UUID, opts DeleteOptions) (Result, error) {
	var affected []uuid.UUID

	err := m.store.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		cur, err := tx.LockRole(ctx, tenantID, roleID)
		if err != nil {
			return err
		}
		if cur.IsSystem {
			return fmt.Errorf("%w: cannot delete %q", ErrSystemRole, cur.Name)
		}

		direct, err := tx.ListAssignmentsByRoles(ctx, tenantID, []uuid.UUID{roleID})
		if err != nil {
			return err
		}
		if len(direct) > 0 && !opts.Cascade {
			return fmt.Errorf("%w: %d assignments", ErrRoleInUse, len(direct))
		}

		if affected, err = holders(ctx, tx, tenantID, roleID); err != nil {
			return err
		}

		var removed []Assignment
		if opts.Cascade {
			if removed, err = tx.DeleteAssignmentsByRole(ctx, tenantID, roleID); err != nil {
				return err
			}
		}
		detached, err := tx.RemoveInheritance(ctx, tenantID, roleID)
		if err != nil {
			return err
		}
		if err := tx.DeleteRole(ctx, tenantID, roleID); err != nil {
			return err
		}

		return m.record(ctx, tx, audit.Change{
			TenantID:   tenantID,
			ActorID:    actorID,
			Action:     audit.ActionRoleDeleted,
			EntityType: audit.EntityRole,
			EntityID:   roleID.String(),
			Details: map[string]any{
				"name":                cur.Name,
				"cascade":             opts.Cascade,
				"removed_assignments": idStrings(uniqueUsers(removed)),
				"detached_from":       idStrings(detached),
			},
		})
	})
	if err != nil {
		return Result{}, m.txErr(ctx, tenantID, err)
	}
	return Result{Changed: true, Affected: affected}, nil
}

// AssignRole is idempotent: assigning an existing (user, role) pair
// succeeds without writing anything.
func (m *Manager) AssignRole(ctx context.Context, tenantID, actorID, userID, roleID uuid.UUID, opts AssignOptions) (Assignment, Result, error) {
	now := m.now().UTC()
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
		return Assignment{}, Result{}, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}

	a := Assignment{
		TenantID:   tenantID,
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: now,
		AssignedBy: actorID,
		ExpiresAt:  opts.ExpiresAt,
	}
	var created bool

	err := m.store.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetPrincipal(ctx, tenantID, userID); err != nil {
			return err
		}
		role, err := tx.GetRole(ctx, tenantID, roleID)
		if err != nil {
			return err
		}
		created, err = m.assign(ctx, tx, actorID, role, a)
		return err
	})
	if err != nil {
		return Assignment{}, Result{}, m.txErr(ctx, tenantID, err)
	}
	if !created {
		return a, Result{}, nil
	}
	return a, Result{Changed: true, Affected: []uuid.UUID{userID}}, nil
}

// BulkAssign gives every user every role in one transaction. Pairs that
// already exist are skipped; each new pair writes its own role.assigned
// event. A missing user or role fails the whole batch. It returns the
// assignments it created.
func (m *Manager) BulkAssign(ctx context.Context, tenantID, actorID uuid.UUID, userIDs, roleIDs []uuid.UUID, opts AssignOptions) ([]Assignment, Result, error) {
	userIDs, roleIDs = uniqueIDs(userIDs), uniqueIDs(roleIDs)
	if len(userIDs) == 0 || len(roleIDs) == 0 {
		return nil, Result{}, fmt.Errorf("%w: at least one user and one role are required", ErrInvalidInput)
	}
	if n := len(userIDs) * len(roleIDs); n > MaxBulkAssignments {
		return nil, Result{}, fmt.Errorf("%w: %d assignments exceed the batch limit of %d", ErrInvalidInput, n, MaxBulkAssignments)
	}
	now := m.now().UTC()
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
		return nil, Result{}, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}

	var created []Assignment
	err := m.store.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		created = created[:0]
		for _, userID := range userIDs {
			if _, err := tx.GetPrincipal(ctx, tenantID, userID); err != nil {
				return fmt.Errorf("user %s: %w", userID, err)
			}
		}
		roles, err := tx.RolesByIDs(ctx, tenantID, roleIDs)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]Role, len(roles))
		for _, r := range roles {
			byID[r.ID] = r
		}

		for _, roleID := range roleIDs {
			role, ok := byID[roleID]
			if !ok {
				return fmt.Errorf("role %s: %w", roleID, ErrRoleNotFound)
			}
			for _, userID := range userIDs {
				a := Assignment{
					TenantID:   tenantID,
					UserID:     userID,
					RoleID:     roleID,
					AssignedAt: now,
					AssignedBy: actorID,
					ExpiresAt:  opts.ExpiresAt,
				}
				ok, err := m.assign(ctx, tx, actorID, role, a)
				if err != nil {
					return err
				}
				if ok {
					created = append(created, a)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, Result{}, m.txErr(ctx, tenantID, err)
	}
	if len(created) == 0 {
		return nil, Result{}, nil
	}
	return created, Result{Changed: true, Affected: uniqueUsers(created)}, nil
}

// assign inserts a and records it. It reports false when the pair exists.
func (m *Manager) assign(ctx context.Context, tx Tx, actorID uuid.UUID, role Role, a Assignment) (bool, error) {
	created, err := tx.AddAssignment(ctx, a.TenantID, a)
	if err != nil || !created {
		return false, err
	}

	details := map[string]any{
		"user_id": a.UserID.String(),
		"role_id": a.RoleID.String(),
		"role":    role.Name,
	}
	if a.ExpiresAt != nil {
		details["expires_at"] = a.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return true, m.record(ctx, tx, audit.Change{
		TenantID:   a.TenantID,
		ActorID:    actorID,
		Action:     audit.ActionRoleAssigned,
		EntityType: audit.EntityAssignment,
		EntityID:   a.RoleID.String(),
		Details:    details,
	})
}

// RevokeRole removes an assignment. Revoking a missing assignment succeeds
// without writing anything.
func (m *Manager) RevokeRole(ctx context.Context, tenantID, actorID, userID, roleID uuid.UUID) (Result, error) {
	var removed bool

	err := m.store.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		var err error
		if removed, err = tx.RemoveAssignment(ctx, tenantID, userID, roleID); err != nil || !removed {
			return err
		}
		return m.record(ctx, tx, audit.Change{
			TenantID:   tenantID,
			ActorID:    actorID,
			Action:     audit.ActionRoleRevoked,
			EntityType: audit.EntityAssignment,
			EntityID:   roleID.String(),
			Details: map[string]any{
				"user_id": userID.String(),
				"role_id": roleID.String(),
			},
		})
	})
	if err != nil {
		return Result{}, m.txErr(ctx, tenantID, err)
	}
	if !removed {
		return Result{}, nil
	}
	return Result{Changed: true, Affected: []uuid.UUID{userID}}, nil
}

// GrantPermission adds key to a role. Granting a key the role already has
// is a no-op.
func (m *Manager) GrantPermission(ctx context.Context, tenantID, actorID, roleID uuid.UUID, key string) (Result, error) {
	return m.changeRolePermission(ctx, tenantID, actorID, roleID, key, true)
}

// RevokePermission removes key from a role. Revoking a key the role does
// not have is a no-op.
func (m *Manager) RevokePermission(ctx context.Context, tenantID, actorID, roleID uuid.UUID, key string) (Result, error) {
	return m.changeRolePermission(ctx, tenantID, actorID, roleID, key, false)
}

func (m *Manager) changeRolePermission(ctx context.Context, tenantID, actorID, roleID uuid.UUID, key string, grant bool) (Result, error) {
	key, err := permission.Normalize(key)
	if err != nil {
		return Result{}, errors.Join(ErrInvalidInput, err)
	}

	var (
		changed  bool
		affected []uuid.UUID
	)
	err = m.store.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		cur, err := tx.LockRole(ctx, tenantID, roleID)
		if err != nil {
			return err
		}

		has := slices.Contains(cur.Permissions, key)
		if has == grant {
			return nil
		}

		next := cur.Clone()
		action := audit.ActionPermissionGranted
		if grant {
			if err := checkCatalog(ctx, tx, tenantID, []string{key}); err != nil {
				return err
			}
			next.Permissions = append(next.Permissions, key)
			slices.Sort(next.Permissions)
		} else {
			action = audit.ActionPermissionRevoked
			next.Permissions = slices.DeleteFunc(next.Permissions, func(k string) bool { return k == key })
		}
		next.UpdatedAt = m.now().UTC()

		updated, err := tx.UpdateRole(ctx, tenantID, next)
		if err != nil {
			return err
		}
		if affected, err = holders(ctx, tx, tenantID, roleID); err != nil {
			return err
		}
		changed = true

		return m.record(ctx, tx, audit.Change{
			TenantID:   tenantID,
			ActorID:    actorID,
			Action:     action,
			EntityType: audit.EntityPermission,
			EntityID:   key,
			Details: map[string]any{
				"role_id": roleID.String(),
				"role":    cur.Name,
				"version": updated.Version,
			},
		})
	})
	if err != nil {
		return Result{}, m.txErr(ctx, tenantID, err)
	}
	return Result{Changed: changed, Affected: affected}, nil
}

// GrantDirect adds key to the principal's direct permissions.
func (m *Manager) GrantDirect(ctx context.Context, tenantID, actorID, principalID uuid.UUID, key string) (Result, error) {
	return m.changeDirect(ctx, tenantID, actorID, principalID, key, true)
}

// RevokeDirect removes key from the principal's direct permissions.
func (m *Manager) RevokeDirect(ctx context.Context, tenantID, actorID, principalID uuid.UUID, key string) (Result, error) {
	return m.changeDirect(ctx, tenantID, actorID, principalID, key, false)
}

func (m *Manager) changeDirect(ctx context.Context, tenantID, actorID, principalID uuid.UUID, key string, grant bool) (Result, error) {
	key, err := permission.Normalize(key)
	if err != nil {
		return Result{}, errors.Join(ErrInvalidInput, err)
	}

	var changed bool
	err = m.store.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		p, err := tx.GetPrincipal(ctx, tenantID, principalID)
		if err != nil {
			return err
		}

		has := slices.Contains(p.DirectPermissions, key)
		if has == grant {
			return nil
		}

		keys := slices.Clone(p.DirectPermissions)
		action := audit.ActionPermissionGranted
		if grant {
			if err := checkCatalog(ctx, tx, tenantID, []string{key}); err != nil {
				return err
			}
			keys = append(keys, key)
			slices.Sort(keys)
		} else {
			action = audit.ActionPermissionRevoked
			keys = slices.DeleteFunc(keys, func(k string) bool { return k == key })
		}

		if err := tx.SetDirectPermissions(ctx, tenantID, principalID, keys); err != nil {
			return err
		}
		changed = true

		return m.record(ctx, tx, audit.Change{
			TenantID:   tenantID,
			ActorID:    actorID,
			Action:     action,
			EntityType: audit.EntityPermission,
			EntityID:   key,
			Details: map[string]any{
				"principal_id": principalID.String(),
				"direct":       true,
			},
		})
	})
	if err != nil {
		return Result{}, m.txErr(ctx, tenantID, err)
	}
	if !changed {
		return Result{}, nil
	}
	return Result{Changed: true, Affected: []uuid.UUID{principalID}}, nil
}

// SweepExpired deletes assignments of tenantID that expired by now and
// writes one role.expired event for each.
func (m *Manager) SweepExpired(ctx context.Context, tenantID uuid.UUID) (Result, error) {
	now := m.now().UTC()
	var removed []Assignment

	err := m.store.WithTx(ctx, tenantID, func(ctx context.Context, tx Tx) error {
		var err error
		if removed, err = tx.DeleteExpiredAssignments(ctx, tenantID, now); err != nil {
			return err
		}
		for _, a := range removed {
			if err := m.record(ctx, tx, audit.Change{
				TenantID:   tenantID,
				Action:     audit.ActionRoleExpired,
				EntityType: audit.EntityAssignment,
				EntityID:   a.RoleID.String(),
				Details: map[string]any{
					"user_id":    a.UserID.String(),
					"role_id":    a.RoleID.String(),
					"expires_at": a.ExpiresAt.UTC().Format(time.RFC3339),
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, m.txErr(ctx, tenantID, err)
	}
	if len(removed) == 0 {
		return Result{}, nil
	}
	return Result{Changed: true, Affected: uniqueUsers(removed)}, nil
}

// ExpiredTenants lists tenants that SweepExpired has work for.
func (m *Manager) ExpiredTenants(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := m.store.TenantsWithExpiredAssignments(ctx, m.now().UTC())
	if err != nil {
		return nil, errors.Join(ErrStorageUnavailable, err)
	}
	return ids, nil
}

func (m *Manager) record(ctx context.Context, tx Tx, c audit.Change) error {
	event := m.audit.Build(ctx, c)
	return tx.AppendAudit(ctx, c.TenantID, event)
}

var domainErrors = []error{
	ErrInvalidInput,
	ErrPrincipalNotFound,
	ErrRoleNotFound,
	ErrRoleExists,
	ErrRoleInUse,
	ErrSystemRole,
	ErrVersionConflict,
	ErrCircularInheritance,
	ErrInheritanceTooDeep,
	ErrInvalidSeed,
	ErrTemplateNotFound,
	ErrPermissionInUse,
	ErrSystemPermission,
	audit.ErrInvalidEvent,
	isolation.ErrMissingTenant,
}

// txErr passes domain errors through and turns anything else into
// ErrStorageUnavailable.
func (m *Manager) txErr(ctx context.Context, tenantID uuid.UUID, err error) error {
	if isolation.IsFatal(err) {
		logger.Fatal(ctx, m.logger, "tenant isolation violation", logger.TenantID(tenantID), logger.Error(err))
		return err
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	m.logger.ErrorContext(ctx, "rbac mutation failed",
		logger.TenantID(tenantID),
		logger.Reason("storage_unavailable"),
		logger.Error(err),
	)
	return errors.Join(ErrStorageUnavailable, err)
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
