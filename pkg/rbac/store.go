package rbac

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/audit"
	"github.com/dmitrymomot/authzkit/pkg/permission"
)

// Reader is the tenant-scoped read side of the RBAC store. Every method
// takes the tenant id first and never returns rows of another tenant.
// Lookups of missing rows return ErrPrincipalNotFound or ErrRoleNotFound.
type Reader interface {
	GetPrincipal(ctx context.Context, tenantID, principalID uuid.UUID) (Principal, error)
	GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error)
	GetRoleByName(ctx context.Context, tenantID uuid.UUID, name string) (Role, error)
	ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error)
	// RolesByIDs returns the roles that exist among ids, in any order.
	RolesByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Role, error)
	// ActiveAssignments returns the principal's assignments in effect at now.
	ActiveAssignments(ctx context.Context, tenantID, principalID uuid.UUID, now time.Time) ([]Assignment, error)
	ListAssignmentsByRoles(ctx context.Context, tenantID uuid.UUID, roleIDs []uuid.UUID) ([]Assignment, error)
	// ListPermissions returns the tenant catalog plus system permissions.
	ListPermissions(ctx context.Context, tenantID uuid.UUID) ([]permission.Definition, error)
}

// Tx is a write transaction bound to one tenant. Reads through a Tx see its
// own writes. Nothing is visible to other readers until the transaction
// commits, and a failed AppendAudit rolls the whole transaction back.
type Tx interface {
	Reader

	// LockRole reads a role and holds it against concurrent writers until
	// the transaction ends.
	LockRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error)
	SavePrincipal(ctx context.Context, tenantID uuid.UUID, p Principal) error
	SetDirectPermissions(ctx context.Context, tenantID, principalID uuid.UUID, keys []string) error
	// CreateRole fails with ErrRoleExists when the name is taken.
	CreateRole(ctx context.Context, tenantID uuid.UUID, r Role) error
	// UpdateRole writes r if the stored version still equals r.Version and
	// returns the role with its version incremented. Otherwise it fails
	// with ErrVersionConflict.
	UpdateRole(ctx context.Context, tenantID uuid.UUID, r Role) (Role, error)
	DeleteRole(ctx context.Context, tenantID, roleID uuid.UUID) error
	// RemoveInheritance drops roleID from every role's Inherits and returns
	// the ids of the roles that changed.
	RemoveInheritance(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error)
	// AddAssignment inserts a unique (user, role) row. It reports false
	// without error if the row already exists.
	AddAssignment(ctx context.Context, tenantID uuid.UUID, a Assignment) (bool, error)
	RemoveAssignment(ctx context.Context, tenantID, userID, roleID uuid.UUID) (bool, error)
	DeleteAssignmentsByRole(ctx context.Context, tenantID, roleID uuid.UUID) ([]Assignment, error)
	// DeleteExpiredAssignments removes and returns assignments expired at now.
	DeleteExpiredAssignments(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]Assignment, error)
	UpsertPermission(ctx context.Context, tenantID uuid.UUID, d permission.Definition) error
	// RemovePermission deletes a tenant catalog entry. It reports false
	// without error if the tenant has no such entry.
	RemovePermission(ctx context.Context, tenantID uuid.UUID, key string) (bool, error)
	// PrincipalsWithPermission lists principals holding key as a direct grant.
	PrincipalsWithPermission(ctx context.Context, tenantID uuid.UUID, key string) ([]uuid.UUID, error)
	// AppendAudit seals e into the tenant's audit chain.
	AppendAudit(ctx context.Context, tenantID uuid.UUID, e audit.Event) error
}

// Store opens tenant-bound transactions on top of Reader.
type Store interface {
	Reader

	// WithTx runs fn in a transaction serialized against other writers of
	// the same tenant. The transaction commits when fn returns nil.
	WithTx(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error

	// TenantsWithExpiredAssignments lists tenants that have assignments
	// expired at now. It returns ids only and feeds the expiry sweep.
	TenantsWithExpiredAssignments(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}
