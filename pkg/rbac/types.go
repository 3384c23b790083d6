package rbac

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/permission"
)

// MaxInheritanceDepth limits how many parent levels a role may have.
const MaxInheritanceDepth = 10

// MaxBulkAssignments caps the user-role pairs of one BulkAssign call.
const MaxBulkAssignments = 1000

type PrincipalStatus string

const (
	PrincipalActive   PrincipalStatus = "active"
	PrincipalDisabled PrincipalStatus = "disabled"
)

// Principal is a user or service account owned by exactly one tenant.
type Principal struct {
	ID                uuid.UUID       `json:"id"`
	TenantID          uuid.UUID       `json:"tenant_id"`
	Status            PrincipalStatus `json:"status"`
	DirectPermissions []string        `json:"direct_permissions,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (p Principal) ScopeTenantID() uuid.UUID { return p.TenantID }

// IsActive reports whether the principal may be granted anything.
func (p Principal) IsActive() bool { return p.Status == PrincipalActive }

// Role is a named bundle of permission keys within a tenant.
type Role struct {
	ID          uuid.UUID   `json:"id"`
	TenantID    uuid.UUID   `json:"tenant_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Permissions []string    `json:"permissions"`
	Inherits    []uuid.UUID `json:"inherits,omitempty"`
	IsSystem    bool        `json:"is_system"`
	Priority    int         `json:"priority"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (r Role) ScopeTenantID() uuid.UUID { return r.TenantID }

// Clone returns a copy that shares no slices with r.
func (r Role) Clone() Role {
	r.Permissions = slices.Clone(r.Permissions)
	r.Inherits = slices.Clone(r.Inherits)
	return r
}

// Assignment binds a principal to a role. A nil ExpiresAt never expires.
type Assignment struct {
	TenantID   uuid.UUID  `json:"tenant_id"`
	UserID     uuid.UUID  `json:"user_id"`
	RoleID     uuid.UUID  `json:"role_id"`
	AssignedAt time.Time  `json:"assigned_at"`
	AssignedBy uuid.UUID  `json:"assigned_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func (a Assignment) ScopeTenantID() uuid.UUID { return a.TenantID }

// ActiveAt reports whether the assignment is in effect at t.
func (a Assignment) ActiveAt(t time.Time) bool {
	return a.ExpiresAt == nil || t.Before(*a.ExpiresAt)
}

// Check is one (resource, action) pair of a batch evaluation.
type Check struct {
	Resource string
	Action   string
}

// Key returns the permission key of the check.
func (c Check) Key() string { return permission.Key(c.Resource, c.Action) }

// Result reports what a mutation changed. Affected lists the principals
// whose effective permissions may differ afterwards.
type Result struct {
	Changed  bool
	Affected []uuid.UUID
}
