package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Result is the outcome recorded with an event.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Actions recorded by the authorization core.
const (
	ActionRoleCreated       = "role.created"
	ActionRoleUpdated       = "role.updated"
	ActionRoleDeleted       = "role.deleted"
	ActionRoleAssigned      = "role.assigned"
	ActionRoleRevoked       = "role.revoked"
	ActionRoleExpired       = "role.expired"
	ActionPermissionGranted = "permission.granted"
	ActionPermissionRevoked = "permission.revoked"
	ActionAccessDenied      = "access_denied"
	ActionCredentialIssued  = "credential.issued"
	ActionCredentialRevoked = "credential.revoked"
	ActionTenantStatus      = "tenant.status_changed"
	ActionPermissionDefined = "permission.defined"
	ActionPermissionRemoved = "permission.removed"
)

// Entity types.
const (
	EntityRole       = "role"
	EntityAssignment = "assignment"
	EntityPermission = "permission"
	EntityPrincipal  = "principal"
	EntityCredential = "credential"
	EntityTenant     = "tenant"
)

// Event is a single append-only audit record. TenantID is uuid.Nil for
// platform-level events such as a credential that matched no tenant.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	ActorID    uuid.UUID      `json:"actor_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Details    map[string]any `json:"details,omitempty"`
	Result     Result         `json:"result"`
	RequestID  string         `json:"request_id,omitempty"`
	IP         string         `json:"ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	PrevHash   string         `json:"prev_hash,omitempty"`
	Hash       string         `json:"hash,omitempty"`
}

func (e Event) ScopeTenantID() uuid.UUID { return e.TenantID }

// Validate checks the fields every event must carry.
func (e Event) Validate() error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.EntityType) == "" {
		return fmt.Errorf("%w: entity type is required", ErrInvalidEvent)
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrInvalidEvent)
	}
	switch e.Result {
	case ResultSuccess, ResultFailure:
	default:
		return fmt.Errorf("%w: unknown result %q", ErrInvalidEvent, e.Result)
	}
	return nil
}

// Change describes a mutation to record. It is the input of Logger.Build
// and Logger.Record.
type Change struct {
	TenantID   uuid.UUID
	ActorID    uuid.UUID
	Action     string
	EntityType string
	EntityID   string
	Details    map[string]any
	Result     Result
}

// Filter narrows Reader queries. Zero values match everything.
type Filter struct {
	Actions    []string
	EntityType string
	EntityID   string
	ActorID    uuid.UUID
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// Match reports whether e satisfies the filter, ignoring Limit and Offset.
func (f Filter) Match(e Event) bool {
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.EntityType != "" && f.EntityType != e.EntityType {
		return false
	}
	if f.EntityID != "" && f.EntityID != e.EntityID {
		return false
	}
	if f.ActorID != uuid.Nil && f.ActorID != e.ActorID {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}
