package tenant

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// Status is the tenant lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended:
		return true
	}
	return false
}

// transitions lists the allowed lifecycle moves.
var transitions = map[Status][]Status{
	StatusPending:   {StatusActive},
	StatusActive:    {StatusSuspended},
	StatusSuspended: {StatusActive},
}

// CanTransition reports whether a tenant may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Tenant is an isolated customer organization.
type Tenant struct {
	ID        uuid.UUID      `json:"id"`
	OrgID     string         `json:"org_id"`
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Provider  ProviderConfig `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (t *Tenant) ScopeTenantID() uuid.UUID { return t.ID }

// IsActive reports whether the tenant may take part in authorization.
func (t *Tenant) IsActive() bool { return t.Status == StatusActive }

// Transition moves the tenant to status to if the lifecycle allows it.
func (t *Tenant) Transition(to Status) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	return nil
}

// Provider loads and persists tenants.
type Provider interface {
	// GetByID returns ErrTenantNotFound if no tenant has the id.
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	// GetByOrgID looks a tenant up by its normalized slug.
	GetByOrgID(ctx context.Context, orgID string) (*Tenant, error)
	// Create stores a new tenant. Returns ErrOrgIDTaken on slug conflicts.
	Create(ctx context.Context, t *Tenant) error
	// UpdateStatus persists a lifecycle change.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
}

var (
	folder       = cases.Fold()
	orgIDPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{1,61}[a-z0-9])$`)
)

// NormalizeOrgID case-folds and validates an organization slug.
func NormalizeOrgID(orgID string) (string, error) {
	orgID = folder.String(strings.TrimSpace(orgID))
	if !orgIDPattern.MatchString(orgID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, orgID)
	}
	return orgID, nil
}
