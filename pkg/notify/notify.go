package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Change scopes.
const (
	// ScopeRBAC marks changes to roles, assignments or permissions.
	ScopeRBAC = "rbac"
	// ScopeTenant marks a tenant status change. Listeners drop the cached
	// tenant and every cached union of it.
	ScopeTenant = "tenant"
)

// ChangeEvent tells listeners which principals of a tenant need their
// cached permissions invalidated. An empty AffectedPrincipalIDs means the
// whole tenant.
type ChangeEvent struct {
	TenantID             uuid.UUID   `json:"tenant_id"`
	Scope                string      `json:"scope"`
	AffectedPrincipalIDs []uuid.UUID `json:"affected_principal_ids"`
	Origin               string      `json:"origin,omitempty"`
	OccurredAt           time.Time   `json:"occurred_at"`
}

// Notifier publishes change events.
type Notifier interface {
	Notify(ctx context.Context, event ChangeEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event ChangeEvent) error

func (f NotifierFunc) Notify(ctx context.Context, event ChangeEvent) error {
	return f(ctx, event)
}

// Nop discards every event.
var Nop Notifier = NotifierFunc(func(context.Context, ChangeEvent) error { return nil })

// Fanout delivers to every notifier and joins their errors.
func Fanout(notifiers ...Notifier) Notifier {
	return NotifierFunc(func(ctx context.Context, event ChangeEvent) error {
		var errs []error
		for _, n := range notifiers {
			if err := n.Notify(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
