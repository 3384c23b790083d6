package audit

import (
	"context"

	"github.com/google/uuid"
)

// Storage appends events. Implementations seal each event into its tenant's
// hash chain and must store all events or none.
type Storage interface {
	Store(ctx context.Context, events ...Event) error
}

// Reader queries stored events of one tenant, oldest first.
type Reader interface {
	Find(ctx context.Context, tenantID uuid.UUID, filter Filter) ([]Event, error)
}
