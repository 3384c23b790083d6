package isolation

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrTenantIsolationViolation = errors.New("isolation: tenant isolation violation")
	ErrMissingTenant            = errors.New("isolation: tenant id is required")
)

// ViolationError describes a row or scope that crossed a tenant boundary.
type ViolationError struct {
	Expected uuid.UUID
	Actual   uuid.UUID
	Entity   string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("isolation: %s belongs to tenant %s, expected %s", e.Entity, e.Actual, e.Expected)
}

func (e *ViolationError) Unwrap() error {
	return ErrTenantIsolationViolation
}

// IsFatal reports whether err carries an isolation violation. Such errors
// must abort the request.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTenantIsolationViolation)
}
