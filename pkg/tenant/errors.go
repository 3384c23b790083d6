package tenant

import "errors"

var (
	ErrTenantNotFound     = errors.New("tenant: not found")
	ErrTenantSuspended    = errors.New("tenant: suspended")
	ErrTenantNotActive    = errors.New("tenant: not active")
	ErrInvalidIdentifier  = errors.New("tenant: invalid identifier")
	ErrInvalidTransition  = errors.New("tenant: invalid status transition")
	ErrOrgIDTaken         = errors.New("tenant: org id already taken")
	ErrNoTenantInContext  = errors.New("tenant: no tenant in context")
	ErrStorageUnavailable = errors.New("tenant: storage unavailable")

	ErrInvalidProviderConfig = errors.New("tenant: invalid provider config")
	ErrUnknownProviderType   = errors.New("tenant: unknown provider type")
)
