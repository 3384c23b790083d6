package credential

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// KeyStore is what the Resolver needs.
type KeyStore interface {
	// GetAPIKeyByHash is the bootstrap lookup that discovers the tenant,
	// so it is the one read not scoped by tenant. Returns ErrKeyNotFound.
	GetAPIKeyByHash(ctx context.Context, hash string) (APIKey, error)
	TouchLastUsed(ctx context.Context, tenantID, keyID uuid.UUID, at time.Time) error
}

// KeyManager adds the tenant-scoped administration writes.
type KeyManager interface {
	KeyStore
	CreateAPIKey(ctx context.Context, tenantID uuid.UUID, key APIKey) error
	RevokeAPIKey(ctx context.Context, tenantID, keyID uuid.UUID) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]APIKey, error)
}
