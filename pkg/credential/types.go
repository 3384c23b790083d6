package credential

import (
	"time"

	"github.com/google/uuid"
)

// Kind tells how an identity was authenticated.
type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindBearer Kind = "bearer"
)

// Scope restricts what a credential may be used for.
type Scope string

const (
	ScopeAuth          Scope = "auth"
	ScopeRBAC          Scope = "rbac"
	ScopeLogging       Scope = "logging"
	ScopeNotifications Scope = "notifications"
)

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(s); sc {
	case ScopeAuth, ScopeRBAC, ScopeLogging, ScopeNotifications:
		return sc, nil
	}
	return "", ErrInvalidScope
}

type KeyStatus string

const (
	KeyActive  KeyStatus = "active"
	KeyRevoked KeyStatus = "revoked"
)

// APIKey is the stored form of an API key. The raw key is never kept.
type APIKey struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	PrincipalID uuid.UUID  `json:"principal_id"`
	Name        string     `json:"name"`
	Prefix      string     `json:"prefix"`
	KeyHash     string     `json:"-"`
	Scope       Scope      `json:"scope"`
	Status      KeyStatus  `json:"status"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

func (k APIKey) ScopeTenantID() uuid.UUID { return k.TenantID }

// ExpiredAt reports whether the key has an expiry at or before t.
func (k APIKey) ExpiredAt(t time.Time) bool {
	return k.ExpiresAt != nil && !t.Before(*k.ExpiresAt)
}

// Identity is the authenticated caller.
type Identity struct {
	TenantID    uuid.UUID
	PrincipalID uuid.UUID
	Scope       Scope
	Kind        Kind
	// ExpiresAt is zero for credentials without an expiry.
	ExpiresAt time.Time
	// KeyID is set for API keys.
	KeyID uuid.UUID
}

func (i Identity) ScopeTenantID() uuid.UUID { return i.TenantID }
