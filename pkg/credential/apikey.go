package credential

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	// MinSecretSize is the minimum application secret length in bytes.
	MinSecretSize = 32
	// MinKeyLength matches keys issued before the random part was fixed at 32.
	MinKeyLength = 20
	// PrefixLength is the number of leading characters kept for display.
	PrefixLength = 12

	randomLength = 32
	hashInfo     = "authzkit-apikey-v1"
	base62       = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// Hasher turns raw API keys into their stored hash.
type Hasher struct {
	key []byte
}

// NewHasher derives the HMAC key from the application secret.
func NewHasher(secret []byte) (*Hasher, error) {
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidSecret, MinSecretSize, len(secret))
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hashInfo)), key); err != nil {
		return nil, errors.Join(ErrKeyDerivationFailed, err)
	}
	return &Hasher{key: key}, nil
}

// Hash returns the hex-encoded HMAC-SHA256 of the raw key.
func (h *Hasher) Hash(raw string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares two hashes in constant time.
func (h *Hasher) Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ParseKey checks the raw key format and returns its scope.
func ParseKey(raw string) (Scope, error) {
	if len(raw) < MinKeyLength {
		return "", fmt.Errorf("%w: shorter than %d characters", ErrInvalidKey, MinKeyLength)
	}
	name, rest, ok := strings.Cut(raw, "_")
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: missing scope prefix", ErrInvalidKey)
	}
	scope, err := ParseScope(name)
	if err != nil {
		return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidKey, name)
	}
	return scope, nil
}

// KeyPrefix returns the display prefix of a raw key.
func KeyPrefix(raw string) string {
	if len(raw) <= PrefixLength {
		return raw
	}
	return raw[:PrefixLength]
}

// GenerateKey returns a new raw key "<scope>_<32 base62 characters>".
func GenerateKey(scope Scope) (string, error) {
	if _, err := ParseScope(string(scope)); err != nil {
		return "", err
	}

	out := make([]byte, 0, randomLength)
	buf := make([]byte, randomLength)
	for len(out) < randomLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			// 248 is the largest multiple of 62 below 256, so no bias.
			if b >= 248 {
				continue
			}
			out = append(out, base62[b%62])
			if len(out) == randomLength {
				break
			}
		}
	}
	return string(scope) + "_" + string(out), nil
}

// NewKey describes an API key to issue.
type NewKey struct {
	TenantID    uuid.UUID
	PrincipalID uuid.UUID
	Name        string
	Scope       Scope
	ExpiresAt   *time.Time
}

// Issue generates a raw key and the record to store for it.
// The raw key is returned once and cannot be recovered from the record.
func (h *Hasher) Issue(in NewKey, now time.Time) (string, APIKey, error) {
	if in.TenantID == uuid.Nil || in.PrincipalID == uuid.Nil {
		return "", APIKey{}, fmt.Errorf("%w: tenant and principal are required", ErrInvalidKey)
	}
	raw, err := GenerateKey(in.Scope)
	if err != nil {
		return "", APIKey{}, err
	}
	return raw, APIKey{
		ID:          uuid.New(),
		TenantID:    in.TenantID,
		PrincipalID: in.PrincipalID,
		Name:        strings.TrimSpace(in.Name),
		Prefix:      KeyPrefix(raw),
		KeyHash:     h.Hash(raw),
		Scope:       in.Scope,
		Status:      KeyActive,
		ExpiresAt:   in.ExpiresAt,
		CreatedAt:   now,
	}, nil
}
