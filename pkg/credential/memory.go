package credential

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/isolation"
)

// MemoryKeyStore is an in-memory KeyManager for tests and single-node use.
type MemoryKeyStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]APIKey
	byHash map[string]uuid.UUID

	fail    error
	latency time.Duration
}

// NewMemoryKeyStore returns an empty key store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		byID:   make(map[uuid.UUID]APIKey),
		byHash: make(map[string]uuid.UUID),
	}
}

// FailWith makes every call return err until reset with nil.
func (s *MemoryKeyStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// SetLatency delays every call. The delay honors context cancellation.
func (s *MemoryKeyStore) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

func (s *MemoryKeyStore) wait(ctx context.Context) error {
	s.mu.RLock()
	fail, latency := s.fail, s.latency
	s.mu.RUnlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fail
}

// GetAPIKeyByHash returns the key stored under hash or ErrKeyNotFound.
func (s *MemoryKeyStore) GetAPIKeyByHash(ctx context.Context, hash string) (APIKey, error) {
	if err := s.wait(ctx); err != nil {
		return APIKey{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[hash]
	if !ok {
		return APIKey{}, ErrKeyNotFound
	}
	return s.byID[id], nil
}

// TouchLastUsed records when a key was last presented.
func (s *MemoryKeyStore) TouchLastUsed(ctx context.Context, tenantID, keyID uuid.UUID, at time.Time) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k, err := s.scoped(tenantID, keyID)
	if err != nil {
		return err
	}
	k.LastUsedAt = &at
	s.byID[keyID] = k
	return nil
}

// CreateAPIKey stores key. A duplicate hash fails with ErrKeyExists.
func (s *MemoryKeyStore) CreateAPIKey(ctx context.Context, tenantID uuid.UUID, key APIKey) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	if err := isolation.Ensure(tenantID, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[key.KeyHash]; ok {
		return ErrKeyExists
	}
	if _, ok := s.byID[key.ID]; ok {
		return ErrKeyExists
	}
	s.byID[key.ID] = key
	s.byHash[key.KeyHash] = key.ID
	return nil
}

// RevokeAPIKey marks a key revoked.
func (s *MemoryKeyStore) RevokeAPIKey(ctx context.Context, tenantID, keyID uuid.UUID) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k, err := s.scoped(tenantID, keyID)
	if err != nil {
		return err
	}
	k.Status = KeyRevoked
	s.byID[keyID] = k
	return nil
}

// ListAPIKeys returns the tenant's keys, newest first.
func (s *MemoryKeyStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]APIKey, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []APIKey
	for _, k := range s.byID {
		if k.TenantID == tenantID {
			out = append(out, k)
		}
	}
	slices.SortFunc(out, func(a, b APIKey) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Name, b.Name))
	})
	return out, nil
}

// scoped returns the key only when it belongs to tenantID. Caller holds mu.
func (s *MemoryKeyStore) scoped(tenantID, keyID uuid.UUID) (APIKey, error) {
	k, ok := s.byID[keyID]
	if !ok || k.TenantID != tenantID {
		return APIKey{}, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return k, nil
}
