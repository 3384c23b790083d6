package credential

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dmitrymomot/authzkit/pkg/logger"
)

const DefaultReadTimeout = 3 * time.Second

// Denial reasons reported to the DenialRecorder.
const (
	ReasonMissing            = "missing"
	ReasonMalformed          = "malformed"
	ReasonUnknownKey         = "unknown_key"
	ReasonRevoked            = "revoked"
	ReasonExpired            = "expired"
	ReasonScopeMismatch      = "scope_mismatch"
	ReasonInvalidToken       = "invalid_token"
	ReasonBearerUnsupported  = "bearer_unsupported"
	ReasonStorageUnavailable = "storage_unavailable"
)

// Resolver turns raw credentials into identities.
type Resolver struct {
	keys        KeyStore
	hasher      *Hasher
	verifier    ClaimsVerifier
	denials     DenialRecorder
	readTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

type ResolverOption func(*Resolver)

// WithVerifier enables bearer tokens.
func WithVerifier(v ClaimsVerifier) ResolverOption {
	return func(r *Resolver) { r.verifier = v }
}

// WithDenialRecorder receives every rejected credential.
func WithDenialRecorder(d DenialRecorder) ResolverOption {
	return func(r *Resolver) {
		if d != nil {
			r.denials = d
		}
	}
}

// WithReadTimeout bounds a key store lookup.
func WithReadTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.readTimeout = d
		}
	}
}

// WithResolverClock overrides time.Now.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithResolverLogger sets the resolver logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver resolves API keys through keys and hasher. JWT support is
// added with WithJWT.
func NewResolver(keys KeyStore, hasher *Hasher, opts ...ResolverOption) *Resolver {
	if keys == nil || hasher == nil {
		panic("credential: key store and hasher are required")
	}
	r := &Resolver{
		keys:        keys,
		hasher:      hasher,
		denials:     nopRecorder{},
		readTimeout: DefaultReadTimeout,
		now:         time.Now,
		logger:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logger.Component("credential.resolver"))
	return r
}

// Resolve authenticates raw, which is either an API key or a bearer token.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, r.deny(ctx, Denial{Reason: ReasonMissing}, ErrInvalidCredential)
	}
	if strings.Count(raw, ".") == 2 {
		return r.resolveBearer(ctx, raw)
	}
	return r.resolveAPIKey(ctx, raw)
}

func (r *Resolver) resolveBearer(ctx context.Context, raw string) (*Identity, error) {
	d := Denial{Kind: KindBearer}
	if r.verifier == nil {
		d.Reason = ReasonBearerUnsupported
		return nil, r.deny(ctx, d, ErrInvalidCredential)
	}

	id, err := r.verifier.Verify(ctx, raw)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, ErrExpiredCredential):
		d.Reason = ReasonExpired
	default:
		d.Reason = ReasonInvalidToken
	}
	return nil, r.deny(ctx, d, err)
}

func (r *Resolver) resolveAPIKey(ctx context.Context, raw string) (*Identity, error) {
	d := Denial{Kind: KindAPIKey, KeyPrefix: KeyPrefix(raw)}

	scope, err := ParseKey(raw)
	if err != nil {
		d.Reason = ReasonMalformed
		return nil, r.deny(ctx, d, errors.Join(ErrInvalidCredential, err))
	}

	hash := r.hasher.Hash(raw)
	readCtx, cancel := context.WithTimeout(ctx, r.readTimeout)
	key, err := r.keys.GetAPIKeyByHash(readCtx, hash)
	cancel()
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			d.Reason = ReasonUnknownKey
			return nil, r.deny(ctx, d, ErrInvalidCredential)
		}
		d.Reason = ReasonStorageUnavailable
		r.logger.ErrorContext(ctx, "api key lookup failed",
			logger.Reason(ReasonStorageUnavailable),
			logger.Error(err),
		)
		return nil, r.deny(ctx, d, errors.Join(ErrStorageUnavailable, err))
	}
	if !r.hasher.Equal(key.KeyHash, hash) {
		d.Reason = ReasonUnknownKey
		return nil, r.deny(ctx, d, ErrInvalidCredential)
	}

	d.TenantID = key.TenantID
	now := r.now()
	switch {
	case key.Scope != scope:
		d.Reason = ReasonScopeMismatch
		return nil, r.deny(ctx, d, ErrInvalidCredential)
	case key.Status != KeyActive:
		d.Reason = ReasonRevoked
		return nil, r.deny(ctx, d, ErrInvalidCredential)
	case key.ExpiredAt(now):
		d.Reason = ReasonExpired
		return nil, r.deny(ctx, d, ErrExpiredCredential)
	}

	touchCtx, cancel := context.WithTimeout(ctx, r.readTimeout)
	if err := r.keys.TouchLastUsed(touchCtx, key.TenantID, key.ID, now); err != nil {
		r.logger.WarnContext(ctx, "touch api key failed", logger.TenantID(key.TenantID), logger.Error(err))
	}
	cancel()

	id := &Identity{
		TenantID:    key.TenantID,
		PrincipalID: key.PrincipalID,
		Scope:       key.Scope,
		Kind:        KindAPIKey,
		KeyID:       key.ID,
	}
	if key.ExpiresAt != nil {
		id.ExpiresAt = *key.ExpiresAt
	}
	return id, nil
}

// Deny reports a denial found outside the resolver, such as an identity
// whose tenant turned out to be suspended, and returns ErrInvalidCredential.
func (r *Resolver) Deny(ctx context.Context, id *Identity, reason string) error {
	d := Denial{Reason: reason}
	if id != nil {
		d.TenantID = id.TenantID
		d.Kind = id.Kind
	}
	return r.deny(ctx, d, ErrInvalidCredential)
}

func (r *Resolver) deny(ctx context.Context, d Denial, err error) error {
	r.logger.DebugContext(ctx, "credential rejected",
		logger.TenantID(d.TenantID),
		logger.Reason(d.Reason),
		slog.String("kind", string(d.Kind)),
	)
	r.denials.RecordDenial(ctx, d)
	return err
}
