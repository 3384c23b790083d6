package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ClaimsVerifier validates a bearer token and maps it to an Identity.
// Implementations return ErrInvalidCredential or ErrExpiredCredential.
type ClaimsVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Claims is the bearer token payload.
type Claims struct {
	TenantID string `json:"tid"`
	Scope    string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

type JWTOption func(*jwtConfig)

type jwtConfig struct {
	leeway time.Duration
	now    func() time.Time
}

// WithLeeway tolerates clock skew on exp, nbf and iat.
func WithLeeway(d time.Duration) JWTOption {
	return func(c *jwtConfig) { c.leeway = d }
}

// WithJWTClock overrides the clock used for expiry checks.
func WithJWTClock(now func() time.Time) JWTOption {
	return func(c *jwtConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWTVerifier returns a verifier for tokens signed with secret. Empty
// issuer or audience disables that check.
func NewJWTVerifier(secret []byte, issuer, audience string, opts ...JWTOption) (*JWTVerifier, error) {
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("%w: jwt secret needs %d bytes, got %d", ErrInvalidSecret, MinSecretSize, len(secret))
	}
	cfg := jwtConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.leeway),
		jwt.WithTimeFunc(cfg.now),
	}
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(audience))
	}

	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

// Verify checks the signature and claims of token and returns the identity
// it carries.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.Join(ErrExpiredCredential, err)
		}
		return nil, errors.Join(ErrInvalidCredential, err)
	}

	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil || tenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: bad tid claim", ErrInvalidCredential)
	}
	principalID, err := uuid.Parse(claims.Subject)
	if err != nil || principalID == uuid.Nil {
		return nil, fmt.Errorf("%w: bad sub claim", ErrInvalidCredential)
	}

	id := &Identity{
		TenantID:    tenantID,
		PrincipalID: principalID,
		Kind:        KindBearer,
		ExpiresAt:   claims.ExpiresAt.Time,
	}
	if claims.Scope != "" {
		if id.Scope, err = ParseScope(claims.Scope); err != nil {
			return nil, fmt.Errorf("%w: bad scope claim", ErrInvalidCredential)
		}
	}
	return id, nil
}
