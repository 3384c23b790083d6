package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/credential"
	"github.com/dmitrymomot/authzkit/pkg/isolation"
	"github.com/dmitrymomot/authzkit/pkg/pg"
)

const keyColumns = `id, tenant_id, principal_id, name, prefix, key_hash, scope, status, expires_at, created_at, last_used_at`

// KeyStore implements credential.KeyManager.
type KeyStore struct {
	db *sql.DB
}

// NewKeyStore keeps API keys in the api_keys table.
func NewKeyStore(db *sql.DB) *KeyStore {
	if db == nil {
		panic("postgres: db is required")
	}
	return &KeyStore{db: db}
}

// GetAPIKeyByHash returns credential.ErrKeyNotFound for an unknown hash.
func (s *KeyStore) GetAPIKeyByHash(ctx context.Context, hash string) (credential.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1`, hash)
	k, err := scanKey(row)
	switch {
	case pg.IsNotFoundError(err):
		return credential.APIKey{}, credential.ErrKeyNotFound
	case err != nil:
		return credential.APIKey{}, fmt.Errorf("postgres: get api key: %w", err)
	}
	return k, nil
}

func (s *KeyStore) TouchLastUsed(ctx context.Context, tenantID, keyID uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, keyID, dbTime(at),
	)
	return s.requireRow(res, err, keyID, "touch api key")
}

// CreateAPIKey maps the unique hash violation to credential.ErrKeyExists.
func (s *KeyStore) CreateAPIKey(ctx context.Context, tenantID uuid.UUID, key credential.APIKey) error {
	if err := isolation.Ensure(tenantID, key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (`+keyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		key.ID, tenantID, key.PrincipalID, key.Name, key.Prefix, key.KeyHash, string(key.Scope), string(key.Status),
		nullTime(key.ExpiresAt), dbTime(key.CreatedAt), nullTime(key.LastUsedAt),
	)
	switch {
	case pg.IsDuplicateKeyError(err):
		return credential.ErrKeyExists
	case pg.IsForeignKeyViolationError(err):
		return fmt.Errorf("postgres: create api key: principal %s is not part of the tenant: %w", key.PrincipalID, err)
	case err != nil:
		return fmt.Errorf("postgres: create api key: %w", err)
	}
	return nil
}

// RevokeAPIKey returns credential.ErrKeyNotFound if no row changed.
func (s *KeyStore) RevokeAPIKey(ctx context.Context, tenantID, keyID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET status = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, keyID, string(credential.KeyRevoked),
	)
	return s.requireRow(res, err, keyID, "revoke api key")
}

// ListAPIKeys returns the tenant's keys, newest first.
func (s *KeyStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]credential.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE tenant_id = $1 ORDER BY created_at, name`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list api keys: %w", err)
	}
	defer rows.Close()

	var out []credential.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan api key: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list api keys: %w", err)
	}
	return out, nil
}

func (s *KeyStore) requireRow(res sql.Result, err error, keyID uuid.UUID, op string) error {
	if err != nil {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", credential.ErrKeyNotFound, keyID)
	}
	return nil
}

// scanKey returns the raw scan error so callers can detect sql.ErrNoRows.
func scanKey(row scanner) (credential.APIKey, error) {
	var (
		k                 credential.APIKey
		scope, status     string
		expires, lastUsed sql.NullTime
	)
	err := row.Scan(&k.ID, &k.TenantID, &k.PrincipalID, &k.Name, &k.Prefix, &k.KeyHash,
		&scope, &status, &expires, &k.CreatedAt, &lastUsed)
	if err != nil {
		return credential.APIKey{}, err
	}
	k.Scope = credential.Scope(scope)
	k.Status = credential.KeyStatus(status)
	k.ExpiresAt = timePtr(expires)
	k.LastUsedAt = timePtr(lastUsed)
	k.CreatedAt = k.CreatedAt.UTC()
	return k, nil
}
