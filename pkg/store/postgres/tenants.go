package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/pg"
	"github.com/dmitrymomot/authzkit/pkg/tenant"
)

const tenantColumns = `id, org_id, name, status, provider, created_at, updated_at`

// TenantStore implements tenant.Provider.
type TenantStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewTenantStore keeps tenants in the tenants table.
func NewTenantStore(db *sql.DB) *TenantStore {
	if db == nil {
		panic("postgres: db is required")
	}
	return &TenantStore{db: db, now: time.Now}
}

// GetByID returns tenant.ErrTenantNotFound for a missing row.
func (s *TenantStore) GetByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	return scanTenant(row)
}

func (s *TenantStore) GetByOrgID(ctx context.Context, orgID string) (*tenant.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE org_id = $1`, orgID)
	return scanTenant(row)
}

// Create maps the unique org id violation to tenant.ErrTenantExists.
func (s *TenantStore) Create(ctx context.Context, t *tenant.Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := dbTime(s.now())
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}

	provider, err := tenant.MarshalProviderConfig(t.Provider)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenants (`+tenantColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.OrgID, t.Name, string(t.Status), provider, dbTime(t.CreatedAt), dbTime(t.UpdatedAt),
	)
	if pg.IsDuplicateKeyError(err) {
		return tenant.ErrOrgIDTaken
	}
	if err != nil {
		return fmt.Errorf("postgres: create tenant: %w", err)
	}
	return nil
}

// UpdateStatus returns tenant.ErrTenantNotFound if no row changed.
func (s *TenantStore) UpdateStatus(ctx context.Context, id uuid.UUID, status tenant.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), dbTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("postgres: update tenant status: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

func scanTenant(row scanner) (*tenant.Tenant, error) {
	var (
		t        tenant.Tenant
		status   string
		provider []byte
	)
	err := row.Scan(&t.ID, &t.OrgID, &t.Name, &status, &provider, &t.CreatedAt, &t.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, tenant.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan tenant: %w", err)
	}

	t.Status = tenant.Status(status)
	if t.Provider, err = tenant.UnmarshalProviderConfig(provider); err != nil {
		return nil, err
	}
	return &t, nil
}
