package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/authzkit/pkg/audit"
	"github.com/dmitrymomot/authzkit/pkg/isolation"
	"github.com/dmitrymomot/authzkit/pkg/permission"
	"github.com/dmitrymomot/authzkit/pkg/pg"
	"github.com/dmitrymomot/authzkit/pkg/rbac"
)

const (
	principalColumns  = `id, tenant_id, status, direct_permissions, created_at, updated_at`
	roleColumns       = `id, tenant_id, name, description, permissions, inherits, is_system, priority, version, created_at, updated_at`
	assignmentColumns = `tenant_id, user_id, role_id, assigned_at, assigned_by, expires_at`
	permissionColumns = `tenant_id, key, category, description, is_system`
)

// RBACStore implements rbac.Store. Transactions take a per-tenant advisory
// lock, so writers of one tenant run one at a time across all instances.
type RBACStore struct {
	reader
	db *sql.DB
}

// NewRBACStore stores RBAC data in db.
func NewRBACStore(db *sql.DB) *RBACStore {
	if db == nil {
		panic("postgres: db is required")
	}
	return &RBACStore{reader: reader{q: db}, db: db}
}

// WithTx opens a transaction and takes the tenant's advisory lock first.
// fn returning an error rolls it back.
func (s *RBACStore) WithTx(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context, tx rbac.Tx) error) error {
	if tenantID == uuid.Nil {
		return isolation.ErrMissingTenant
	}
	return withTx(ctx, s.db, func(ctx context.Context, sqlTx *sql.Tx) error {
		if err := lockTenant(ctx, sqlTx, tenantID); err != nil {
			return err
		}
		tx := &rbacTx{tenantID: tenantID, q: sqlTx}
		tx.reader = reader{q: sqlTx, guard: tx.bound}
		return fn(ctx, tx)
	})
}

// TenantsWithExpiredAssignments is the one query across tenants; it reads
// ids only.
func (s *RBACStore) TenantsWithExpiredAssignments(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM role_assignments WHERE expires_at IS NOT NULL AND expires_at <= $1`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: expired tenants: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: expired tenants: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: expired tenants: %w", err)
	}
	return out, nil
}

// reader serves rbac.Reader from a pool or a transaction.
type reader struct {
	q     dbtx
	guard func(tenantID uuid.UUID) error
}

func (r reader) check(tenantID uuid.UUID) error {
	if r.guard == nil {
		return nil
	}
	return r.guard(tenantID)
}

// GetPrincipal returns rbac.ErrPrincipalNotFound for a missing row.
func (r reader) GetPrincipal(ctx context.Context, tenantID, principalID uuid.UUID) (rbac.Principal, error) {
	if err := r.check(tenantID); err != nil {
		return rbac.Principal{}, err
	}
	row := r.q.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE tenant_id = $1 AND id = $2`,
		tenantID, principalID,
	)
	return scanPrincipal(row)
}

// GetRole returns rbac.ErrRoleNotFound for a missing row.
func (r reader) GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (rbac.Role, error) {
	if err := r.check(tenantID); err != nil {
		return rbac.Role{}, err
	}
	row := r.q.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE tenant_id = $1 AND id = $2`,
		tenantID, roleID,
	)
	return scanRole(row)
}

func (r reader) GetRoleByName(ctx context.Context, tenantID uuid.UUID, name string) (rbac.Role, error) {
	if err := r.check(tenantID); err != nil {
		return rbac.Role{}, err
	}
	row := r.q.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE tenant_id = $1 AND name = $2`,
		tenantID, name,
	)
	return scanRole(row)
}

// ListRoles orders by priority, highest first.
func (r reader) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]rbac.Role, error) {
	if err := r.check(tenantID); err != nil {
		return nil, err
	}
	return r.queryRoles(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE tenant_id = $1 ORDER BY priority, name`,
		tenantID,
	)
}

// RolesByIDs skips the query when ids is empty.
func (r reader) RolesByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]rbac.Role, error) {
	if err := r.check(tenantID); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryRoles(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE tenant_id = $1 AND id = ANY($2::uuid[])`,
		tenantID, idStrings(ids),
	)
}

func (r reader) ActiveAssignments(ctx context.Context, tenantID, principalID uuid.UUID, now time.Time) ([]rbac.Assignment, error) {
	if err := r.check(tenantID); err != nil {
		return nil, err
	}
	return r.queryAssignments(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments
		WHERE tenant_id = $1 AND user_id = $2 AND (expires_at IS NULL OR expires_at > $3)`,
		tenantID, principalID, now.UTC(),
	)
}

func (r reader) ListAssignmentsByRoles(ctx context.Context, tenantID uuid.UUID, roleIDs []uuid.UUID) ([]rbac.Assignment, error) {
	if err := r.check(tenantID); err != nil {
		return nil, err
	}
	if len(roleIDs) == 0 {
		return nil, nil
	}
	return r.queryAssignments(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments WHERE tenant_id = $1 AND role_id = ANY($2::uuid[])`,
		tenantID, idStrings(roleIDs),
	)
}

// ListPermissions includes platform rows stored under the nil tenant.
func (r reader) ListPermissions(ctx context.Context, tenantID uuid.UUID) ([]permission.Definition, error) {
	if err := r.check(tenantID); err != nil {
		return nil, err
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE tenant_id = $1 OR tenant_id = $2 ORDER BY key`,
		uuid.Nil, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list permissions: %w", err)
	}
	defer rows.Close()

	var out []permission.Definition
	for rows.Next() {
		var d permission.Definition
		if err := rows.Scan(&d.TenantID, &d.Key, &d.Category, &d.Description, &d.IsSystem); err != nil {
			return nil, fmt.Errorf("postgres: scan permission: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list permissions: %w", err)
	}
	return out, nil
}

func (r reader) queryRoles(ctx context.Context, query string, args ...any) ([]rbac.Role, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query roles: %w", err)
	}
	defer rows.Close()

	var out []rbac.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query roles: %w", err)
	}
	return out, nil
}

func (r reader) queryAssignments(ctx context.Context, query string, args ...any) ([]rbac.Assignment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query assignments: %w", err)
	}
	return collectAssignments(rows)
}

func collectAssignments(rows *sql.Rows) ([]rbac.Assignment, error) {
	defer rows.Close()

	var out []rbac.Assignment
	for rows.Next() {
		var (
			a       rbac.Assignment
			expires sql.NullTime
		)
		if err := rows.Scan(&a.TenantID, &a.UserID, &a.RoleID, &a.AssignedAt, &a.AssignedBy, &expires); err != nil {
			return nil, fmt.Errorf("postgres: scan assignment: %w", err)
		}
		a.AssignedAt = a.AssignedAt.UTC()
		a.ExpiresAt = timePtr(expires)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query assignments: %w", err)
	}
	return out, nil
}

type rbacTx struct {
	reader
	tenantID uuid.UUID
	q        dbtx
}

func (tx *rbacTx) bound(tenantID uuid.UUID) error {
	if tenantID != tx.tenantID {
		return &isolation.ViolationError{Expected: tx.tenantID, Actual: tenantID, Entity: "transaction"}
	}
	return nil
}

// LockRole reads the role FOR UPDATE.
func (tx *rbacTx) LockRole(ctx context.Context, tenantID, roleID uuid.UUID) (rbac.Role, error) {
	if err := tx.bound(tenantID); err != nil {
		return rbac.Role{}, err
	}
	row := tx.q.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
		tenantID, roleID,
	)
	return scanRole(row)
}

// SavePrincipal upserts p. An id owned by another tenant matches no row of
// the conditional update and is rejected.
func (tx *rbacTx) SavePrincipal(ctx context.Context, tenantID uuid.UUID, p rbac.Principal) error {
	if err := tx.bound(tenantID); err != nil {
		return err
	}
	if err := isolation.Ensure(tenantID, p); err != nil {
		return err
	}
	direct, err := encodeList(p.DirectPermissions)
	if err != nil {
		return err
	}

	res, err := tx.q.ExecContext(ctx,
		`INSERT INTO principals (`+principalColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			direct_permissions = EXCLUDED.direct_permissions,
			updated_at = EXCLUDED.updated_at
		WHERE principals.tenant_id = EXCLUDED.tenant_id`,
		p.ID, tenantID, string(p.Status), direct, dbTime(p.CreatedAt), dbTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: save principal: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: principal id belongs to another tenant", rbac.ErrInvalidInput)
	}
	return nil
}

func (tx *rbacTx) SetDirectPermissions(ctx context.Context, tenantID, principalID uuid.UUID, keys []string) error {
	if err := tx.bound(tenantID); err != nil {
		return err
	}
	direct, err := encodeList(keys)
	if err != nil {
		return err
	}
	res, err := tx.q.ExecContext(ctx,
		`UPDATE principals SET direct_permissions = $3, updated_at = $4 WHERE tenant_id = $1 AND id = $2`,
		tenantID, principalID, direct, dbTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("postgres: set direct permissions: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return rbac.ErrPrincipalNotFound
	}
	return nil
}

// CreateRole maps the unique name violation to rbac.ErrRoleExists.
func (tx *rbacTx) CreateRole(ctx context.Context, tenantID uuid.UUID, r rbac.Role) error {
	if err := tx.bound(tenantID); err != nil {
		return err
	}
	if err := isolation.Ensure(tenantID, r); err != nil {
		return err
	}
	perms, inherits, err := encodeRoleLists(r)
	if err != nil {
		return err
	}

	_, err = tx.q.ExecContext(ctx,
		`INSERT INTO roles (`+roleColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, tenantID, r.Name, r.Description, perms, inherits, r.IsSystem, r.Priority, r.Version,
		dbTime(r.CreatedAt), dbTime(r.UpdatedAt),
	)
	if pg.IsDuplicateKeyError(err) {
		return rbac.ErrRoleExists
	}
	if err != nil {
		return fmt.Errorf("postgres: create role: %w", err)
	}
	return nil
}

// UpdateRole writes only if the stored version still matches.
func (tx *rbacTx) UpdateRole(ctx context.Context, tenantID uuid.UUID, r rbac.Role) (rbac.Role, error) {
	if err := tx.bound(tenantID); err != nil {
		return rbac.Role{}, err
	}
	perms, inherits, err := encodeRoleLists(r)
	if err != nil {
		return rbac.Role{}, err
	}

	var version int64
	err = tx.q.QueryRowContext(ctx,
		`UPDATE roles SET name = $3, description = $4, permissions = $5, inherits = $6, priority = $7,
			updated_at = $8, version = version + 1
		WHERE tenant_id = $1 AND id = $2 AND version = $9
		RETURNING version`,
		tenantID, r.ID, r.Name, r.Description, perms, inherits, r.Priority, dbTime(r.UpdatedAt), r.Version,
	).Scan(&version)
	switch {
	case pg.IsDuplicateKeyError(err):
		return rbac.Role{}, rbac.ErrRoleExists
	case pg.IsNotFoundError(err):
		if _, getErr := tx.GetRole(ctx, tenantID, r.ID); getErr != nil {
			return rbac.Role{}, getErr
		}
		return rbac.Role{}, rbac.ErrVersionConflict
	case err != nil:
		return rbac.Role{}, fmt.Errorf("postgres: update role: %w", err)
	}

	r.TenantID = tenantID
	r.Version = version
	return r, nil
}

func (tx *rbacTx) DeleteRole(ctx context.Context, tenantID, roleID uuid.UUID) error {
	if err := tx.bound(tenantID); err != nil {
		return err
	}
	res, err := tx.q.ExecContext(ctx, `DELETE FROM roles WHERE tenant_id = $1 AND id = $2`, tenantID, roleID)
	if err != nil {
		return fmt.Errorf("postgres: delete role: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return rbac.ErrRoleNotFound
	}
	return nil
}

// RemoveInheritance rewrites the inherits list of each role naming roleID.
func (tx *rbacTx) RemoveInheritance(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error) {
	if err := tx.bound(tenantID); err != nil {
		return nil, err
	}
	rows, err := tx.q.QueryContext(ctx,
		`UPDATE roles SET inherits = inherits - $2::text, version = version + 1, updated_at = $3
		WHERE tenant_id = $1 AND jsonb_exists(inherits, $2::text)
		RETURNING id`,
		tenantID, roleID.String(), dbTime(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: remove inheritance: %w", err)
	}
	defer rows.Close()

	var changed []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: remove inheritance: %w", err)
		}
		changed = append(changed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: remove inheritance: %w", err)
	}
	return changed, nil
}

// AddAssignment relies on the primary key: a second insert of the same
// (tenant, user, role) affects no row.
func (tx *rbacTx) AddAssignment(ctx context.Context, tenantID uuid.UUID, a rbac.Assignment) (bool, error) {
	if err := tx.bound(tenantID); err != nil {
		return false, err
	}
	if err := isolation.Ensure(tenantID, a); err != nil {
		return false, err
	}
	res, err := tx.q.ExecContext(ctx,
		`INSERT INTO role_assignments (`+assignmentColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		tenantID, a.UserID, a.RoleID, dbTime(a.AssignedAt), a.AssignedBy, nullTime(a.ExpiresAt),
	)
	if pg.IsForeignKeyViolationError(err) {
		return false, fmt.Errorf("%w: %s", rbac.ErrInvalidInput, pg.ConstraintName(err))
	}
	if err != nil {
		return false, fmt.Errorf("postgres: add assignment: %w", err)
	}
	n, err := affected(res)
	return n == 1, err
}

func (tx *rbacTx) RemoveAssignment(ctx context.Context, tenantID, userID, roleID uuid.UUID) (bool, error) {
	if err := tx.bound(tenantID); err != nil {
		return false, err
	}
	res, err := tx.q.ExecContext(ctx,
		`DELETE FROM role_assignments WHERE tenant_id = $1 AND user_id = $2 AND role_id = $3`,
		tenantID, userID, roleID,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: remove assignment: %w", err)
	}
	n, err := affected(res)
	return n > 0, err
}

func (tx *rbacTx) DeleteAssignmentsByRole(ctx context.Context, tenantID, roleID uuid.UUID) ([]rbac.Assignment, error) {
	if err := tx.bound(tenantID); err != nil {
		return nil, err
	}
	rows, err := tx.q.QueryContext(ctx,
		`DELETE FROM role_assignments WHERE tenant_id = $1 AND role_id = $2 RETURNING `+assignmentColumns,
		tenantID, roleID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: delete assignments: %w", err)
	}
	return collectAssignments(rows)
}

func (tx *rbacTx) DeleteExpiredAssignments(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]rbac.Assignment, error) {
	if err := tx.bound(tenantID); err != nil {
		return nil, err
	}
	rows, err := tx.q.QueryContext(ctx,
		`DELETE FROM role_assignments
		WHERE tenant_id = $1 AND expires_at IS NOT NULL AND expires_at <= $2
		RETURNING `+assignmentColumns,
		tenantID, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: delete expired assignments: %w", err)
	}
	return collectAssignments(rows)
}

// UpsertPermission inserts or updates a catalog row.
func (tx *rbacTx) UpsertPermission(ctx context.Context, tenantID uuid.UUID, d permission.Definition) error {
	if err := tx.bound(tenantID); err != nil {
		return err
	}
	_, err := tx.q.ExecContext(ctx,
		`INSERT INTO permissions (`+permissionColumns+`) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, key) DO UPDATE SET
			category = EXCLUDED.category,
			description = EXCLUDED.description,
			is_system = EXCLUDED.is_system`,
		tenantID, d.Key, d.Category, d.Description, d.IsSystem,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert permission: %w", err)
	}
	return nil
}

// RemovePermission deletes a tenant catalog row.
func (tx *rbacTx) RemovePermission(ctx context.Context, tenantID uuid.UUID, key string) (bool, error) {
	if err := tx.bound(tenantID); err != nil {
		return false, err
	}
	res, err := tx.q.ExecContext(ctx,
		`DELETE FROM permissions WHERE tenant_id = $1 AND key = $2`,
		tenantID, key,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: remove permission: %w", err)
	}
	n, err := affected(res)
	return n > 0, err
}

// PrincipalsWithPermission matches key inside the direct_permissions array.
func (tx *rbacTx) PrincipalsWithPermission(ctx context.Context, tenantID uuid.UUID, key string) ([]uuid.UUID, error) {
	if err := tx.bound(tenantID); err != nil {
		return nil, err
	}
	rows, err := tx.q.QueryContext(ctx,
		`SELECT id FROM principals
		WHERE tenant_id = $1 AND direct_permissions @> jsonb_build_array($2::text)`,
		tenantID, key,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: principals with permission: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan principal id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: principals with permission: %w", err)
	}
	return ids, nil
}

// AppendAudit writes e in the same transaction, so a failed insert rolls
// back the mutation it describes.
func (tx *rbacTx) AppendAudit(ctx context.Context, tenantID uuid.UUID, e audit.Event) error {
	if err := tx.bound(tenantID); err != nil {
		return err
	}
	if err := isolation.Ensure(tenantID, e); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	return appendAudit(ctx, tx.q, e)
}

func encodeRoleLists(r rbac.Role) (perms, inherits []byte, err error) {
	if perms, err = encodeList(r.Permissions); err != nil {
		return nil, nil, err
	}
	if inherits, err = encodeList(r.Inherits); err != nil {
		return nil, nil, err
	}
	return perms, inherits, nil
}

func scanPrincipal(row scanner) (rbac.Principal, error) {
	var (
		p      rbac.Principal
		status string
		direct []byte
	)
	err := row.Scan(&p.ID, &p.TenantID, &status, &direct, &p.CreatedAt, &p.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return rbac.Principal{}, rbac.ErrPrincipalNotFound
	}
	if err != nil {
		return rbac.Principal{}, fmt.Errorf("postgres: scan principal: %w", err)
	}
	p.Status = rbac.PrincipalStatus(status)
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	if p.DirectPermissions, err = decodeList[string](direct); err != nil {
		return rbac.Principal{}, err
	}
	return p, nil
}

func scanRole(row scanner) (rbac.Role, error) {
	var (
		r               rbac.Role
		perms, inherits []byte
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Description, &perms, &inherits,
		&r.IsSystem, &r.Priority, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return rbac.Role{}, rbac.ErrRoleNotFound
	}
	if err != nil {
		return rbac.Role{}, fmt.Errorf("postgres: scan role: %w", err)
	}
	r.CreatedAt, r.UpdatedAt = r.CreatedAt.UTC(), r.UpdatedAt.UTC()
	if r.Permissions, err = decodeList[string](perms); err != nil {
		return rbac.Role{}, err
	}
	if r.Inherits, err = decodeList[uuid.UUID](inherits); err != nil {
		return rbac.Role{}, err
	}
	return r, nil
}
