package postgres_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io/fs"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/authzkit/pkg/audit"
	"github.com/dmitrymomot/authzkit/pkg/credential"
	"github.com/dmitrymomot/authzkit/pkg/isolation"
	"github.com/dmitrymomot/authzkit/pkg/pg"
	"github.com/dmitrymomot/authzkit/pkg/rbac"
	"github.com/dmitrymomot/authzkit/pkg/store/postgres"
	"github.com/dmitrymomot/authzkit/pkg/tenant"
)

// arrayConverter lets []string arguments through the way the pgx driver
// accepts them.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if s, ok := v.([]string); ok {
		return s, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

// capture records the argument it matched.
type capture struct {
	mu     sync.Mutex
	values []driver.Value
}

func (c *capture) Match(v driver.Value) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = append(c.values, v)
	return true
}

func (c *capture) all() []driver.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]driver.Value(nil), c.values...)
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func q(fragment string) string { return regexp.QuoteMeta(fragment) }

var (
	roleCols       = []string{"id", "tenant_id", "name", "description", "permissions", "inherits", "is_system", "priority", "version", "created_at", "updated_at"}
	principalCols  = []string{"id", "tenant_id", "status", "direct_permissions", "created_at", "updated_at"}
	assignmentCols = []string{"tenant_id", "user_id", "role_id", "assigned_at", "assigned_by", "expires_at"}
	keyCols        = []string{"id", "tenant_id", "principal_id", "name", "prefix", "key_hash", "scope", "status", "expires_at", "created_at", "last_used_at"}
	auditCols      = []string{"id", "tenant_id", "actor_id", "action", "entity_type", "entity_id", "details", "result", "request_id", "ip", "user_agent", "created_at", "prev_hash", "hash"}
	now            = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
)

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	entries, err := fs.ReadDir(postgres.Migrations, postgres.MigrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	body, err := fs.ReadFile(postgres.Migrations, postgres.MigrationsDir+"/"+entries[0].Name())
	require.NoError(t, err)
	for _, want := range []string{"-- +goose Up", "-- +goose Down", "CREATE TABLE roles", "CREATE TABLE audit_events", "ON DELETE CASCADE"} {
		assert.Contains(t, string(body), want)
	}
}

func TestTenantStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cols := []string{"id", "org_id", "name", "status", "provider", "created_at", "updated_at"}

	t.Run("get by id", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		id := uuid.New()
		mock.ExpectQuery(q("FROM tenants WHERE id = $1")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(
				id.String(), "acme", "Acme", "active",
				[]byte(`{"type":"auth0","config":{"domain":"acme.auth0.com","client_id":"cid"}}`),
				now, now,
			))

		got, err := postgres.NewTenantStore(db).GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, tenant.StatusActive, got.Status)
		cfg, ok := got.Provider.(tenant.Auth0Config)
		require.True(t, ok)
		assert.Equal(t, "acme.auth0.com", cfg.Domain)
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectQuery(q("FROM tenants WHERE org_id = $1")).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(cols))

		_, err := postgres.NewTenantStore(db).GetByOrgID(ctx, "ghost")
		assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
	})

	t.Run("duplicate org id", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectExec(q("INSERT INTO tenants")).
			WillReturnError(&pgconn.PgError{Code: pg.CodeUniqueViolation, ConstraintName: "tenants_org_id_key"})

		err := postgres.NewTenantStore(db).Create(ctx, &tenant.Tenant{OrgID: "acme", Status: tenant.StatusPending})
		assert.ErrorIs(t, err, tenant.ErrOrgIDTaken)
	})

	t.Run("update status of unknown tenant", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		id := uuid.New()
		mock.ExpectExec(q("UPDATE tenants SET status = $2")).
			WithArgs(id, "suspended", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := postgres.NewTenantStore(db).UpdateStatus(ctx, id, tenant.StatusSuspended)
		assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
	})
}

func TestRBACReads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("principal", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		id := uuid.New()
		mock.ExpectQuery(q("FROM principals WHERE tenant_id = $1 AND id = $2")).
			WithArgs(tenantID, id).
			WillReturnRows(sqlmock.NewRows(principalCols).AddRow(
				id.String(), tenantID.String(), "active", []byte(`["report.export"]`), now, now,
			))

		p, err := postgres.NewRBACStore(db).GetPrincipal(ctx, tenantID, id)
		require.NoError(t, err)
		assert.Equal(t, tenantID, p.TenantID)
		assert.True(t, p.IsActive())
		assert.Equal(t, []string{"report.export"}, p.DirectPermissions)
	})

	t.Run("missing principal", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectQuery(q("FROM principals")).WillReturnRows(sqlmock.NewRows(principalCols))

		_, err := postgres.NewRBACStore(db).GetPrincipal(ctx, tenantID, uuid.New())
		assert.ErrorIs(t, err, rbac.ErrPrincipalNotFound)
	})

	t.Run("roles by ids", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		parent, child := uuid.New(), uuid.New()
		mock.ExpectQuery(q("FROM roles WHERE tenant_id = $1 AND id = ANY($2::uuid[])")).
			WithArgs(tenantID, []string{child.String(), parent.String()}).
			WillReturnRows(sqlmock.NewRows(roleCols).
				AddRow(child.String(), tenantID.String(), "editor", "", []byte(`["doc.write"]`), []byte(`["`+parent.String()+`"]`), false, 20, 3, now, now).
				AddRow(parent.String(), tenantID.String(), "viewer", "", []byte(`["doc.read"]`), []byte(`[]`), true, 10, 1, now, now))

		roles, err := postgres.NewRBACStore(db).RolesByIDs(ctx, tenantID, []uuid.UUID{child, parent})
		require.NoError(t, err)
		require.Len(t, roles, 2)
		assert.Equal(t, []uuid.UUID{parent}, roles[0].Inherits)
		assert.Equal(t, int64(3), roles[0].Version)
		assert.Nil(t, roles[1].Inherits)
		assert.True(t, roles[1].IsSystem)
	})

	t.Run("no ids skips the query", func(t *testing.T) {
		t.Parallel()
		db, _ := newMock(t)
		roles, err := postgres.NewRBACStore(db).RolesByIDs(ctx, tenantID, nil)
		require.NoError(t, err)
		assert.Empty(t, roles)
	})

	t.Run("active assignments", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		user, role := uuid.New(), uuid.New()
		expires := now.Add(time.Hour)
		mock.ExpectQuery(q("expires_at IS NULL OR expires_at > $3")).
			WithArgs(tenantID, user, now).
			WillReturnRows(sqlmock.NewRows(assignmentCols).
				AddRow(tenantID.String(), user.String(), role.String(), now, uuid.Nil.String(), expires))

		got, err := postgres.NewRBACStore(db).ActiveAssignments(ctx, tenantID, user, now)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.NotNil(t, got[0].ExpiresAt)
		assert.True(t, got[0].ExpiresAt.Equal(expires))
	})

	t.Run("storage failure", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectQuery(q("FROM roles")).WillReturnError(errors.New("connection reset"))

		_, err := postgres.NewRBACStore(db).ListRoles(ctx, tenantID)
		require.Error(t, err)
		assert.NotErrorIs(t, err, rbac.ErrRoleNotFound)
	})
}

func TestRBACTransactions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tenantID := uuid.New()
	lock := q("SELECT pg_advisory_xact_lock(hashtextextended($1, 0))")

	t.Run("idempotent assignment commits", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(lock).WithArgs(tenantID.String()).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(q("INSERT INTO role_assignments")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		var added bool
		err := postgres.NewRBACStore(db).WithTx(ctx, tenantID, func(ctx context.Context, tx rbac.Tx) error {
			var err error
			added, err = tx.AddAssignment(ctx, tenantID, rbac.Assignment{
				TenantID: tenantID, UserID: uuid.New(), RoleID: uuid.New(), AssignedAt: now,
			})
			return err
		})
		require.NoError(t, err)
		assert.False(t, added)
	})

	t.Run("error rolls back", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(lock).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(q("INSERT INTO roles")).
			WillReturnError(&pgconn.PgError{Code: pg.CodeUniqueViolation, ConstraintName: "roles_tenant_name_key"})
		mock.ExpectRollback()

		err := postgres.NewRBACStore(db).WithTx(ctx, tenantID, func(ctx context.Context, tx rbac.Tx) error {
			return tx.CreateRole(ctx, tenantID, rbac.Role{ID: uuid.New(), TenantID: tenantID, Name: "admin", Version: 1})
		})
		assert.ErrorIs(t, err, rbac.ErrRoleExists)
	})

	t.Run("foreign tenant inside a transaction", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(lock).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := postgres.NewRBACStore(db).WithTx(ctx, tenantID, func(ctx context.Context, tx rbac.Tx) error {
			_, err := tx.GetRole(ctx, uuid.New(), uuid.New())
			return err
		})
		assert.True(t, isolation.IsFatal(err))
	})

	t.Run("catalog removal", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		holder := uuid.New()
		mock.ExpectBegin()
		mock.ExpectExec(lock).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q("direct_permissions @> jsonb_build_array($2::text)")).
			WithArgs(tenantID, "report.read").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(holder.String()))
		mock.ExpectExec(q("DELETE FROM permissions WHERE tenant_id = $1 AND key = $2")).
			WithArgs(tenantID, "report.read").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q("DELETE FROM permissions")).
			WithArgs(tenantID, "report.export").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		var (
			holders          []uuid.UUID
			removed, missing bool
		)
		err := postgres.NewRBACStore(db).WithTx(ctx, tenantID, func(ctx context.Context, tx rbac.Tx) error {
			var err error
			if holders, err = tx.PrincipalsWithPermission(ctx, tenantID, "report.read"); err != nil {
				return err
			}
			if removed, err = tx.RemovePermission(ctx, tenantID, "report.read"); err != nil {
				return err
			}
			missing, err = tx.RemovePermission(ctx, tenantID, "report.export")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{holder}, holders)
		assert.True(t, removed)
		assert.False(t, missing)
	})

	t.Run("nil tenant", func(t *testing.T) {
		t.Parallel()
		db, _ := newMock(t)
		err := postgres.NewRBACStore(db).WithTx(ctx, uuid.Nil, func(context.Context, rbac.Tx) error { return nil })
		assert.ErrorIs(t, err, isolation.ErrMissingTenant)
	})

	t.Run("stale version", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		roleID := uuid.New()
		mock.ExpectBegin()
		mock.ExpectExec(lock).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q("UPDATE roles SET name = $3")).WillReturnRows(sqlmock.NewRows([]string{"version"}))
		mock.ExpectQuery(q("FROM roles WHERE tenant_id = $1 AND id = $2")).
			WithArgs(tenantID, roleID).
			WillReturnRows(sqlmock.NewRows(roleCols).
				AddRow(roleID.String(), tenantID.String(), "editor", "", []byte(`[]`), []byte(`[]`), false, 0, 5, now, now))
		mock.ExpectRollback()

		err := postgres.NewRBACStore(db).WithTx(ctx, tenantID, func(ctx context.Context, tx rbac.Tx) error {
			_, err := tx.UpdateRole(ctx, tenantID, rbac.Role{ID: roleID, TenantID: tenantID, Name: "editor", Version: 4})
			return err
		})
		assert.ErrorIs(t, err, rbac.ErrVersionConflict)
	})

	t.Run("update bumps version", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		roleID := uuid.New()
		mock.ExpectBegin()
		mock.ExpectExec(lock).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q("UPDATE roles SET name = $3")).
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(5)))
		mock.ExpectCommit()

		var updated rbac.Role
		err := postgres.NewRBACStore(db).WithTx(ctx, tenantID, func(ctx context.Context, tx rbac.Tx) error {
			var err error
			updated, err = tx.UpdateRole(ctx, tenantID, rbac.Role{ID: roleID, TenantID: tenantID, Name: "editor", Version: 4})
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5), updated.Version)
	})

	t.Run("principal owned by another tenant", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(lock).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(q("INSERT INTO principals")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := postgres.NewRBACStore(db).WithTx(ctx, tenantID, func(ctx context.Context, tx rbac.Tx) error {
			return tx.SavePrincipal(ctx, tenantID, rbac.Principal{ID: uuid.New(), TenantID: tenantID, Status: rbac.PrincipalActive})
		})
		assert.ErrorIs(t, err, rbac.ErrInvalidInput)
	})

	t.Run("audit shares the transaction", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		hashes := &capture{}
		mock.ExpectBegin()
		mock.ExpectExec(lock).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q("SELECT hash FROM audit_events")).
			WithArgs(tenantID).
			WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow("head"))
		mock.ExpectExec(q("INSERT INTO audit_events")).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(), hashes, sqlmock.AnyArg()).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := postgres.NewRBACStore(db).WithTx(ctx, tenantID, func(ctx context.Context, tx rbac.Tx) error {
			return tx.AppendAudit(ctx, tenantID, audit.Event{
				ID: uuid.New(), TenantID: tenantID, Action: audit.ActionRoleCreated,
				EntityType: audit.EntityRole, Result: audit.ResultSuccess, CreatedAt: now,
			})
		})
		require.Error(t, err)
		assert.Equal(t, []driver.Value{"head"}, hashes.all())
	})
}

func TestTenantsWithExpiredAssignments(t *testing.T) {
	t.Parallel()
	db, mock := newMock(t)
	a, b := uuid.New(), uuid.New()
	mock.ExpectQuery(q("SELECT DISTINCT tenant_id FROM role_assignments")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow(a.String()).AddRow(b.String()))

	ids, err := postgres.NewRBACStore(db).TenantsWithExpiredAssignments(context.Background(), now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, ids)
}

func TestAuditStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("store chains a batch", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		prev, hash := &capture{}, &capture{}
		insertArgs := []driver.Value{
			sqlmock.AnyArg(), tenantID, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), prev, hash,
		}

		mock.ExpectBegin()
		mock.ExpectExec(q("pg_advisory_xact_lock")).WithArgs(tenantID.String()).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q("SELECT hash FROM audit_events")).WillReturnRows(sqlmock.NewRows([]string{"hash"}))
		mock.ExpectExec(q("INSERT INTO audit_events")).WithArgs(insertArgs...).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(q("INSERT INTO audit_events")).WithArgs(insertArgs...).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		event := func(action string) audit.Event {
			return audit.Event{
				ID: uuid.New(), TenantID: tenantID, Action: action, EntityType: audit.EntityCredential,
				Result: audit.ResultFailure, CreatedAt: now.Add(123 * time.Nanosecond),
			}
		}
		require.NoError(t, postgres.NewAuditStore(db).Store(ctx, event(audit.ActionAccessDenied), event(audit.ActionAccessDenied)))

		prevs, hashes := prev.all(), hash.all()
		require.Len(t, prevs, 2)
		require.Len(t, hashes, 2)
		assert.Equal(t, "", prevs[0])
		assert.Equal(t, hashes[0], prevs[1], "second event links to the first")
	})

	t.Run("invalid event writes nothing", func(t *testing.T) {
		t.Parallel()
		db, _ := newMock(t)
		err := postgres.NewAuditStore(db).Store(ctx, audit.Event{TenantID: tenantID})
		assert.ErrorIs(t, err, audit.ErrInvalidEvent)
	})

	t.Run("find applies filters", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		actor := uuid.New()
		id := uuid.New()
		mock.ExpectQuery(q("WHERE tenant_id = $1 AND action = ANY($2::text[]) AND actor_id = $3 ORDER BY seq LIMIT $4")).
			WithArgs(tenantID, []string{audit.ActionRoleAssigned}, actor, 10).
			WillReturnRows(sqlmock.NewRows(auditCols).AddRow(
				id.String(), tenantID.String(), actor.String(), audit.ActionRoleAssigned, audit.EntityAssignment, "r1",
				[]byte(`{"user_id":"u1"}`), "success", "req-1", "10.0.0.1", "curl", now, "", "h1",
			))

		events, err := postgres.NewAuditStore(db).Find(ctx, tenantID, audit.Filter{
			Actions: []string{audit.ActionRoleAssigned},
			ActorID: actor,
			Limit:   10,
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, id, events[0].ID)
		assert.Equal(t, audit.ResultSuccess, events[0].Result)
		assert.Equal(t, map[string]any{"user_id": "u1"}, events[0].Details)
		assert.Equal(t, "req-1", events[0].RequestID)
	})
}

func TestKeyStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("lookup by hash", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		id, principal := uuid.New(), uuid.New()
		mock.ExpectQuery(q("FROM api_keys WHERE key_hash = $1")).
			WithArgs("abc").
			WillReturnRows(sqlmock.NewRows(keyCols).AddRow(
				id.String(), tenantID.String(), principal.String(), "ci", "auth_AbCdEfG", "abc",
				"auth", "active", nil, now, nil,
			))

		k, err := postgres.NewKeyStore(db).GetAPIKeyByHash(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, credential.ScopeAuth, k.Scope)
		assert.Equal(t, credential.KeyActive, k.Status)
		assert.Nil(t, k.ExpiresAt)
		assert.Nil(t, k.LastUsedAt)
	})

	t.Run("unknown hash", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectQuery(q("FROM api_keys")).WillReturnRows(sqlmock.NewRows(keyCols))

		_, err := postgres.NewKeyStore(db).GetAPIKeyByHash(ctx, "nope")
		assert.ErrorIs(t, err, credential.ErrKeyNotFound)
	})

	t.Run("revoke is tenant scoped", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		keyID := uuid.New()
		mock.ExpectExec(q("UPDATE api_keys SET status = $3 WHERE tenant_id = $1 AND id = $2")).
			WithArgs(tenantID, keyID, "revoked").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := postgres.NewKeyStore(db).RevokeAPIKey(ctx, tenantID, keyID)
		assert.ErrorIs(t, err, credential.ErrKeyNotFound)
	})

	t.Run("create rejects a foreign key row", func(t *testing.T) {
		t.Parallel()
		db, _ := newMock(t)
		err := postgres.NewKeyStore(db).CreateAPIKey(ctx, tenantID, credential.APIKey{ID: uuid.New(), TenantID: uuid.New()})
		assert.True(t, isolation.IsFatal(err))
	})

	t.Run("duplicate hash", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectExec(q("INSERT INTO api_keys")).
			WillReturnError(&pgconn.PgError{Code: pg.CodeUniqueViolation})

		err := postgres.NewKeyStore(db).CreateAPIKey(ctx, tenantID, credential.APIKey{
			ID: uuid.New(), TenantID: tenantID, Name: "ci", CreatedAt: now,
		})
		assert.ErrorIs(t, err, credential.ErrKeyExists)
	})
}
