// Package postgres implements the authorization stores on PostgreSQL
// through database/sql and the pgx driver:
//
//   - TenantStore is a tenant.Provider.
//   - RBACStore is an rbac.Store. Each transaction holds a per-tenant
//     advisory lock and role writes lock the row with SELECT ... FOR UPDATE.
//   - KeyStore is a credential.KeyManager.
//   - AuditStore is an audit.Storage and audit.Reader. RBAC mutations write
//     their audit event through the same transaction instead.
//
// The schema ships as goose migrations in Migrations; apply it with
// pg.Migrate(ctx, db, postgres.Migrations, postgres.MigrationsDir, cfg, log).
//
// Every query filters by tenant id. Lists of ids, permissions and audit
// details are stored as JSONB.
package postgres
