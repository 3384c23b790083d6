// Package pg bootstraps PostgreSQL access for the stores: a database/sql
// pool over the pgx/v5 driver, goose migrations from an fs.FS, a health
// check and SQLSTATE classifiers.
//
// Basic set-up:
//
//	cfg, err := config.Load[pg.Config]()
//	if err != nil {
//		return err
//	}
//
//	db, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	if err := pg.Migrate(ctx, db, postgres.Migrations, postgres.MigrationsDir, cfg, log); err != nil {
//		return err
//	}
//
// Configuration is read from the PG_* environment variables; see the field
// tags of Config for names and defaults.
//
// IsDuplicateKeyError and IsForeignKeyViolationError unwrap *pgconn.PgError,
// IsNotFoundError accepts both sql.ErrNoRows and pgx.ErrNoRows.
package pg
