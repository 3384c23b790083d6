package postgres

import "embed"

// MigrationsDir is the directory of Migrations that holds the goose files.
const MigrationsDir = "migrations"

// Migrations is the schema of every store in this package, for pg.Migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS
