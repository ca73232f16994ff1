package mysql

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sort"
	"strings"

	"auction-marketplace/pkg/logger"

	"github.com/cockroachdb/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// RunMigrations applies embedded migrations in file name order, recording
// each version in schema_migrations. The DSN must allow multiStatements.
func RunMigrations(ctx context.Context, db *sql.DB, log logger.Logger) error {
	return runMigrations(ctx, db, migrationFiles, log)
}

func runMigrations(ctx context.Context, db *sql.DB, files fs.FS, log logger.Logger) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    VARCHAR(255) NOT NULL PRIMARY KEY,
		applied_at DATETIME(6)  NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	)`); err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}

	names, err := fs.Glob(files, "migrations/*.sql")
	if err != nil {
		return errors.Wrap(err, "list migrations")
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(strings.TrimPrefix(name, "migrations/"), ".sql")

		var exists int
		err := db.QueryRowContext(ctx, "SELECT 1 FROM schema_migrations WHERE version = ?", version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return errors.Wrapf(err, "check migration %s", version)
		}

		content, err := fs.ReadFile(files, name)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", name)
		}

		log.Info("Applying migration", "version", version)
		// DDL commits implicitly in MySQL, so there is no enclosing transaction.
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return errors.Wrapf(err, "apply migration %s", version)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return errors.Wrapf(err, "record migration %s", version)
		}
	}
	return nil
}
