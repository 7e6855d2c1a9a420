package sqlite

import (
	"database/sql"
	"embed"

	"golang-finance-intelligence/pkg/errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending schema migrations to the database
func Migrate(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.StorageError(errors.CodeMigrationFailed, "load migrations", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return errors.StorageError(errors.CodeMigrationFailed, "init migration driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return errors.StorageError(errors.CodeMigrationFailed, "init migrations", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.StorageError(errors.CodeMigrationFailed, "apply migrations", err)
	}
	return nil
}
