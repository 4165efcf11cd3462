package database

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// DefaultMigrationsSource locates the bundled SQL files when the runner is
// invoked from the repo root.
const DefaultMigrationsSource = "file://./internal/database/migrations"

func newMigrator(databaseURL, sourceURL string) (*migrate.Migrate, error) {
	if sourceURL == "" {
		sourceURL = DefaultMigrationsSource
	}
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies all pending migrations from the given source URL.
func RunMigrations(databaseURL, sourceURL string) error {
	m, err := newMigrator(databaseURL, sourceURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RollbackMigrations rolls back N migrations.
func RollbackMigrations(databaseURL, sourceURL string, steps int) error {
	m, err := newMigrator(databaseURL, sourceURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-steps); err != nil {
		return fmt.Errorf("failed to rollback: %w", err)
	}

	return nil
}
