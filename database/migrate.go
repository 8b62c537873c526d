package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"

	"github.com/impactledger/impact-ingest/internal/config"
	"github.com/impactledger/impact-ingest/internal/db"
)

// MigrateUp applies every pending migration to the database selected by cfg
// and returns the resulting schema version
func MigrateUp(ctx context.Context, cfg *config.StorageConfig) (uint, error) {
	var version uint
	err := withMigrator(ctx, cfg, func(m Migrator) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		if dirty {
			return fmt.Errorf("database is in a dirty state at version %d", v)
		}
		version = v
		return nil
	})
	return version, err
}

// MigrateDown reverts the given number of migrations; zero or less reverts all of them
func MigrateDown(ctx context.Context, cfg *config.StorageConfig, steps int) error {
	return withMigrator(ctx, cfg, func(m Migrator) error {
		var err error
		if steps <= 0 {
			err = m.Down()
		} else {
			err = m.Steps(-steps)
		}
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to revert migrations: %w", err)
		}
		return nil
	})
}

// withMigrator runs fn on a dedicated connection that is closed afterwards
func withMigrator(ctx context.Context, cfg *config.StorageConfig, fn func(Migrator) error) error {
	conn, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return err
	}

	m, err := NewMigrator(conn.DB, conn.Dialect)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			slog.WarnContext(ctx, "Failed to close migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	return fn(m)
}
