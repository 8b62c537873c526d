package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/impactledger/impact-ingest/database"
	"github.com/impactledger/impact-ingest/internal/config"
	"github.com/impactledger/impact-ingest/internal/db"
	"github.com/impactledger/impact-ingest/internal/kpi"
)

// DatabaseFactory creates a database-backed KPI store.
// PostgreSQL and SQLite share the same store; only the dialect differs.
type DatabaseFactory struct {
	conn  *db.Connection
	store *kpi.SQLStore
}

var _ Factory = (*DatabaseFactory)(nil)

// NewDatabaseFactory opens the configured database and, when requested,
// applies the embedded migrations before returning.
func NewDatabaseFactory(ctx context.Context, cfg *config.StorageConfig) (*DatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage configuration is required")
	}

	slog.Info("Creating database-backed storage factory", "type", cfg.GetType())

	if cfg.MigrateOnStart {
		version, err := database.MigrateUp(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		slog.Info("Database schema is up to date", "version", version)
	}

	conn, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DatabaseFactory{
		conn:  conn,
		store: kpi.NewSQLStore(conn.DB, conn.Dialect),
	}, nil
}

// CreateStore implements Factory
func (d *DatabaseFactory) CreateStore(_ context.Context) (kpi.Store, error) {
	slog.Debug("Creating database-backed KPI store", "dialect", d.conn.Dialect)
	return d.store, nil
}

// CheckReadiness pings the database
func (d *DatabaseFactory) CheckReadiness(ctx context.Context) error {
	if err := d.conn.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Cleanup closes the database connection pool
func (d *DatabaseFactory) Cleanup() {
	if err := d.conn.Close(); err != nil {
		slog.Error("Failed to close database connection", "error", err)
	}
}
