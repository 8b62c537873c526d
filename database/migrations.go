// Package database provides database migration tooling.
package database

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/impactledger/impact-ingest/internal/db"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// migrationsFromSource returns the embedded migrations of dialect
func migrationsFromSource(dialect db.Dialect) (source.Driver, error) {
	d, err := iofs.New(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s migrations: %w", dialect, err)
	}
	return d, nil
}

// Migrator is the interface for the migration tooling.
type Migrator interface {
	Up() error
	Down() error
	Steps(int) error
	Version() (uint, bool, error)
	Close() (error, error)
}

// NewMigrator returns a migration instance over conn.
// Closing the migrator closes conn.
func NewMigrator(conn *sql.DB, dialect db.Dialect) (Migrator, error) {
	src, err := migrationsFromSource(dialect)
	if err != nil {
		return nil, err
	}

	var driver migratedb.Driver
	switch dialect {
	case db.DialectPostgres:
		driver, err = migratepgx.WithInstance(conn, &migratepgx.Config{})
	case db.DialectSQLite:
		driver, err = migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	default:
		return nil, fmt.Errorf("unsupported migration dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s migration driver: %w", dialect, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}
