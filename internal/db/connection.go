// Package db contains code for connecting to the database.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Needs to be imported for Postgres driver
	_ "github.com/mattn/go-sqlite3"    // Needs to be imported for SQLite driver

	"github.com/impactledger/impact-ingest/internal/config"
)

// Dialect names the SQL flavour of a connection
type Dialect string

const (
	// DialectPostgres is PostgreSQL through the pgx stdlib driver
	DialectPostgres Dialect = "postgres"
	// DialectSQLite is SQLite through mattn/go-sqlite3
	DialectSQLite Dialect = "sqlite"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnectTimeout  = 10 * time.Second
)

// Rebind rewrites ? placeholders into the dialect's bind syntax
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var (
		sb strings.Builder
		n  int
	)
	sb.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			sb.WriteByte(query[i])
			continue
		}
		n++
		sb.WriteByte('$')
		sb.WriteString(strconv.Itoa(n))
	}
	return sb.String()
}

// Connection wraps the database handle and its dialect
type Connection struct {
	DB      *sql.DB
	Dialect Dialect
}

// NewConnection opens and pings the database selected by cfg.
// A memory storage type has no database and is rejected.
func NewConnection(ctx context.Context, cfg *config.StorageConfig) (*Connection, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage configuration is required")
	}

	switch cfg.GetType() {
	case config.StorageTypePostgres:
		return openPostgres(ctx, cfg.Database)
	case config.StorageTypeSQLite:
		return openSQLite(ctx, cfg.SQLite.GetPath())
	default:
		return nil, fmt.Errorf("storage type %q has no database connection", cfg.GetType())
	}
}

func openPostgres(ctx context.Context, cfg *config.DatabaseConfig) (*Connection, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("database port is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("database user is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}

	maxOpenConns := int(cfg.MaxOpenConns)
	if maxOpenConns == 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	maxIdleConns := int(cfg.MaxIdleConns)
	if maxIdleConns == 0 {
		maxIdleConns = defaultMaxIdleConns
	}
	connMaxLifetime := defaultConnMaxLifetime
	if cfg.ConnMaxLifetime != "" {
		d, err := time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			return nil, fmt.Errorf("invalid connection max lifetime: %w", err)
		}
		connMaxLifetime = d
	}

	connStr, err := cfg.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("failed to build connection string: %w", err)
	}
	connStr += "&connect_timeout=" + strconv.Itoa(int(defaultConnectTimeout.Seconds()))

	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := ping(ctx, sqlDB); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Database connection established",
		"dialect", DialectPostgres,
		"user", cfg.User,
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
	)
	return &Connection{DB: sqlDB, Dialect: DialectPostgres}, nil
}

func openSQLite(ctx context.Context, path string) (*Connection, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between workers
	sqlDB.SetMaxOpenConns(1)

	if err := ping(ctx, sqlDB); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Database connection established", "dialect", DialectSQLite, "path", path)
	return &Connection{DB: sqlDB, Dialect: DialectSQLite}, nil
}

// SQLiteDSN returns the data source name used for a SQLite file
func SQLiteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?cache=shared&_foreign_keys=on"
	}
	return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

func ping(ctx context.Context, sqlDB *sql.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		if closeErr := sqlDB.Close(); closeErr != nil {
			slog.Error("Failed to close database connection after ping failure", "error", closeErr)
		}
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *Connection) Close() error {
	if c.DB != nil {
		slog.Info("Closing database connection")
		return c.DB.Close()
	}
	return nil
}

// Ping verifies the database connection is still alive
func (c *Connection) Ping(ctx context.Context) error {
	if c.DB != nil {
		return c.DB.PingContext(ctx)
	}
	return fmt.Errorf("database connection is nil")
}
