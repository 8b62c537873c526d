package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// DatabasePasswordEnvVar holds the database password when no password file is configured
const DatabasePasswordEnvVar = EnvPrefix + "_DATABASE_PASSWORD"

// StorageConfig selects where KPI records and organizations are written
type StorageConfig struct {
	// Type is one of memory, postgres, sqlite
	Type string `yaml:"type"`

	// MigrateOnStart applies the embedded schema before serving
	MigrateOnStart bool `yaml:"migrateOnStart,omitempty"`

	Database *DatabaseConfig `yaml:"database,omitempty"`
	SQLite   *SQLiteConfig   `yaml:"sqlite,omitempty"`
}

// DatabaseConfig defines PostgreSQL connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// SQLiteConfig defines the local database file
type SQLiteConfig struct {
	Path string `yaml:"path,omitempty"`
}

// GetType returns the storage type, defaulting to memory
func (s *StorageConfig) GetType() string {
	if s == nil || s.Type == "" {
		return StorageTypeMemory
	}
	return strings.ToLower(s.Type)
}

// GetPath returns the SQLite file path
func (s *SQLiteConfig) GetPath() string {
	if s == nil || s.Path == "" {
		return filepath.Join(xdg.DataHome, appDirName, "kpi.db")
	}
	return s.Path
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from IMPACT_INGEST_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(DatabasePasswordEnvVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable", DatabasePasswordEnvVar,
	)
}

// GetConnectionString builds a PostgreSQL connection string.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	), nil
}

func (s *StorageConfig) validate() error {
	prefix := "storage"

	switch s.GetType() {
	case StorageTypeMemory:
		return nil
	case StorageTypeSQLite:
		return nil
	case StorageTypePostgres:
		db := s.Database
		if db == nil {
			return fmt.Errorf("%s: database configuration is required for type %s", prefix, StorageTypePostgres)
		}
		if db.Host == "" || db.Port == 0 || db.User == "" || db.Database == "" {
			return fmt.Errorf("%s: database.host, database.port, database.user and database.database are required", prefix)
		}
		if db.ConnMaxLifetime != "" {
			if err := validateDurations(prefix+": database", map[string]string{"connMaxLifetime": db.ConnMaxLifetime}); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%s: unsupported type %q (expected %s, %s or %s)",
			prefix, s.Type, StorageTypeMemory, StorageTypePostgres, StorageTypeSQLite)
	}
}
