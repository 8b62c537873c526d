package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactledger/impact-ingest/internal/config"
)

func TestRebind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dialect Dialect
		query   string
		want    string
	}{
		{name: "postgres numbers placeholders", dialect: DialectPostgres, query: "a = ? AND b = ?", want: "a = $1 AND b = $2"},
		{name: "postgres without placeholders", dialect: DialectPostgres, query: "SELECT 1", want: "SELECT 1"},
		{name: "sqlite keeps question marks", dialect: DialectSQLite, query: "a = ?", want: "a = ?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.dialect.Rebind(tt.query))
		})
	}
}

func TestNewConnection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *config.StorageConfig
		wantErr string
	}{
		{name: "nil config", cfg: nil, wantErr: "storage configuration is required"},
		{name: "memory", cfg: &config.StorageConfig{Type: config.StorageTypeMemory}, wantErr: "has no database connection"},
		{
			name:    "postgres without database section",
			cfg:     &config.StorageConfig{Type: config.StorageTypePostgres},
			wantErr: "database configuration is required",
		},
		{
			name:    "postgres without host",
			cfg:     &config.StorageConfig{Type: config.StorageTypePostgres, Database: &config.DatabaseConfig{Port: 5432}},
			wantErr: "database host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewConnection(context.Background(), tt.cfg)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewConnection_SQLite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "kpi.db")
	conn, err := NewConnection(context.Background(), &config.StorageConfig{
		Type:   config.StorageTypeSQLite,
		SQLite: &config.SQLiteConfig{Path: path},
	})
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, conn.Dialect)
	assert.NoError(t, conn.Ping(context.Background()))
	assert.NoError(t, conn.Close())
}
