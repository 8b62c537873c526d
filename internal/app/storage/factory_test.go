package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactledger/impact-ingest/internal/config"
	"github.com/impactledger/impact-ingest/internal/kpi"
)

func TestNewStorageFactory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      *config.Config
		wantType any
		errMsg   string
	}{
		{
			name:   "nil config returns error",
			errMsg: "config cannot be nil",
		},
		{
			name:     "no storage section defaults to memory",
			cfg:      &config.Config{},
			wantType: &MemoryFactory{},
		},
		{
			name: "sqlite",
			cfg: &config.Config{Storage: &config.StorageConfig{
				Type:           config.StorageTypeSQLite,
				MigrateOnStart: true,
				SQLite:         &config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "kpi.db")},
			}},
			wantType: &DatabaseFactory{},
		},
		{
			name:   "unknown type",
			cfg:    &config.Config{Storage: &config.StorageConfig{Type: "s3"}},
			errMsg: "unknown storage type: s3",
		},
		{
			name:   "postgres without database section",
			cfg:    &config.Config{Storage: &config.StorageConfig{Type: config.StorageTypePostgres}},
			errMsg: "database configuration is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			factory, err := NewStorageFactory(context.Background(), tt.cfg)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			t.Cleanup(factory.Cleanup)
			assert.IsType(t, tt.wantType, factory)
		})
	}
}

func TestMemoryFactory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewMemoryFactory()

	first, err := f.CreateStore(ctx)
	require.NoError(t, err)
	second, err := f.CreateStore(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.NoError(t, f.CheckReadiness(ctx))
}

func TestDatabaseFactory_SQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, err := NewDatabaseFactory(ctx, &config.StorageConfig{
		Type:           config.StorageTypeSQLite,
		MigrateOnStart: true,
		SQLite:         &config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "kpi.db")},
	})
	require.NoError(t, err)
	t.Cleanup(f.Cleanup)

	require.NoError(t, f.CheckReadiness(ctx))

	store, err := f.CreateStore(ctx)
	require.NoError(t, err)

	r := kpi.Record{OrgCode: "00126380", Metric: kpi.MetricDonationAmount, Year: 2024, Month: 3, Value: 100, Source: "DART:1"}
	outcome, err := store.Upsert(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, kpi.Inserted, outcome)

	got, err := store.Get(ctx, r.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Value)
}

func TestDatabaseFactory_ReadinessAfterCleanup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, err := NewDatabaseFactory(ctx, &config.StorageConfig{
		Type:   config.StorageTypeSQLite,
		SQLite: &config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "kpi.db")},
	})
	require.NoError(t, err)

	f.Cleanup()
	err = f.CheckReadiness(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unreachable")
}
