// Package storage provides factory functions for creating the KPI store.
// It hides the choice between the in-process store and a database-backed one
// behind a single Factory so the rest of the application stays storage-agnostic.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/impactledger/impact-ingest/internal/config"
	"github.com/impactledger/impact-ingest/internal/kpi"
)

//go:generate mockgen -destination=mocks/mock_factory.go -package=mocks -source=factory.go Factory

// Factory creates the KPI store and manages the resources behind it.
type Factory interface {
	// CreateStore returns the store used as KPI gateway and organization registry.
	// Repeated calls return the same store.
	CreateStore(ctx context.Context) (kpi.Store, error)

	// CheckReadiness reports whether the backing storage is reachable
	CheckReadiness(ctx context.Context) error

	// Cleanup releases any resources held by this factory.
	// For database factories, this closes the connection pool.
	Cleanup()
}

// NewStorageFactory creates a storage factory based on the configured storage type.
func NewStorageFactory(ctx context.Context, cfg *config.Config) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.GetStorage().GetType() {
	case config.StorageTypeMemory:
		return NewMemoryFactory(), nil
	case config.StorageTypePostgres, config.StorageTypeSQLite:
		return NewDatabaseFactory(ctx, cfg.GetStorage())
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.GetStorage().GetType())
	}
}

// MemoryFactory keeps KPI records in process memory.
// Records do not survive a restart.
type MemoryFactory struct {
	store *kpi.MemoryStore
}

var _ Factory = (*MemoryFactory)(nil)

// NewMemoryFactory creates a factory over a fresh in-memory store
func NewMemoryFactory() *MemoryFactory {
	slog.Info("Creating in-memory storage factory")
	return &MemoryFactory{store: kpi.NewMemoryStore()}
}

// CreateStore implements Factory
func (m *MemoryFactory) CreateStore(_ context.Context) (kpi.Store, error) {
	return m.store, nil
}

// CheckReadiness implements Factory
func (*MemoryFactory) CheckReadiness(_ context.Context) error {
	return nil
}

// Cleanup implements Factory
func (*MemoryFactory) Cleanup() {}
