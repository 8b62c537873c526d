package kpi

import (
	"context"
	"sync"
	"time"

	"github.com/impactledger/impact-ingest/internal/directory"
)

// MemoryStore is a Store held in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[Key]Record
	entities map[string]directory.Entity
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[Key]Record),
		entities: make(map[string]directory.Entity),
		now:      time.Now,
	}
}

// Upsert implements Gateway
func (s *MemoryStore) Upsert(ctx context.Context, r Record) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Unchanged, err
	}
	if err := r.Validate(); err != nil {
		return Unchanged, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	k := r.Key()
	existing, ok := s.records[k]
	if !ok {
		r.CreatedAt, r.UpdatedAt = now, now
		s.records[k] = r
		return Inserted, nil
	}
	if existing.Value == r.Value && existing.Source == r.Source {
		return Unchanged, nil
	}

	existing.Value = r.Value
	existing.Source = r.Source
	existing.UpdatedAt = now
	s.records[k] = existing
	return Updated, nil
}

// UpsertEntities implements EntityRegistry
func (s *MemoryStore) UpsertEntities(ctx context.Context, entities []directory.Entity) (SyncResult, error) {
	var result SyncResult
	if err := ctx.Err(); err != nil {
		return result, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entities {
		e, ok := normalizeEntity(e)
		if !ok {
			continue
		}
		stored, exists := s.entities[e.Code]
		switch {
		case !exists:
			result.add(Inserted)
		case entityChanged(stored, e):
			result.add(Updated)
		default:
			result.add(Unchanged)
			continue
		}
		s.entities[e.Code] = e
	}
	return result, nil
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, k Key) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[k]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// Entity implements Store
func (s *MemoryStore) Entity(_ context.Context, code string) (*directory.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
