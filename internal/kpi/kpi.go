// Package kpi persists monthly per-organization KPI records and the
// organization registry fed by directory syncs.
//
// Writes are idempotent upserts keyed by (organization, metric, year, month):
// replaying the same record leaves the store unchanged, so ingestion can be
// retried or resumed without creating duplicates.
package kpi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/impactledger/impact-ingest/internal/directory"
)

//go:generate mockgen -destination=mocks/mock_kpi.go -package=mocks -source=kpi.go Gateway,EntityRegistry

const (
	// MetricDonationAmount is the donation total in KRW
	MetricDonationAmount = "DONATION_AMOUNT_KRW"

	// EntityBatchSize is the number of organizations written per transaction
	EntityBatchSize = 1000
)

// ErrNotFound is returned when no record exists for a key
var ErrNotFound = errors.New("kpi record not found")

// Key identifies a KPI record
type Key struct {
	OrgCode string
	Metric  string
	Year    int
	// Month is 1..12, or 0 for a yearly figure
	Month int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%04d-%02d", k.OrgCode, k.Metric, k.Year, k.Month)
}

// Record is one KPI value with its provenance
type Record struct {
	OrgCode   string    `json:"orgCode"`
	Metric    string    `json:"metric"`
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	Value     int64     `json:"value"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Key returns the identity of r
func (r Record) Key() Key {
	return Key{OrgCode: r.OrgCode, Metric: r.Metric, Year: r.Year, Month: r.Month}
}

// Validate checks the fields that form the record key
func (r Record) Validate() error {
	switch {
	case strings.TrimSpace(r.OrgCode) == "":
		return fmt.Errorf("record organization code is required")
	case strings.TrimSpace(r.Metric) == "":
		return fmt.Errorf("record metric is required")
	case r.Year < 1900 || r.Year > 9999:
		return fmt.Errorf("record year %d is out of range", r.Year)
	case r.Month < 0 || r.Month > 12:
		return fmt.Errorf("record month %d is out of range", r.Month)
	}
	return nil
}

// Outcome reports what an upsert did
type Outcome int

const (
	// Unchanged means an identical record already existed
	Unchanged Outcome = iota
	// Inserted means no record existed for the key
	Inserted
	// Updated means the value or source of an existing record changed
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Changed reports whether the upsert wrote anything
func (o Outcome) Changed() bool {
	return o == Inserted || o == Updated
}

// SyncResult counts the outcome of an organization registry sync
type SyncResult struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

func (s *SyncResult) add(o Outcome) {
	switch o {
	case Inserted:
		s.Inserted++
	case Updated:
		s.Updated++
	default:
		s.Unchanged++
	}
}

// Gateway is an interface for idempotent KPI writes
type Gateway interface {
	// Upsert writes r, overwriting the value and source of an existing record with the same key
	Upsert(ctx context.Context, r Record) (Outcome, error)
}

// EntityRegistry is an interface for the organization registry
type EntityRegistry interface {
	// UpsertEntities creates or refreshes organizations; it never deletes any
	UpsertEntities(ctx context.Context, entities []directory.Entity) (SyncResult, error)
}

// Store is a Gateway and EntityRegistry that can also be read back
type Store interface {
	Gateway
	EntityRegistry

	// Get returns the record stored under k, or ErrNotFound
	Get(ctx context.Context, k Key) (*Record, error)

	// Entity returns the organization registered under code, or ErrNotFound
	Entity(ctx context.Context, code string) (*directory.Entity, error)
}

// entityChanged reports whether stored differs from incoming in any synced field
func entityChanged(stored, incoming directory.Entity) bool {
	return stored.Name != incoming.Name ||
		stored.StockCode != incoming.StockCode ||
		!stored.ModifiedAt.Equal(incoming.ModifiedAt) ||
		stored.Rank != incoming.Rank
}

// normalizeEntity trims the fields compared on sync; entities without a code are dropped
func normalizeEntity(e directory.Entity) (directory.Entity, bool) {
	e.Code = strings.TrimSpace(e.Code)
	e.Name = strings.TrimSpace(e.Name)
	e.StockCode = strings.TrimSpace(e.StockCode)
	if e.Code == "" {
		return directory.Entity{}, false
	}
	if !e.ModifiedAt.IsZero() {
		e.ModifiedAt = e.ModifiedAt.UTC()
	}
	return e, true
}
