package kpi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/impactledger/impact-ingest/internal/db"
	"github.com/impactledger/impact-ingest/internal/directory"
)

const (
	selectRecordValue = `SELECT value, source FROM kpi_records
WHERE org_code = ? AND metric = ? AND year = ? AND month = ?`

	insertRecord = `INSERT INTO kpi_records (org_code, metric, year, month, value, source, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (org_code, metric, year, month) DO NOTHING`

	updateRecord = `UPDATE kpi_records SET value = ?, source = ?, updated_at = ?
WHERE org_code = ? AND metric = ? AND year = ? AND month = ?`

	selectRecord = `SELECT org_code, metric, year, month, value, source, created_at, updated_at FROM kpi_records
WHERE org_code = ? AND metric = ? AND year = ? AND month = ?`

	selectOrganization = `SELECT code, name, stock_code, modified_at, priority_rank FROM organizations WHERE code = ?`

	insertOrganization = `INSERT INTO organizations (code, name, stock_code, modified_at, priority_rank, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	updateOrganization = `UPDATE organizations SET name = ?, stock_code = ?, modified_at = ?, priority_rank = ?, updated_at = ?
WHERE code = ?`
)

// SQLStore is a Store backed by a SQL database
type SQLStore struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

// NewSQLStore creates a SQLStore over an open database whose schema is migrated
func NewSQLStore(conn *sql.DB, dialect db.Dialect) *SQLStore {
	return &SQLStore{db: conn, dialect: dialect, now: time.Now}
}

// Upsert implements Gateway
func (s *SQLStore) Upsert(ctx context.Context, r Record) (outcome Outcome, err error) {
	if err := r.Validate(); err != nil {
		return Unchanged, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Unchanged, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	outcome, err = s.upsertTx(ctx, tx, r)
	if err != nil {
		return Unchanged, err
	}
	if err := tx.Commit(); err != nil {
		return Unchanged, fmt.Errorf("failed to commit record %s: %w", r.Key(), err)
	}
	return outcome, nil
}

func (s *SQLStore) upsertTx(ctx context.Context, tx *sql.Tx, r Record) (Outcome, error) {
	now := s.now().UTC()

	// a concurrent insert of the same key turns the second pass into an update
	for range 2 {
		var (
			value  int64
			source string
		)
		err := tx.QueryRowContext(ctx, s.q(selectRecordValue), r.OrgCode, r.Metric, r.Year, r.Month).Scan(&value, &source)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, s.q(insertRecord),
				r.OrgCode, r.Metric, r.Year, r.Month, r.Value, r.Source, now, now)
			if err != nil {
				return Unchanged, fmt.Errorf("failed to insert record %s: %w", r.Key(), err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				continue
			}
			return Inserted, nil
		case err != nil:
			return Unchanged, fmt.Errorf("failed to read record %s: %w", r.Key(), err)
		}

		if value == r.Value && source == r.Source {
			return Unchanged, nil
		}
		if _, err := tx.ExecContext(ctx, s.q(updateRecord),
			r.Value, r.Source, now, r.OrgCode, r.Metric, r.Year, r.Month); err != nil {
			return Unchanged, fmt.Errorf("failed to update record %s: %w", r.Key(), err)
		}
		return Updated, nil
	}
	return Unchanged, fmt.Errorf("failed to upsert record %s: key conflict persisted", r.Key())
}

// Get implements Store
func (s *SQLStore) Get(ctx context.Context, k Key) (*Record, error) {
	var r Record
	err := s.db.QueryRowContext(ctx, s.q(selectRecord), k.OrgCode, k.Metric, k.Year, k.Month).Scan(
		&r.OrgCode, &r.Metric, &r.Year, &r.Month, &r.Value, &r.Source, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", k, err)
	}
	return &r, nil
}

// UpsertEntities implements EntityRegistry
func (s *SQLStore) UpsertEntities(ctx context.Context, entities []directory.Entity) (SyncResult, error) {
	var result SyncResult
	for start := 0; start < len(entities); start += EntityBatchSize {
		end := min(start+EntityBatchSize, len(entities))
		batch, err := s.upsertEntityBatch(ctx, entities[start:end])
		if err != nil {
			return result, fmt.Errorf("failed to sync organizations %d-%d: %w", start, end, err)
		}
		result.Inserted += batch.Inserted
		result.Updated += batch.Updated
		result.Unchanged += batch.Unchanged
	}

	slog.DebugContext(ctx, "Organization registry synced",
		"inserted", result.Inserted,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
	)
	return result, nil
}

func (s *SQLStore) upsertEntityBatch(ctx context.Context, entities []directory.Entity) (result SyncResult, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now().UTC()
	for _, e := range entities {
		e, ok := normalizeEntity(e)
		if !ok {
			continue
		}

		stored, err := scanEntity(tx.QueryRowContext(ctx, s.q(selectOrganization), e.Code))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, s.q(insertOrganization),
				e.Code, e.Name, e.StockCode, nullTime(e.ModifiedAt), e.Rank, now, now); err != nil {
				return result, fmt.Errorf("failed to insert organization %s: %w", e.Code, err)
			}
			result.add(Inserted)
		case err != nil:
			return result, fmt.Errorf("failed to read organization %s: %w", e.Code, err)
		case entityChanged(stored, e):
			if _, err := tx.ExecContext(ctx, s.q(updateOrganization),
				e.Name, e.StockCode, nullTime(e.ModifiedAt), e.Rank, now, e.Code); err != nil {
				return result, fmt.Errorf("failed to update organization %s: %w", e.Code, err)
			}
			result.add(Updated)
		default:
			result.add(Unchanged)
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit organizations: %w", err)
	}
	return result, nil
}

// Entity implements Store
func (s *SQLStore) Entity(ctx context.Context, code string) (*directory.Entity, error) {
	e, err := scanEntity(s.db.QueryRowContext(ctx, s.q(selectOrganization), code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read organization %s: %w", code, err)
	}
	return &e, nil
}

func (s *SQLStore) q(query string) string {
	return s.dialect.Rebind(query)
}

func scanEntity(row *sql.Row) (directory.Entity, error) {
	var (
		e        directory.Entity
		modified sql.NullTime
	)
	if err := row.Scan(&e.Code, &e.Name, &e.StockCode, &modified, &e.Rank); err != nil {
		return directory.Entity{}, err
	}
	if modified.Valid {
		e.ModifiedAt = modified.Time.UTC()
	}
	return e, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
