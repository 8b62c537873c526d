package kpi

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactledger/impact-ingest/internal/db"
	"github.com/impactledger/impact-ingest/internal/directory"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	store := NewSQLStore(conn, db.DialectPostgres)
	fixed := time.Date(2024, 3, 20, 3, 20, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	return store, mock
}

func TestSQLStore_UsesPostgresPlaceholders(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	r := donation(500, "DART:1")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value, source FROM kpi_records
WHERE org_code = $1 AND metric = $2 AND year = $3 AND month = $4`)).
		WithArgs(r.OrgCode, r.Metric, r.Year, r.Month).
		WillReturnRows(sqlmock.NewRows([]string{"value", "source"}).AddRow(int64(400), "DART:0"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE kpi_records SET value = $1, source = $2, updated_at = $3`)).
		WithArgs(r.Value, r.Source, sqlmock.AnyArg(), r.OrgCode, r.Metric, r.Year, r.Month).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := store.Upsert(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Updated, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_InsertConflictFallsBackToUpdate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	r := donation(500, "DART:1")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT value, source FROM kpi_records`).WillReturnRows(sqlmock.NewRows([]string{"value", "source"}))
	mock.ExpectExec(`INSERT INTO kpi_records`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT value, source FROM kpi_records`).
		WillReturnRows(sqlmock.NewRows([]string{"value", "source"}).AddRow(int64(500), "DART:1"))
	mock.ExpectCommit()

	got, err := store.Upsert(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_RollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT value, source FROM kpi_records`).WillReturnRows(sqlmock.NewRows([]string{"value", "source"}))
	mock.ExpectExec(`INSERT INTO kpi_records`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.Upsert(context.Background(), donation(1, "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert record")
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_EntityBatchRollsBack(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT code, name, stock_code, modified_at, priority_rank FROM organizations WHERE code = $1`)).
		WithArgs("00126380").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.UpsertEntities(context.Background(), []directory.Entity{{Code: "00126380", Name: "삼성전자"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to sync organizations 0-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDialectRebind(t *testing.T) {
	t.Parallel()

	q := `SELECT a FROM t WHERE b = ? AND c = ?`
	assert.Equal(t, `SELECT a FROM t WHERE b = $1 AND c = $2`, db.DialectPostgres.Rebind(q))
	assert.Equal(t, q, db.DialectSQLite.Rebind(q))
}
