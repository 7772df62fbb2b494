package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock, DefaultMaxBatchSize), mock
}

func TestPostgresCountRecords(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM campaign_records`).
		WithArgs("camp-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.CountRecords(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetLedgerAbsent(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT doc FROM campaign_ledgers`).
		WithArgs("camp-1").
		WillReturnError(pgx.ErrNoRows)

	ledger, err := s.GetLedger(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Nil(t, ledger)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertLedgerCreates(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT doc FROM campaign_ledgers .* FOR UPDATE`).
		WithArgs("camp-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO campaign_ledgers`).
		WithArgs("camp-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ledger, err := s.UpsertLedger(context.Background(), "camp-1", model.LedgerPatch{
		Stage: &model.Counts{TotalUploaded: ptr(42)},
	})
	require.NoError(t, err)
	require.NotNil(t, ledger.Primary.TotalUploaded)
	assert.Equal(t, 42, *ledger.Primary.TotalUploaded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetJobNotFound(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT doc FROM validation_jobs`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateJobTerminal(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	job := model.ValidationJob{
		ID:         "job-1",
		CampaignID: "camp-1",
		Status:     model.JobStatusFailed,
		CreatedAt:  time.Now().UTC(),
	}
	doc, err := json.Marshal(job)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT doc FROM validation_jobs .* FOR UPDATE`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))
	mock.ExpectRollback()

	err = s.UpdateJob(context.Background(), "job-1", JobPatch{Status: ptr(model.JobStatusCompleted)})
	require.ErrorIs(t, err, ErrJobTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}
