package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrow-realty/listings-cli/internal/fault"
	"github.com/harrow-realty/listings-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM pipeline_runs WHERE id = \$1`).
		WithArgs(int64(42)).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO pipeline_runs`).
		WithArgs(int64(7), "ingestion", "pending", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))

	run, err := s.CreateRun(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), run.ID)
	assert.Equal(t, model.StageIngestion, run.CurrentStage)
	assert.Equal(t, model.StatusPending, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimStage_Success(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE pipeline_runs`).
		WithArgs("extraction", "in_progress", pgxmock.AnyArg(), int64(1),
			"pending", "failed", "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.ClaimStage(context.Background(), 1, model.StageExtraction)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimStage_InProgress_Conflicts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE pipeline_runs`).
		WithArgs("extraction", "in_progress", pgxmock.AnyArg(), int64(1),
			"pending", "failed", "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM pipeline_runs WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("in_progress"))

	err := s.ClaimStage(context.Background(), 1, model.StageExtraction)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimStage_RunMissing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE pipeline_runs`).
		WithArgs("ingestion", "in_progress", pgxmock.AnyArg(), int64(5),
			"pending", "failed", "completed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM pipeline_runs WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnError(pgx.ErrNoRows)

	err := s.ClaimStage(context.Background(), 5, model.StageIngestion)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteStage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	at := time.Now().UTC()
	mock.ExpectExec(`UPDATE pipeline_runs`).
		WithArgs(at, "completed", "search", pgxmock.AnyArg(), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompleteStage(context.Background(), 1, model.StageExtraction, at)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteStage_UnknownStage(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	err := s.CompleteStage(context.Background(), 1, model.Stage("bogus"), time.Now())
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindValidation))
}

func TestPostgresStore_FailStage_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE pipeline_runs`).
		WithArgs("failed", "search", "no listings host", pgxmock.AnyArg(), int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FailStage(context.Background(), 9, model.StageSearch, "no listings host")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkRankingsSent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE rankings SET sent_to_client = true`).
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	err := s.MarkRankingsSent(context.Background(), 3)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceListings_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM rankings WHERE pipeline_run_id = \$1`).
		WithArgs(int64(1)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM listings WHERE pipeline_run_id = \$1`).
		WithArgs(int64(1)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"listings"}, listingCopyColumns).WillReturnResult(1)
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT .+ FROM listings WHERE pipeline_run_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "external_id", "pipeline_run_id", "requirement_id", "address",
			"price", "bedrooms", "bathrooms", "sqft", "property_type",
			"description", "neighborhood", "year_built", "days_on_market",
			"listing_url", "image_url", "source", "created_at",
		}).AddRow(
			int64(10), "z-1", int64(1), int64(2), "12 Oak St",
			480000.0, int64(3), 2.0, int64(1500), "house",
			"charming", "Downtown", nil, nil,
			"https://example.com/z-1", "", "zillow", time.Now().UTC(),
		))

	out, err := s.ReplaceListings(context.Background(), 1, []model.Listing{
		{ExternalID: "z-1", RequirementID: 2, Address: "12 Oak St"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "12 Oak St", out[0].Address)
	assert.Nil(t, out[0].YearBuilt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceListings_RollsBackOnFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM rankings WHERE pipeline_run_id = \$1`).
		WithArgs(int64(1)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM listings WHERE pipeline_run_id = \$1`).
		WithArgs(int64(1)).
		WillReturnError(eris.New("connection lost"))
	mock.ExpectRollback()

	// A mid-sequence failure must not leave the run with its listings
	// cleared and nothing inserted.
	_, err := s.ReplaceListings(context.Background(), 1, []model.Listing{
		{ExternalID: "z-1", RequirementID: 2, Address: "12 Oak St"},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
