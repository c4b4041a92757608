package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirelens/calibration-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetBaseline_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT version, language, position_code, industry_code, mean, stddev, n, window_days, computed_at`).
		WithArgs("v1", "en", "swe", "fintech").
		WillReturnError(pgx.ErrNoRows)

	stat, err := s.GetBaseline(context.Background(), model.Dimensions{
		Version: "v1", Language: "en", PositionCode: "swe", IndustryCode: "fintech",
	})
	require.NoError(t, err)
	assert.Nil(t, stat)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBaseline_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	computedAt := time.Now().UTC()

	mock.ExpectQuery(`SELECT version, language, position_code, industry_code, mean, stddev, n, window_days, computed_at`).
		WithArgs("v1", "en", "swe", "").
		WillReturnRows(pgxmock.NewRows([]string{
			"version", "language", "position_code", "industry_code", "mean", "stddev", "n", "window_days", "computed_at",
		}).AddRow("v1", "en", "swe", "", 62.5, 11.2, 84, 90, computedAt))

	stat, err := s.GetBaseline(context.Background(), model.Dimensions{
		Version: "v1", Language: "en", PositionCode: "swe",
	})
	require.NoError(t, err)
	require.NotNil(t, stat)
	assert.Equal(t, 62.5, stat.Mean)
	assert.Equal(t, 84, stat.N)
	assert.Equal(t, 90, stat.WindowDays)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertBaseline(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO baseline_stats .* ON CONFLICT`).
		WithArgs("v1", "en", "swe", "", 60.0, 10.0, 42, 90, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertBaseline(context.Background(), &model.BaselineStat{
		Dimensions: model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe"},
		Mean:       60.0,
		StdDev:     10.0,
		N:          42,
		WindowDays: 90,
		ComputedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetCalibration_AlreadyCalibrated(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE assessments SET z_score = \$1, calibrated_score = \$2`).
		WithArgs(0.5, 57.5, "v1", "asmt-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	wrote, err := s.SetCalibration(context.Background(), "asmt-1", 0.5, 57.5, "v1")
	require.NoError(t, err)
	assert.False(t, wrote, "second calibration attempt must be a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetCalibration_Writes(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE assessments SET z_score = \$1, calibrated_score = \$2`).
		WithArgs(-1.2, 32.0, "v1", "asmt-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	wrote, err := s.SetCalibration(context.Background(), "asmt-2", -1.2, 32.0, "v1")
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOutcome_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT assessment_id, hired, started`).
		WithArgs("asmt-9").
		WillReturnError(pgx.ErrNoRows)

	o, err := s.GetOutcome(context.Background(), "asmt-9")
	require.NoError(t, err)
	assert.Nil(t, o)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SampleScores(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Now().UTC().AddDate(0, 0, -90)

	mock.ExpectQuery(`SELECT raw_final_score FROM assessments`).
		WithArgs(since, "v1", "en", 200).
		WillReturnRows(pgxmock.NewRows([]string{"raw_final_score"}).
			AddRow(71.0).AddRow(55.5).AddRow(63.2))

	scores, err := s.SampleScores(context.Background(), model.Dimensions{Version: "v1", Language: "en"}, since, 200)
	require.NoError(t, err)
	assert.Equal(t, []float64{71.0, 55.5, 63.2}, scores)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BulkUpsertOutcomes_Empty(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	n, err := s.BulkUpsertOutcomes(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
