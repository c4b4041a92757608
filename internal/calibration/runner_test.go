package calibration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirelens/calibration-cli/internal/config"
	"github.com/hirelens/calibration-cli/internal/model"
	"github.com/hirelens/calibration-cli/internal/store"
)

func newRunnerTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func runnerConfig() config.CalibrationConfig {
	return config.CalibrationConfig{
		Version:    "v1",
		MinN:       3,
		MaxN:       200,
		WindowDays: 90,
		ZScale:     15,
		BatchSize:  2,
		Workers:    2,
	}
}

func seedRunnerData(t *testing.T, s store.Store, dims model.Dimensions, scores []float64) {
	t.Helper()
	now := time.Now().UTC()
	for i, score := range scores {
		require.NoError(t, s.InsertAssessment(context.Background(), &model.Assessment{
			ID:            fmt.Sprintf("asmt-%d", i),
			Dimensions:    dims,
			RawFinalScore: score,
			RawDecision:   model.DecisionHold,
			CompletedAt:   now.Add(-time.Duration(i) * time.Hour),
		}))
	}
}

func TestRunner_CalibratesBacklog(t *testing.T) {
	s := newRunnerTestStore(t)
	dims := model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe"}
	seedRunnerData(t, s, dims, []float64{50, 60, 70, 80, 90})

	require.NoError(t, s.UpsertBaseline(context.Background(), &model.BaselineStat{
		Dimensions: dims, Mean: 70, StdDev: 10, N: 50,
		WindowDays: 90, ComputedAt: time.Now().UTC(),
	}))

	stats, err := NewRunner(s, runnerConfig()).Run(context.Background(), false, store.AssessmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Calibrated)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 0, stats.UsedFallback)

	a, err := s.GetAssessment(context.Background(), "asmt-0")
	require.NoError(t, err)
	require.True(t, a.Calibrated())
	assert.InDelta(t, -2.0, *a.ZScore, 1e-9)
	assert.InDelta(t, 20.0, *a.CalibratedScore, 1e-9)
	assert.Equal(t, "v1", a.CalibrationVersion)
}

func TestRunner_SkipsWhenNoBaselineQualifies(t *testing.T) {
	s := newRunnerTestStore(t)
	dims := model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe"}
	seedRunnerData(t, s, dims, []float64{50, 60})

	// Baseline exists but is below minN, and there is no fallback.
	require.NoError(t, s.UpsertBaseline(context.Background(), &model.BaselineStat{
		Dimensions: dims, Mean: 55, StdDev: 5, N: 2,
		WindowDays: 90, ComputedAt: time.Now().UTC(),
	}))

	stats, err := NewRunner(s, runnerConfig()).Run(context.Background(), false, store.AssessmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Calibrated)
	assert.Equal(t, 2, stats.Skipped)

	a, err := s.GetAssessment(context.Background(), "asmt-0")
	require.NoError(t, err)
	assert.False(t, a.Calibrated(), "skipped assessments keep raw-only fields")
}

func TestRunner_FallbackCounted(t *testing.T) {
	s := newRunnerTestStore(t)
	dims := model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe", IndustryCode: "fintech"}
	seedRunnerData(t, s, dims, []float64{65})

	// Only the version-global baseline qualifies.
	require.NoError(t, s.UpsertBaseline(context.Background(), &model.BaselineStat{
		Dimensions: model.Dimensions{Version: "v1"}, Mean: 60, StdDev: 10, N: 40,
		WindowDays: 90, ComputedAt: time.Now().UTC(),
	}))

	stats, err := NewRunner(s, runnerConfig()).Run(context.Background(), false, store.AssessmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Calibrated)
	assert.Equal(t, 1, stats.UsedFallback)
}

func TestRunner_SkippedHeadDoesNotStrandNewerRows(t *testing.T) {
	s := newRunnerTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// A full batch of old rows with no baseline sits at the head of the
	// backlog; the runner must still reach past them.
	noBaseline := model.Dimensions{Version: "v1", Language: "de", PositionCode: "pm"}
	for i := 0; i < 2; i++ {
		require.NoError(t, s.InsertAssessment(ctx, &model.Assessment{
			ID:            fmt.Sprintf("old-%d", i),
			Dimensions:    noBaseline,
			RawFinalScore: 55,
			RawDecision:   model.DecisionHold,
			CompletedAt:   now.Add(-time.Duration(48+i) * time.Hour),
		}))
	}

	dims := model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe"}
	require.NoError(t, s.InsertAssessment(ctx, &model.Assessment{
		ID:            "new-0",
		Dimensions:    dims,
		RawFinalScore: 80,
		RawDecision:   model.DecisionHold,
		CompletedAt:   now,
	}))
	require.NoError(t, s.UpsertBaseline(ctx, &model.BaselineStat{
		Dimensions: dims, Mean: 70, StdDev: 10, N: 50,
		WindowDays: 90, ComputedAt: now,
	}))

	// BatchSize 2 makes the first batch entirely skips.
	stats, err := NewRunner(s, runnerConfig()).Run(ctx, false, store.AssessmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Calibrated)
	assert.Equal(t, 2, stats.Skipped)

	a, err := s.GetAssessment(ctx, "new-0")
	require.NoError(t, err)
	require.True(t, a.Calibrated())
	assert.InDelta(t, 1.0, *a.ZScore, 1e-9)
}

func TestRunner_SecondRunIsNoOp(t *testing.T) {
	s := newRunnerTestStore(t)
	dims := model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe"}
	seedRunnerData(t, s, dims, []float64{50, 60, 70})

	require.NoError(t, s.UpsertBaseline(context.Background(), &model.BaselineStat{
		Dimensions: dims, Mean: 60, StdDev: 8, N: 30,
		WindowDays: 90, ComputedAt: time.Now().UTC(),
	}))

	r := NewRunner(s, runnerConfig())
	first, err := r.Run(context.Background(), false, store.AssessmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, first.Calibrated)

	second, err := r.Run(context.Background(), false, store.AssessmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Calibrated, "calibrated fields are written at most once")
}

func TestRunner_RecalibrateRewrites(t *testing.T) {
	s := newRunnerTestStore(t)
	dims := model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe"}
	seedRunnerData(t, s, dims, []float64{70})

	require.NoError(t, s.UpsertBaseline(context.Background(), &model.BaselineStat{
		Dimensions: dims, Mean: 70, StdDev: 10, N: 30,
		WindowDays: 90, ComputedAt: time.Now().UTC(),
	}))

	r := NewRunner(s, runnerConfig())
	_, err := r.Run(context.Background(), false, store.AssessmentFilter{})
	require.NoError(t, err)

	// The cohort moved; recalibration picks up the new baseline.
	require.NoError(t, s.UpsertBaseline(context.Background(), &model.BaselineStat{
		Dimensions: dims, Mean: 60, StdDev: 10, N: 35,
		WindowDays: 90, ComputedAt: time.Now().UTC(),
	}))

	stats, err := r.Run(context.Background(), true, store.AssessmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Cleared)
	assert.Equal(t, 1, stats.Calibrated)

	a, err := s.GetAssessment(context.Background(), "asmt-0")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, *a.ZScore, 1e-9)
	assert.InDelta(t, 65.0, *a.CalibratedScore, 1e-9)
}
