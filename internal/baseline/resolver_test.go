package baseline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirelens/calibration-cli/internal/model"
	"github.com/hirelens/calibration-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedBaseline(t *testing.T, s store.Store, dims model.Dimensions, mean, stddev float64, n int) {
	t.Helper()
	require.NoError(t, s.UpsertBaseline(context.Background(), &model.BaselineStat{
		Dimensions: dims,
		Mean:       mean,
		StdDev:     stddev,
		N:          n,
		WindowDays: 90,
		ComputedAt: time.Now().UTC(),
	}))
}

func TestFallbackChain(t *testing.T) {
	dims := model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe", IndustryCode: "fintech"}
	chain := fallbackChain(dims)

	require.Len(t, chain, 4)
	assert.Equal(t, dims, chain[0])
	assert.Equal(t, model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe"}, chain[1])
	assert.Equal(t, model.Dimensions{Version: "v1", Language: "en"}, chain[2])
	assert.Equal(t, model.Dimensions{Version: "v1"}, chain[3])
}

func TestFallbackChain_CollapsesBlankFields(t *testing.T) {
	// No industry in the request: the first two levels are the same tuple.
	chain := fallbackChain(model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe"})
	require.Len(t, chain, 3)

	chain = fallbackChain(model.Dimensions{Version: "v1"})
	require.Len(t, chain, 1)
}

func TestResolver_SpecificWins(t *testing.T) {
	s := newTestStore(t)
	dims := model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe", IndustryCode: "fintech"}
	seedBaseline(t, s, dims, 62, 10, 80)
	seedBaseline(t, s, model.Dimensions{Version: "v1"}, 55, 12, 40)

	res, err := NewResolver(s, 30, 200).Resolve(context.Background(), dims)
	require.NoError(t, err)
	assert.Equal(t, dims, res.UsedDims)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, 80, res.Stat.N)
}

func TestResolver_FallsBackPastThinCohort(t *testing.T) {
	s := newTestStore(t)
	dims := model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe", IndustryCode: "fintech"}
	seedBaseline(t, s, dims, 70, 8, 12) // below minN
	noIndustry := model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe"}
	seedBaseline(t, s, noIndustry, 61, 11, 95)

	res, err := NewResolver(s, 30, 200).Resolve(context.Background(), dims)
	require.NoError(t, err)
	assert.Equal(t, noIndustry, res.UsedDims)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, 61.0, res.Stat.Mean)
}

func TestResolver_LargerSampleBeatsSpecificity(t *testing.T) {
	s := newTestStore(t)
	dims := model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe", IndustryCode: "fintech"}
	seedBaseline(t, s, dims, 70, 8, 31) // just clears minN
	seedBaseline(t, s, model.Dimensions{Version: "v1"}, 58, 13, 180)

	res, err := NewResolver(s, 30, 200).Resolve(context.Background(), dims)
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, model.Dimensions{Version: "v1"}, res.UsedDims)
	assert.Equal(t, 180, res.Stat.N)
}

func TestResolver_MaxNCapTiesGoToMostSpecific(t *testing.T) {
	s := newTestStore(t)
	dims := model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe", IndustryCode: "fintech"}
	seedBaseline(t, s, dims, 70, 8, 150)
	seedBaseline(t, s, model.Dimensions{Version: "v1"}, 58, 13, 500)

	// Both cohorts exceed the cap, so their effective sizes tie and the
	// more specific tuple keeps the resolution.
	res, err := NewResolver(s, 30, 100).Resolve(context.Background(), dims)
	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, dims, res.UsedDims)
}

func TestResolver_InsufficientData(t *testing.T) {
	s := newTestStore(t)
	dims := model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe", IndustryCode: "fintech"}
	seedBaseline(t, s, dims, 70, 8, 5)
	seedBaseline(t, s, model.Dimensions{Version: "v1"}, 58, 13, 29)

	res, err := NewResolver(s, 30, 200).Resolve(context.Background(), dims)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestResolver_NoBaselinesAtAll(t *testing.T) {
	s := newTestStore(t)

	res, err := NewResolver(s, 30, 200).Resolve(context.Background(),
		model.Dimensions{Version: "v9", Language: "fr", PositionCode: "pm"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

// Resolve never hands back a cohort below the minimum sample size: either
// the resolution meets minN or the caller gets ErrInsufficientData.
func TestResolver_NeverReturnsBelowMinN(t *testing.T) {
	s := newTestStore(t)
	dims := model.Dimensions{Version: "v1", Language: "en", PositionCode: "swe", IndustryCode: "fintech"}

	for i, n := range []int{0, 1, 10, 29, 30, 31, 150, 400} {
		seedBaseline(t, s, dims, 60, 10, n)

		res, err := NewResolver(s, 30, 200).Resolve(context.Background(), dims)
		if err != nil {
			assert.ErrorIs(t, err, ErrInsufficientData, "case %d (n=%d)", i, n)
			continue
		}
		assert.GreaterOrEqual(t, res.Stat.N, 30, "case %d (n=%d)", i, n)
	}
}
