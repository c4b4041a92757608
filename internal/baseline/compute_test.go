package baseline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hirelens/calibration-cli/internal/model"
)

func TestCompute_EmptySample(t *testing.T) {
	dims := model.Dimensions{Version: "v1"}
	stat := Compute(dims, nil, 90, time.Now())

	assert.True(t, stat.Empty())
	assert.Equal(t, 0, stat.N)
	assert.Equal(t, 0.0, stat.Mean)
	assert.Equal(t, 0.0, stat.StdDev)
	assert.Equal(t, 90, stat.WindowDays)
}

func TestCompute_SingleSample(t *testing.T) {
	stat := Compute(model.Dimensions{Version: "v1"}, []float64{73.5}, 90, time.Now())

	assert.Equal(t, 1, stat.N)
	assert.Equal(t, 73.5, stat.Mean)
	assert.Equal(t, 0.0, stat.StdDev, "fewer than two samples yields stddev 0")
	assert.True(t, stat.Degenerate())
}

func TestCompute_PopulationStdDev(t *testing.T) {
	// Classic population-stddev example: mean 5, stddev exactly 2.
	scores := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	stat := Compute(model.Dimensions{Version: "v1", Language: "en"}, scores, 90, time.Now())

	assert.Equal(t, 8, stat.N)
	assert.InDelta(t, 5.0, stat.Mean, 1e-9)
	assert.InDelta(t, 2.0, stat.StdDev, 1e-9)
	assert.False(t, stat.Degenerate())
}

func TestCompute_IdenticalScores(t *testing.T) {
	stat := Compute(model.Dimensions{Version: "v1"}, []float64{60, 60, 60, 60}, 30, time.Now())

	assert.Equal(t, 4, stat.N)
	assert.Equal(t, 60.0, stat.Mean)
	assert.Equal(t, 0.0, stat.StdDev)
	assert.True(t, stat.Degenerate())
}
