package baseline

import (
	"math"
	"time"

	"github.com/hirelens/calibration-cli/internal/model"
)

// Compute builds a BaselineStat from a raw score sample. The sample is
// whatever the store handed back for the dimension tuple: already windowed
// and capped, newest first. Population stddev; fewer than two samples means
// stddev 0. An empty sample produces the n=0 sentinel stat, which is stored
// but never resolved directly.
func Compute(dims model.Dimensions, scores []float64, windowDays int, now time.Time) *model.BaselineStat {
	stat := &model.BaselineStat{
		Dimensions: dims,
		N:          len(scores),
		WindowDays: windowDays,
		ComputedAt: now.UTC(),
	}
	if len(scores) == 0 {
		return stat
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	stat.Mean = sum / float64(len(scores))

	if len(scores) < 2 {
		return stat
	}

	var sqSum float64
	for _, s := range scores {
		d := s - stat.Mean
		sqSum += d * d
	}
	stat.StdDev = math.Sqrt(sqSum / float64(len(scores)))
	return stat
}
