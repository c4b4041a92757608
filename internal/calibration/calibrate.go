// Package calibration rescales raw interview scores against their cohort
// baseline. The mapping is a pure function: z-score against the baseline,
// then a linear rescale anchored so the cohort mean lands on 50.
package calibration

import (
	"github.com/hirelens/calibration-cli/internal/model"
)

// Result pairs the two calibrated fields, which are always written together.
type Result struct {
	ZScore          float64 `json:"z_score"`
	CalibratedScore float64 `json:"calibrated_score"`
}

// Calibrate maps rawScore onto the 0-100 calibrated scale using stat.
// A degenerate baseline (stddev 0) yields z=0 and therefore the midpoint,
// never a division by zero. zScale is the slope of the linear rescale and a
// deployment-tunable policy parameter; the anchor at 50 for z=0 is not.
func Calibrate(rawScore float64, stat *model.BaselineStat, zScale float64) Result {
	var z float64
	if !stat.Degenerate() {
		z = (rawScore - stat.Mean) / stat.StdDev
	}
	return Result{
		ZScore:          z,
		CalibratedScore: clamp(50+z*zScale, 0, 100),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
