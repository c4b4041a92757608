package model

import "time"

// BaselineStat is the rolling statistic for one dimension tuple. Exactly
// one row exists per key; recomputation replaces it in place. Stats with
// N below the configured minimum are not used directly -- the fallback
// resolver relaxes the tuple instead.
type BaselineStat struct {
	Dimensions Dimensions `json:"dimensions"`
	Mean       float64    `json:"mean"`
	StdDev     float64    `json:"stddev"`
	N          int        `json:"n"`
	WindowDays int        `json:"window_days"`
	ComputedAt time.Time  `json:"computed_at"`
}

// Empty reports whether this is the zero-sample sentinel written when a
// tuple had no completed assessments in its window.
func (b *BaselineStat) Empty() bool { return b.N == 0 }

// Degenerate reports whether the stat has no spread. Calibration maps
// degenerate stats to a z-score of zero instead of dividing by zero.
func (b *BaselineStat) Degenerate() bool { return b.StdDev == 0 }
