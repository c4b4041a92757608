// Package analytics holds the read-only aggregation layer: drift
// reporting, the decision/outcome confusion matrix, and calibration
// quality. Every report is a pure function over typed records pulled from
// the store, so the statistics are testable without a database.
package analytics

import (
	"github.com/hirelens/calibration-cli/internal/model"
)

// Outcome score anchors produced by the staircase below.
const (
	scoreNotHired     = 0
	scoreNeverStarted = 10
	scoreLeftBefore30 = 30
	scoreLeftBefore90 = 50
	scoreIncident     = 70
	scoreTopPerformer = 100
	scoreRetained     = 85
	scoreUnknown      = 50
)

// OutcomeScore maps ground-truth employment facts to a 0-100 score via a
// fixed staircase, first match wins. The ordering is a deliberate risk
// weighting and must not be rearranged: a long-retained employee with an
// incident scores below one without, even though both passed 90 days.
func OutcomeScore(o *model.Outcome) int {
	switch {
	case isFalse(o.Hired):
		return scoreNotHired
	case o.Hired == nil:
		// No hiring fact recorded at all: conservative midpoint.
		return scoreUnknown
	case !isTrue(o.Started):
		return scoreNeverStarted
	case !isTrue(o.StillEmployed30d):
		return scoreLeftBefore30
	case !isTrue(o.StillEmployed90d):
		return scoreLeftBefore90
	case o.IncidentFlag:
		return scoreIncident
	case o.PerformanceRating != nil && *o.PerformanceRating >= 4:
		return scoreTopPerformer
	default:
		return scoreRetained
	}
}

func isTrue(b *bool) bool  { return b != nil && *b }
func isFalse(b *bool) bool { return b != nil && !*b }
