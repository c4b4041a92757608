package model

import "time"

// Outcome holds ground-truth employment facts for one assessment,
// recorded by HR staff at any point after the interview. The lifecycle
// booleans are nullable three-state values: nil means "not yet known".
type Outcome struct {
	AssessmentID      string    `json:"assessment_id"`
	Hired             *bool     `json:"hired,omitempty"`
	Started           *bool     `json:"started,omitempty"`
	StillEmployed30d  *bool     `json:"still_employed_30d,omitempty"`
	StillEmployed90d  *bool     `json:"still_employed_90d,omitempty"`
	PerformanceRating *int      `json:"performance_rating,omitempty"` // 1-5
	IncidentFlag      bool      `json:"incident_flag"`
	OutcomeSource     string    `json:"outcome_source,omitempty"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// Consistent checks the monotonic lifecycle invariant: a later stage may
// only be true if every earlier stage is true. Inconsistent outcomes are
// tolerated and processed as given; callers log them as data-quality
// warnings rather than rejecting the row.
func (o *Outcome) Consistent() bool {
	stages := []*bool{o.Hired, o.Started, o.StillEmployed30d, o.StillEmployed90d}
	for i := 1; i < len(stages); i++ {
		if isTrue(stages[i]) && !isTrue(stages[i-1]) {
			return false
		}
	}
	return true
}

func isTrue(b *bool) bool { return b != nil && *b }

// DecisionOutcome pairs an assessment with its outcome, when one exists.
// Outcome is nil for the common case of an assessment that never received
// ground truth; analyzers count those separately and exclude them from
// percentage denominators.
type DecisionOutcome struct {
	Assessment Assessment `json:"assessment"`
	Outcome    *Outcome   `json:"outcome,omitempty"`
}
