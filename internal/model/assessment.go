package model

import (
	"time"
)

// Decision is a hiring decision emitted by the decision engine or policy layer.
type Decision string

const (
	DecisionHire   Decision = "HIRE"
	DecisionHold   Decision = "HOLD"
	DecisionReject Decision = "REJECT"
)

// Known reports whether d is one of the three supported decisions.
func (d Decision) Known() bool {
	switch d {
	case DecisionHire, DecisionHold, DecisionReject:
		return true
	}
	return false
}

// FlagSeverity classifies how serious a risk flag is.
type FlagSeverity string

const (
	SeverityInfo     FlagSeverity = "info"
	SeverityWarning  FlagSeverity = "warning"
	SeverityCritical FlagSeverity = "critical"
)

// RiskFlag is a single risk signal attached to an assessment by the
// upstream decision engine. Order within an assessment is preserved.
type RiskFlag struct {
	Code     string       `json:"code"`
	Severity FlagSeverity `json:"severity"`
}

// Dimensions identifies the cohort an assessment belongs to. An empty
// field means "any" and is how wildcard baseline rows are keyed.
type Dimensions struct {
	Version      string `json:"version"`
	Language     string `json:"language"`
	PositionCode string `json:"position_code"`
	IndustryCode string `json:"industry_code,omitempty"`
}

// Key returns a stable string form of the tuple, used for logging and
// as a map key in aggregations.
func (d Dimensions) Key() string {
	return d.Version + "/" + d.Language + "/" + d.PositionCode + "/" + d.IndustryCode
}

// Empty reports whether every field is blank, i.e. the tuple matches
// everything.
func (d Dimensions) Empty() bool {
	return d == Dimensions{}
}

// Assessment is one completed interview with its raw scoring result and,
// once the calibration job has run, the cohort-relative calibrated fields.
//
// Raw fields are immutable after completion. ZScore and CalibratedScore
// are set together exactly once (or both stay nil), and FinalDecision is
// set only after the external policy layer runs.
type Assessment struct {
	ID                 string             `json:"id"`
	Dimensions         Dimensions         `json:"dimensions"`
	RawFinalScore      float64            `json:"raw_final_score"`
	RawDecision        Decision           `json:"raw_decision"`
	CompetencyScores   map[string]float64 `json:"competency_scores,omitempty"`
	RiskFlags          []RiskFlag         `json:"risk_flags,omitempty"`
	CalibrationVersion string             `json:"calibration_version,omitempty"`
	PolicyVersion      string             `json:"policy_version,omitempty"`
	ZScore             *float64           `json:"z_score,omitempty"`
	CalibratedScore    *float64           `json:"calibrated_score,omitempty"`
	PolicyCode         string             `json:"policy_code,omitempty"`
	FinalDecision      Decision           `json:"final_decision,omitempty"`
	DecisionReason     string             `json:"decision_reason,omitempty"`
	CompletedAt        time.Time          `json:"completed_at"`
}

// Calibrated reports whether the calibration fields have been populated.
func (a *Assessment) Calibrated() bool {
	return a.ZScore != nil && a.CalibratedScore != nil
}

// EffectiveScore returns the calibrated score when present, falling back
// to the raw final score for assessments that were never calibrated.
func (a *Assessment) EffectiveScore() float64 {
	if a.CalibratedScore != nil {
		return *a.CalibratedScore
	}
	return a.RawFinalScore
}

// EffectiveDecision returns the final decision when the policy layer has
// run, otherwise the raw decision.
func (a *Assessment) EffectiveDecision() Decision {
	if a.FinalDecision != "" {
		return a.FinalDecision
	}
	return a.RawDecision
}
