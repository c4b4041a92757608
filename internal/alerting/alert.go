// Package alerting holds the shared threshold engine and alert delivery.
// Every analyzer feeds its metrics through the same Rule evaluation so
// severities and thresholds live in one place.
package alerting

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of alert.
type Type string

const (
	AlertHighReject           Type = "high_reject_share"
	AlertLowHire              Type = "low_hire_share"
	AlertScoreDrift           Type = "score_drift"
	AlertCriticalFlag         Type = "critical_flag"
	AlertIncompleteFlags      Type = "incomplete_flag_share"
	AlertLowHirePrecision     Type = "low_hire_precision"
	AlertRejectFalseNegatives Type = "reject_false_negatives"
	AlertLowSample            Type = "low_sample_size"
	AlertCalibrationMismatch  Type = "calibration_mismatch"
	AlertNoData               Type = "no_data"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a single triggered alert, shaped for webhook delivery. ID lets
// the receiving side dedupe redeliveries.
type Alert struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Comparison selects how a measured value is tested against the threshold.
// All comparisons are strict: a value exactly at the threshold never fires.
type Comparison string

const (
	CompareGreater    Comparison = "gt"
	CompareLess       Comparison = "lt"
	CompareAbsGreater Comparison = "abs_gt"
)

// Rule is one configured threshold. MinSample, when set, gates the rule so
// it stays quiet on windows too small to be meaningful.
type Rule struct {
	Type      Type       `yaml:"type"`
	Severity  Severity   `yaml:"severity"`
	Compare   Comparison `yaml:"compare"`
	Threshold float64    `yaml:"threshold"`
	MinSample int        `yaml:"min_sample,omitempty"`
}

// Evaluate tests value (with its sample size) against the rule. Returns nil
// when the rule does not fire.
func (r Rule) Evaluate(value float64, sample int) *Alert {
	if r.MinSample > 0 && sample < r.MinSample {
		return nil
	}

	var fired bool
	switch r.Compare {
	case CompareGreater:
		fired = value > r.Threshold
	case CompareLess:
		fired = value < r.Threshold
	case CompareAbsGreater:
		fired = math.Abs(value) > r.Threshold
	}
	if !fired {
		return nil
	}

	return &Alert{
		ID:       uuid.NewString(),
		Type:     r.Type,
		Severity: r.Severity,
		Message: fmt.Sprintf("%s: value %.2f crossed threshold %.2f (%s)",
			r.Type, value, r.Threshold, r.Compare),
		Details: map[string]any{
			"value":     value,
			"threshold": r.Threshold,
			"sample":    sample,
		},
		Timestamp: time.Now().UTC(),
	}
}
