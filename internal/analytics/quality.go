package analytics

import (
	"fmt"

	"github.com/hirelens/calibration-cli/internal/alerting"
	"github.com/hirelens/calibration-cli/internal/config"
	"github.com/hirelens/calibration-cli/internal/model"
)

// scoreBucketBounds are the fixed calibrated-score ranges, low to high.
// The top range is the one the mismatch gate watches.
var scoreBucketBounds = []struct {
	label    string
	min, max float64
}{
	{"0-30", 0, 30},
	{"31-50", 31, 50},
	{"51-70", 51, 70},
	{"71-85", 71, 85},
	{"86-100", 86, 100},
}

// QualityBucket summarizes outcomes within one calibrated-score range.
// SuccessRate is the share with outcome score >= 50, in percent.
type QualityBucket struct {
	Range      string  `json:"range"`
	Count      int     `json:"count"`
	AvgOutcome float64 `json:"avg_outcome_score"`
	SuccessPct float64 `json:"success_pct"`
}

// CalibrationQuality correlates calibrated confidence with real outcomes.
type CalibrationQuality struct {
	Buckets []QualityBucket  `json:"buckets"`
	Alerts  []alerting.Alert `json:"alerts,omitempty"`
}

// BuildCalibrationQuality buckets each assessment with a linked outcome by
// its calibrated score (raw final score when calibration never ran) and
// checks the top bucket for the calibration-mismatch failure mode: high
// calibrated confidence paired with poor real outcomes. That mismatch is
// the most dangerous failure of the whole pipeline, hence critical.
func BuildCalibrationQuality(records []model.DecisionOutcome, cfg config.QualityConfig, rules alerting.RuleSet) *CalibrationQuality {
	type acc struct {
		count, success int
		scoreSum       int
	}
	accs := make([]acc, len(scoreBucketBounds))

	for i := range records {
		rec := &records[i]
		if rec.Outcome == nil {
			continue
		}
		idx := scoreBucketIndex(rec.Assessment.EffectiveScore())
		score := OutcomeScore(rec.Outcome)

		accs[idx].count++
		accs[idx].scoreSum += score
		if score >= 50 {
			accs[idx].success++
		}
	}

	quality := &CalibrationQuality{Buckets: make([]QualityBucket, len(scoreBucketBounds))}
	for i, a := range accs {
		b := QualityBucket{Range: scoreBucketBounds[i].label, Count: a.count}
		if a.count > 0 {
			b.AvgOutcome = float64(a.scoreSum) / float64(a.count)
			b.SuccessPct = 100 * float64(a.success) / float64(a.count)
		}
		quality.Buckets[i] = b
	}

	top := quality.Buckets[len(quality.Buckets)-1]
	if a := rules[alerting.AlertCalibrationMismatch].Evaluate(top.SuccessPct, top.Count); a != nil {
		a.Message = fmt.Sprintf(
			"top calibrated bucket (86-100) has %.1f%% success over %d outcomes",
			top.SuccessPct, top.Count)
		quality.Alerts = append(quality.Alerts, *a)
	}
	return quality
}

func scoreBucketIndex(score float64) int {
	for i, b := range scoreBucketBounds[:len(scoreBucketBounds)-1] {
		if score <= b.max {
			return i
		}
	}
	return len(scoreBucketBounds) - 1
}
