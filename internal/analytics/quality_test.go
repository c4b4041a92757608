package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirelens/calibration-cli/internal/alerting"
	"github.com/hirelens/calibration-cli/internal/model"
)

func TestScoreBucketIndex(t *testing.T) {
	assert.Equal(t, 0, scoreBucketIndex(0))
	assert.Equal(t, 0, scoreBucketIndex(30))
	assert.Equal(t, 1, scoreBucketIndex(31))
	assert.Equal(t, 1, scoreBucketIndex(50))
	assert.Equal(t, 2, scoreBucketIndex(70))
	assert.Equal(t, 3, scoreBucketIndex(85))
	assert.Equal(t, 4, scoreBucketIndex(86))
	assert.Equal(t, 4, scoreBucketIndex(100))
}

func TestBuildCalibrationQuality_Buckets(t *testing.T) {
	records := []model.DecisionOutcome{
		record(model.DecisionHire, 90, 100),
		record(model.DecisionHire, 95, 85),
		record(model.DecisionHold, 60, 50),
		record(model.DecisionReject, 20, 0),
	}
	// No outcome: excluded entirely.
	records = append(records, model.DecisionOutcome{
		Assessment: model.Assessment{ID: "no-outcome", RawDecision: model.DecisionHire},
	})

	quality := BuildCalibrationQuality(records, qualityConfig(), driftRules())
	require.Len(t, quality.Buckets, 5)

	top := quality.Buckets[4]
	assert.Equal(t, "86-100", top.Range)
	assert.Equal(t, 2, top.Count)
	assert.InDelta(t, 92.5, top.AvgOutcome, 1e-9)
	assert.InDelta(t, 100.0, top.SuccessPct, 1e-9)

	assert.Equal(t, 1, quality.Buckets[2].Count)
	assert.Equal(t, 1, quality.Buckets[0].Count)
}

func TestBuildCalibrationQuality_UsesRawScoreWhenUncalibrated(t *testing.T) {
	rec := model.DecisionOutcome{
		Assessment: model.Assessment{ID: "raw-only", RawFinalScore: 90, RawDecision: model.DecisionHire},
		Outcome:    outcomeForScore(100),
	}
	quality := BuildCalibrationQuality([]model.DecisionOutcome{rec}, qualityConfig(), driftRules())
	assert.Equal(t, 1, quality.Buckets[4].Count)
}

func TestBuildCalibrationQuality_MismatchAlert(t *testing.T) {
	// Top bucket, 5 samples, 3 successes = 60% < 70%: critical.
	var records []model.DecisionOutcome
	for _, score := range []int{85, 100, 50, 30, 10} {
		records = append(records, record(model.DecisionHire, 92, score))
	}

	quality := BuildCalibrationQuality(records, qualityConfig(), driftRules())
	require.Len(t, quality.Alerts, 1)
	assert.Equal(t, alerting.AlertCalibrationMismatch, quality.Alerts[0].Type)
	assert.Equal(t, alerting.SeverityCritical, quality.Alerts[0].Severity)
}

func TestBuildCalibrationQuality_MismatchSampleGate(t *testing.T) {
	// Same 60%-ish failure rate but only 4 samples: stays quiet.
	var records []model.DecisionOutcome
	for _, score := range []int{85, 50, 30, 10} {
		records = append(records, record(model.DecisionHire, 92, score))
	}

	quality := BuildCalibrationQuality(records, qualityConfig(), driftRules())
	assert.Empty(t, quality.Alerts)
}

func TestBuildCalibrationQuality_TopBucketHealthy(t *testing.T) {
	// 5 samples at 80% success: above the 70% floor, no alert.
	var records []model.DecisionOutcome
	for _, score := range []int{85, 100, 85, 100, 30} {
		records = append(records, record(model.DecisionHire, 92, score))
	}

	quality := BuildCalibrationQuality(records, qualityConfig(), driftRules())
	assert.Empty(t, quality.Alerts)
}
