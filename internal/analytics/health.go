package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hirelens/calibration-cli/internal/alerting"
	"github.com/hirelens/calibration-cli/internal/config"
	"github.com/hirelens/calibration-cli/internal/model"
	"github.com/hirelens/calibration-cli/internal/store"
)

// OutcomeBucket groups outcome scores for the confusion matrix.
type OutcomeBucket string

const (
	BucketPoor   OutcomeBucket = "poor"   // 0-30
	BucketWeak   OutcomeBucket = "weak"   // 31-50
	BucketGood   OutcomeBucket = "good"   // 51-70
	BucketStrong OutcomeBucket = "strong" // 71-100
)

// OutcomeBuckets is the fixed column order of the matrix.
var OutcomeBuckets = []OutcomeBucket{BucketPoor, BucketWeak, BucketGood, BucketStrong}

func bucketOutcomeScore(score int) OutcomeBucket {
	switch {
	case score <= 30:
		return BucketPoor
	case score <= 50:
		return BucketWeak
	case score <= 70:
		return BucketGood
	default:
		return BucketStrong
	}
}

// MatrixRow is one decision's outcome distribution: counts plus row
// percentages over that decision's assessments with ground truth.
type MatrixRow struct {
	Counts map[OutcomeBucket]int     `json:"counts"`
	Pct    map[OutcomeBucket]float64 `json:"pct"`
	Total  int                       `json:"total"`
}

// PrecisionMetrics are the derived decision-quality percentages. A nil
// value means the denominator was empty, which is reported as unknown
// rather than zero.
type PrecisionMetrics struct {
	HirePrecision           *float64 `json:"hire_precision"`
	HireStrongPrecision     *float64 `json:"hire_strong_precision"`
	RejectFalseNegativeRate *float64 `json:"reject_false_negative_rate"`
	HoldConversion          *float64 `json:"hold_conversion"`
}

// ModelHealth is the full decision-vs-outcome report.
type ModelHealth struct {
	Matrix      map[model.Decision]MatrixRow `json:"decision_outcome_matrix"`
	Precision   PrecisionMetrics             `json:"precision_metrics"`
	Quality     *CalibrationQuality          `json:"calibration_quality"`
	ValidSample int                          `json:"valid_sample"`
	Unknown     int                          `json:"unknown"`
	Alerts      []alerting.Alert             `json:"alerts,omitempty"`
}

// HealthAnalyzer cross-tabulates decisions against real outcomes.
type HealthAnalyzer struct {
	store   store.Store
	cfg     config.HealthConfig
	quality config.QualityConfig
	rules   alerting.RuleSet
}

func NewHealthAnalyzer(st store.Store, cfg config.HealthConfig, quality config.QualityConfig, rules alerting.RuleSet) *HealthAnalyzer {
	return &HealthAnalyzer{store: st, cfg: cfg, quality: quality, rules: rules}
}

// Report builds the model-health report over assessments matching the
// filter. A failure to match anything degrades to an empty-but-valid
// report, never an error.
func (h *HealthAnalyzer) Report(ctx context.Context, filter store.AssessmentFilter) (*ModelHealth, error) {
	records, err := h.store.ListDecisionOutcomes(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "analytics: list decision outcomes")
	}
	return BuildModelHealth(records, h.cfg, h.quality, h.rules), nil
}

// Name implements alerting.Source.
func (h *HealthAnalyzer) Name() string { return "model_health" }

// CheckAlerts implements alerting.Source for the background checker.
func (h *HealthAnalyzer) CheckAlerts(ctx context.Context, since time.Time) ([]alerting.Alert, error) {
	report, err := h.Report(ctx, store.AssessmentFilter{Since: since})
	if err != nil {
		return nil, err
	}
	return report.Alerts, nil
}

// BuildModelHealth computes the 3x4 confusion matrix, precision metrics and
// calibration quality from in-memory records. Assessments without a linked
// outcome are tallied as unknown and excluded from every denominator.
func BuildModelHealth(records []model.DecisionOutcome, cfg config.HealthConfig, quality config.QualityConfig, rules alerting.RuleSet) *ModelHealth {
	report := &ModelHealth{
		Matrix: map[model.Decision]MatrixRow{
			model.DecisionHire:   newMatrixRow(),
			model.DecisionHold:   newMatrixRow(),
			model.DecisionReject: newMatrixRow(),
		},
	}

	type tally struct {
		total, atLeast50, atLeast70 int
		holdConverted               int
	}
	tallies := map[model.Decision]*tally{
		model.DecisionHire:   {},
		model.DecisionHold:   {},
		model.DecisionReject: {},
	}

	for i := range records {
		rec := &records[i]
		if rec.Outcome == nil {
			report.Unknown++
			continue
		}
		decision := rec.Assessment.EffectiveDecision()
		if !decision.Known() {
			report.Unknown++
			continue
		}
		report.ValidSample++

		score := OutcomeScore(rec.Outcome)
		row := report.Matrix[decision]
		row.Counts[bucketOutcomeScore(score)]++
		row.Total++
		report.Matrix[decision] = row

		tl := tallies[decision]
		tl.total++
		if score >= 50 {
			tl.atLeast50++
		}
		if score >= 70 {
			tl.atLeast70++
		}
		if decision == model.DecisionHold && isTrue(rec.Outcome.Hired) && score >= 50 {
			tl.holdConverted++
		}
	}

	for decision, row := range report.Matrix {
		if row.Total == 0 {
			continue
		}
		for _, b := range OutcomeBuckets {
			row.Pct[b] = 100 * float64(row.Counts[b]) / float64(row.Total)
		}
		report.Matrix[decision] = row
	}

	report.Precision = PrecisionMetrics{
		HirePrecision:           pct(tallies[model.DecisionHire].atLeast50, tallies[model.DecisionHire].total),
		HireStrongPrecision:     pct(tallies[model.DecisionHire].atLeast70, tallies[model.DecisionHire].total),
		RejectFalseNegativeRate: pct(tallies[model.DecisionReject].atLeast70, tallies[model.DecisionReject].total),
		HoldConversion:          pct(tallies[model.DecisionHold].holdConverted, tallies[model.DecisionHold].total),
	}

	report.Quality = BuildCalibrationQuality(records, quality, rules)
	report.Alerts = healthAlerts(report, rules)
	return report
}

func healthAlerts(report *ModelHealth, rules alerting.RuleSet) []alerting.Alert {
	var alerts []alerting.Alert

	if p := report.Precision.HirePrecision; p != nil {
		if a := rules[alerting.AlertLowHirePrecision].Evaluate(*p, report.ValidSample); a != nil {
			a.Message = fmt.Sprintf("hire precision %.1f%% over %d assessments with outcomes",
				*p, report.ValidSample)
			alerts = append(alerts, *a)
		}
	}
	if p := report.Precision.RejectFalseNegativeRate; p != nil {
		if a := rules[alerting.AlertRejectFalseNegatives].Evaluate(*p, report.ValidSample); a != nil {
			a.Message = fmt.Sprintf("%.1f%% of rejected candidates scored as likely successes", *p)
			alerts = append(alerts, *a)
		}
	}
	if a := rules[alerting.AlertLowSample].Evaluate(float64(report.ValidSample), 0); a != nil {
		a.Message = fmt.Sprintf("only %d assessments have linked outcomes", report.ValidSample)
		alerts = append(alerts, *a)
	}

	if report.Quality != nil {
		alerts = append(alerts, report.Quality.Alerts...)
	}
	return alerts
}

func newMatrixRow() MatrixRow {
	return MatrixRow{
		Counts: make(map[OutcomeBucket]int),
		Pct:    make(map[OutcomeBucket]float64),
	}
}

func pct(numerator, denominator int) *float64 {
	if denominator == 0 {
		return nil
	}
	v := 100 * float64(numerator) / float64(denominator)
	return &v
}
