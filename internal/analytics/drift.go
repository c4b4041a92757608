package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hirelens/calibration-cli/internal/alerting"
	"github.com/hirelens/calibration-cli/internal/config"
	"github.com/hirelens/calibration-cli/internal/model"
	"github.com/hirelens/calibration-cli/internal/store"
)

// FlagCount is one risk-flag frequency entry, ranked descending with ties
// broken by which code appeared first in the window.
type FlagCount struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// DayCount is the per-day decision breakdown within the window.
type DayCount struct {
	Date  string                 `json:"date"`
	Total int                    `json:"total"`
	By    map[model.Decision]int `json:"by_decision"`
}

// DriftReport aggregates a trailing window of decisions. Percentage maps
// always carry the three known decisions; assessments with an unknown
// decision are counted under their raw value in ByDecision but folded into
// HOLD for percentage math.
type DriftReport struct {
	WindowDays    int                        `json:"window_days"`
	Total         int                        `json:"total"`
	ByDecision    map[string]int             `json:"by_decision"`
	ByDecisionPct map[model.Decision]float64 `json:"by_decision_pct"`
	AvgRawScore   float64                    `json:"avg_raw_score"`
	AvgCalibrated float64                    `json:"avg_calibrated_score"`
	AvgZScore     float64                    `json:"avg_z_score"`
	CalibratedN   int                        `json:"calibrated_n"`
	TopRiskFlags  []FlagCount                `json:"top_risk_flags"`
	ByIndustry    map[string]int             `json:"by_industry"`
	Daily         []DayCount                 `json:"daily_breakdown"`
	Alerts        []alerting.Alert           `json:"alerts,omitempty"`
	Message       string                     `json:"message,omitempty"`
}

// DriftReporter pulls a window of assessments and summarizes it.
type DriftReporter struct {
	store store.Store
	cfg   config.DriftConfig
	rules alerting.RuleSet
}

func NewDriftReporter(st store.Store, cfg config.DriftConfig, rules alerting.RuleSet) *DriftReporter {
	return &DriftReporter{store: st, cfg: cfg, rules: rules}
}

// Report builds the drift summary for the trailing window. windowDays is
// clamped to the configured maximum so no caller can force an unbounded
// scan.
func (r *DriftReporter) Report(ctx context.Context, windowDays int, dims model.Dimensions) (*DriftReport, error) {
	if windowDays <= 0 || windowDays > r.cfg.MaxWindowDays {
		windowDays = r.cfg.MaxWindowDays
	}

	assessments, err := r.store.ListAssessments(ctx, store.AssessmentFilter{
		Dims:  dims,
		Since: time.Now().UTC().AddDate(0, 0, -windowDays),
	})
	if err != nil {
		return nil, eris.Wrap(err, "analytics: list assessments for drift")
	}

	report := SummarizeDrift(assessments, windowDays, r.cfg, r.rules)
	return report, nil
}

// Name implements alerting.Source.
func (r *DriftReporter) Name() string { return "drift" }

// CheckAlerts implements alerting.Source for the background checker.
func (r *DriftReporter) CheckAlerts(ctx context.Context, since time.Time) ([]alerting.Alert, error) {
	windowDays := int(time.Since(since).Hours()/24) + 1
	report, err := r.Report(ctx, windowDays, model.Dimensions{})
	if err != nil {
		return nil, err
	}
	return report.Alerts, nil
}

// SummarizeDrift computes the full drift report from an in-memory window.
// A zero-sample window is not an error: the report comes back with total 0
// and an informational message, and no percentage is ever divided by zero.
func SummarizeDrift(assessments []model.Assessment, windowDays int, cfg config.DriftConfig, rules alerting.RuleSet) *DriftReport {
	report := &DriftReport{
		WindowDays:    windowDays,
		Total:         len(assessments),
		ByDecision:    make(map[string]int),
		ByDecisionPct: make(map[model.Decision]float64),
		ByIndustry:    make(map[string]int),
	}
	if len(assessments) == 0 {
		report.Message = "no assessments in window"
		report.Alerts = []alerting.Alert{{
			ID:        uuid.NewString(),
			Type:      alerting.AlertNoData,
			Severity:  alerting.SeverityInfo,
			Message:   fmt.Sprintf("no assessments completed in the last %d days", windowDays),
			Timestamp: time.Now().UTC(),
		}}
		return report
	}

	pctCounts := map[model.Decision]int{
		model.DecisionHire:   0,
		model.DecisionHold:   0,
		model.DecisionReject: 0,
	}

	var rawSum, calSum, zSum float64
	flagCounts := make(map[string]int)
	var flagOrder []string
	criticalCount := 0
	incompleteFlagged := 0
	daily := make(map[string]*DayCount)

	critical := toSet(cfg.CriticalFlagCodes)
	incomplete := toSet(cfg.IncompleteFlagCodes)

	for i := range assessments {
		a := &assessments[i]
		decision := a.EffectiveDecision()

		report.ByDecision[string(decision)]++
		if decision.Known() {
			pctCounts[decision]++
		} else {
			// Unknown decisions lean conservative for distribution math.
			pctCounts[model.DecisionHold]++
		}

		rawSum += a.RawFinalScore
		if a.Calibrated() {
			calSum += *a.CalibratedScore
			zSum += *a.ZScore
			report.CalibratedN++
		}

		hasIncomplete := false
		for _, f := range a.RiskFlags {
			if _, seen := flagCounts[f.Code]; !seen {
				flagOrder = append(flagOrder, f.Code)
			}
			flagCounts[f.Code]++
			if _, ok := critical[f.Code]; ok {
				criticalCount++
			}
			if _, ok := incomplete[f.Code]; ok {
				hasIncomplete = true
			}
		}
		if hasIncomplete {
			incompleteFlagged++
		}

		if a.Dimensions.IndustryCode != "" {
			report.ByIndustry[a.Dimensions.IndustryCode]++
		}

		day := a.CompletedAt.UTC().Format("2006-01-02")
		dc, ok := daily[day]
		if !ok {
			dc = &DayCount{Date: day, By: make(map[model.Decision]int)}
			daily[day] = dc
		}
		dc.Total++
		dc.By[decision]++
	}

	total := float64(len(assessments))
	for d, n := range pctCounts {
		report.ByDecisionPct[d] = 100 * float64(n) / total
	}
	report.AvgRawScore = rawSum / total
	if report.CalibratedN > 0 {
		report.AvgCalibrated = calSum / float64(report.CalibratedN)
		report.AvgZScore = zSum / float64(report.CalibratedN)
	}

	report.TopRiskFlags = rankFlags(flagCounts, flagOrder, cfg.TopRiskFlagCount)

	for _, dc := range daily {
		report.Daily = append(report.Daily, *dc)
	}
	sort.Slice(report.Daily, func(i, j int) bool {
		return report.Daily[i].Date < report.Daily[j].Date
	})

	report.Alerts = driftAlerts(report, criticalCount, incompleteFlagged, rules)
	return report
}

// driftAlerts evaluates the five drift rules in their fixed order. The
// rules are independent; more than one can fire on the same window.
func driftAlerts(report *DriftReport, criticalCount, incompleteFlagged int, rules alerting.RuleSet) []alerting.Alert {
	var alerts []alerting.Alert
	total := report.Total

	if a := rules[alerting.AlertHighReject].Evaluate(report.ByDecisionPct[model.DecisionReject], total); a != nil {
		a.Message = fmt.Sprintf("REJECT share %.1f%% over the last %d days",
			report.ByDecisionPct[model.DecisionReject], report.WindowDays)
		alerts = append(alerts, *a)
	}
	if a := rules[alerting.AlertLowHire].Evaluate(report.ByDecisionPct[model.DecisionHire], total); a != nil {
		a.Message = fmt.Sprintf("HIRE share %.1f%% across %d assessments",
			report.ByDecisionPct[model.DecisionHire], total)
		alerts = append(alerts, *a)
	}
	if report.CalibratedN > 0 {
		if a := rules[alerting.AlertScoreDrift].Evaluate(report.AvgZScore, report.CalibratedN); a != nil {
			direction := "upward"
			if report.AvgZScore < 0 {
				direction = "downward"
			}
			a.Message = fmt.Sprintf("average z-score %.2f, %s drift", report.AvgZScore, direction)
			a.Details["direction"] = direction
			alerts = append(alerts, *a)
		}
	}
	if a := rules[alerting.AlertCriticalFlag].Evaluate(float64(criticalCount), total); a != nil {
		a.Message = fmt.Sprintf("%d critical risk flag occurrence(s) in window", criticalCount)
		a.Details["count"] = criticalCount
		alerts = append(alerts, *a)
	}
	incompletePct := 100 * float64(incompleteFlagged) / float64(total)
	if a := rules[alerting.AlertIncompleteFlags].Evaluate(incompletePct, total); a != nil {
		a.Message = fmt.Sprintf("%.1f%% of assessments carry an incompleteness flag", incompletePct)
		alerts = append(alerts, *a)
	}

	if len(alerts) > 0 {
		zap.L().Debug("analytics: drift alerts triggered", zap.Int("count", len(alerts)))
	}
	return alerts
}

// rankFlags orders flag codes by count descending; ties keep first-seen
// order, which is stable across runs because flags are walked in
// assessment order.
func rankFlags(counts map[string]int, order []string, limit int) []FlagCount {
	ranked := make([]FlagCount, 0, len(order))
	for _, code := range order {
		ranked = append(ranked, FlagCount{Code: code, Count: counts[code]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func toSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}
