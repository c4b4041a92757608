package alerting

import (
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hirelens/calibration-cli/internal/config"
)

// RuleSet maps every known alert type to its active rule.
type RuleSet map[Type]Rule

// Defaults builds the rule set from application config. Percentages are on
// the 0-100 scale, matching the report fields they are tested against.
func Defaults(cfg *config.Config) RuleSet {
	return RuleSet{
		AlertHighReject: {
			Type: AlertHighReject, Severity: SeverityWarning,
			Compare: CompareGreater, Threshold: cfg.Drift.RejectPctThreshold,
		},
		AlertLowHire: {
			Type: AlertLowHire, Severity: SeverityWarning,
			Compare: CompareLess, Threshold: cfg.Drift.HirePctThreshold,
			MinSample: cfg.Drift.HireMinTotal,
		},
		AlertScoreDrift: {
			Type: AlertScoreDrift, Severity: SeverityWarning,
			Compare: CompareAbsGreater, Threshold: cfg.Drift.ZScoreThreshold,
		},
		// Any occurrence of a critical flag fires.
		AlertCriticalFlag: {
			Type: AlertCriticalFlag, Severity: SeverityCritical,
			Compare: CompareGreater, Threshold: 0,
		},
		AlertIncompleteFlags: {
			Type: AlertIncompleteFlags, Severity: SeverityWarning,
			Compare: CompareGreater, Threshold: cfg.Drift.IncompletePctLimit,
		},
		AlertLowHirePrecision: {
			Type: AlertLowHirePrecision, Severity: SeverityWarning,
			Compare: CompareLess, Threshold: cfg.Health.HirePrecisionThreshold,
		},
		AlertRejectFalseNegatives: {
			Type: AlertRejectFalseNegatives, Severity: SeverityWarning,
			Compare: CompareGreater, Threshold: cfg.Health.RejectFNRThreshold,
		},
		AlertLowSample: {
			Type: AlertLowSample, Severity: SeverityInfo,
			Compare: CompareLess, Threshold: float64(cfg.Health.MinValidSample),
		},
		AlertCalibrationMismatch: {
			Type: AlertCalibrationMismatch, Severity: SeverityCritical,
			Compare: CompareLess, Threshold: cfg.Quality.TopBucketSuccessPctMin,
			MinSample: cfg.Quality.TopBucketMinN,
		},
	}
}

// Load builds the rule set from config and, when a rules file is configured,
// overlays per-type overrides from it. Unknown types in the file are
// rejected so typos do not silently disable a rule.
func Load(cfg *config.Config) (RuleSet, error) {
	rules := Defaults(cfg)
	if cfg.Alerting.RulesFile == "" {
		return rules, nil
	}

	data, err := os.ReadFile(cfg.Alerting.RulesFile)
	if err != nil {
		return nil, eris.Wrapf(err, "alerting: read rules file %s", cfg.Alerting.RulesFile)
	}

	var overrides []Rule
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, eris.Wrap(err, "alerting: parse rules file")
	}

	for _, o := range overrides {
		if _, ok := rules[o.Type]; !ok {
			return nil, eris.Errorf("alerting: unknown alert type %q in rules file", o.Type)
		}
		rules[o.Type] = o
	}

	zap.L().Info("alerting: loaded rule overrides",
		zap.String("file", cfg.Alerting.RulesFile),
		zap.Int("overrides", len(overrides)))
	return rules, nil
}
