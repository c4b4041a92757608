package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hirelens/calibration-cli/internal/alerting"
	"github.com/hirelens/calibration-cli/internal/analytics"
	"github.com/hirelens/calibration-cli/internal/store"
)

var healthSinceDays int

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print the confusion matrix and precision report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rules, err := alerting.Load(cfg)
		if err != nil {
			return err
		}

		filter := store.AssessmentFilter{Dims: dimsFromFlags(cmd)}
		if healthSinceDays > 0 {
			filter.Since = time.Now().UTC().AddDate(0, 0, -healthSinceDays)
		}

		analyzer := analytics.NewHealthAnalyzer(st, cfg.Health, cfg.Quality, rules)
		report, err := analyzer.Report(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "model health report")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	healthCmd.Flags().IntVar(&healthSinceDays, "since-days", 0, "only include assessments from the last N days (0 = all)")
	addDimFlags(healthCmd)
	rootCmd.AddCommand(healthCmd)
}
