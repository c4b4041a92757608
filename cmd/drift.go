package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hirelens/calibration-cli/internal/alerting"
	"github.com/hirelens/calibration-cli/internal/analytics"
)

var driftWindowDays int

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Print the decision drift report for a trailing window",
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

		reporter := analytics.NewDriftReporter(st, cfg.Drift, rules)
		report, err := reporter.Report(ctx, driftWindowDays, dimsFromFlags(cmd))
		if err != nil {
			return eris.Wrap(err, "drift report")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	driftCmd.Flags().IntVar(&driftWindowDays, "window", 14, "trailing window in days (capped by config)")
	addDimFlags(driftCmd)
	rootCmd.AddCommand(driftCmd)
}
