package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hirelens/calibration-cli/internal/calibration"
	"github.com/hirelens/calibration-cli/internal/store"
)

var recalibrate bool

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Calibrate uncalibrated assessments against their cohort baselines",
	Long:  "Resolves a baseline for every uncalibrated assessment and writes z-score and calibrated score. Each assessment is calibrated at most once; use --recalibrate to clear and recompute the matching population.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runner := calibration.NewRunner(st, cfg.Calibration)
		stats, err := runner.Run(ctx, recalibrate, store.AssessmentFilter{Dims: dimsFromFlags(cmd)})
		if err != nil {
			return eris.Wrap(err, "calibrate")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	calibrateCmd.Flags().BoolVar(&recalibrate, "recalibrate", false, "clear calibrated fields first and rerun against current baselines")
	addDimFlags(calibrateCmd)
	rootCmd.AddCommand(calibrateCmd)
}
