package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hirelens/calibration-cli/internal/baseline"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage cohort baselines",
}

var baselineRecomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute baseline stats from recent assessments",
	Long:  "Recomputes mean/stddev/n for every dimension tuple seen in the trailing window, including the relaxed fallback tuples. Safe to re-run at any time.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rc := baseline.NewRecomputer(st, cfg.Calibration)
		written, err := rc.RecomputeAll(ctx, dimsFromFlags(cmd))
		if err != nil {
			return eris.Wrap(err, "baseline recompute")
		}

		zap.L().Info("baseline recompute complete", zap.Int("written", written))
		return nil
	},
}

var baselineGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Resolve the baseline for a dimension tuple",
	Long:  "Walks the fallback chain for the given tuple and prints the resolved stat, the tuple it actually came from, and whether a fallback was used.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		resolver := baseline.NewResolver(st, cfg.Calibration.MinN, cfg.Calibration.MaxN)
		res, err := resolver.Resolve(ctx, dimsFromFlags(cmd))
		if err != nil {
			if eris.Is(err, baseline.ErrInsufficientData) {
				return eris.New("no baseline meets the minimum sample size for this tuple")
			}
			return eris.Wrap(err, "baseline get")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	addDimFlags(baselineRecomputeCmd)
	addDimFlags(baselineGetCmd)
	baselineCmd.AddCommand(baselineRecomputeCmd)
	baselineCmd.AddCommand(baselineGetCmd)
	rootCmd.AddCommand(baselineCmd)
}
