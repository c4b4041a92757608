package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hirelens/calibration-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "calibration-cli",
	Short: "Interview score calibration and outcome feedback pipeline",
	Long:  "Maintains cohort baselines, calibrates raw interview scores against them, and closes the loop with hiring-outcome analytics and drift alerts.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
