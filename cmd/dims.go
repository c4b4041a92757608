package main

import (
	"github.com/spf13/cobra"

	"github.com/hirelens/calibration-cli/internal/model"
)

// addDimFlags registers the cohort dimension flags shared by commands that
// filter or resolve by tuple.
func addDimFlags(cmd *cobra.Command) {
	cmd.Flags().String("version", "", "assessment version filter")
	cmd.Flags().String("language", "", "interview language filter")
	cmd.Flags().String("position", "", "position code filter")
	cmd.Flags().String("industry", "", "industry code filter")
}

func dimsFromFlags(cmd *cobra.Command) model.Dimensions {
	version, _ := cmd.Flags().GetString("version")
	language, _ := cmd.Flags().GetString("language")
	position, _ := cmd.Flags().GetString("position")
	industry, _ := cmd.Flags().GetString("industry")
	return model.Dimensions{
		Version:      version,
		Language:     language,
		PositionCode: position,
		IndustryCode: industry,
	}
}
