package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hirelens/calibration-cli/internal/ingest"
)

var (
	outcomesSrc    string
	outcomesFormat string
)

var outcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Manage hiring outcome ground truth",
}

var outcomesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an outcome feed (csv, xlsx or xml) from a local path, HTTP or FTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		src := outcomesSrc
		if src == "" {
			src = cfg.Ingest.DefaultSource
		}
		if src == "" {
			return eris.New("no source: pass --src or set CALIB_INGEST_DEFAULT_SOURCE")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		importer := ingest.NewImporter(st, ingest.NewFetcher(cfg.Ingest), cfg.Ingest)
		stats, err := importer.Import(ctx, src, outcomesFormat)
		if err != nil {
			return eris.Wrapf(err, "import %s", src)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	outcomesImportCmd.Flags().StringVar(&outcomesSrc, "src", "", "outcome feed location (path, http(s) or ftp URL)")
	outcomesImportCmd.Flags().StringVar(&outcomesFormat, "format", "", "feed format: csv, xlsx or xml (default inferred from extension)")
	outcomesCmd.AddCommand(outcomesImportCmd)
	rootCmd.AddCommand(outcomesCmd)
}
