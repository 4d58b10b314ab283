package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"transformer-telemetry/internal/app"
)

var (
	exportEntity  string
	exportSeed    int64
	exportTicks   int
	exportOrigin  string
	exportPNGPath string
	exportCSVPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Replay the simulation offline and export one entity as CSV and/or PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Entity:  exportEntity,
			Ticks:   exportTicks,
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
		}

		if cmd.Flags().Changed("seed") {
			seed := exportSeed
			opts.Seed = &seed
		}

		if exportOrigin != "" {
			origin, err := time.Parse(time.RFC3339, exportOrigin)
			if err != nil {
				return fmt.Errorf("invalid --origin value: %w", err)
			}
			opts.Origin = &origin
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportEntity, "entity", "", "Entity to export (defaults to the first configured entity)")
	exportCmd.Flags().Int64Var(&exportSeed, "seed", 0, "Generator seed (defaults to telemetry.seed)")
	exportCmd.Flags().IntVar(&exportTicks, "ticks", 0, "Number of ticks to replay (defaults to export.ticks)")
	exportCmd.Flags().StringVar(&exportOrigin, "origin", "", "Timestamp of tick zero (RFC3339, defaults to now)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
}
