package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"marketwatch/internal/app"
)

var (
	exportAsset     string
	exportWindow    time.Duration
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an asset's intraday prices as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportAsset == "" {
			return errors.New("--asset is required")
		}
		if exportWindow < 0 {
			return errors.New("--window cannot be negative")
		}

		opts := app.ExportOptions{
			Asset:     exportAsset,
			Window:    exportWindow,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportAsset, "asset", "", "Asset id or symbol")
	exportCmd.Flags().DurationVar(&exportWindow, "window", 0, "How far back to export (defaults to recap.window)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
