package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"marketwatch/internal/market"
)

// Export fetches an asset's intraday series and writes it as CSV and/or PNG. A zero window
// falls back to recap.window, then to 24 hours.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	asset, ok := a.Config.FindAsset(opts.Asset)
	if !ok {
		return fmt.Errorf("asset %q is not configured", opts.Asset)
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	window := opts.Window
	if window <= 0 {
		window = a.Config.Recap.Window
	}
	if window <= 0 {
		window = 24 * time.Hour
	}

	source, err := a.newSource(ctx)
	if err != nil {
		return err
	}
	points, err := source.IntradaySeries(ctx, asset.ID, window)
	if err != nil {
		return fmt.Errorf("fetch %s series: %w", asset.ID, err)
	}
	if len(points) == 0 {
		a.Logger.Info().Str("asset", asset.ID).Msg("no points found for export window")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Str("asset", asset.ID).Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting series")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(a.exportPath(opts.CSVPath), asset, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSeriesPNG(a.exportPath(opts.PNGPath), asset, downsampled, a.Config.Export.ChartWidth, a.Config.Export.ChartHeight); err != nil {
			return err
		}
	}

	return nil
}

// exportPath resolves relative paths against export.output_dir.
func (a *App) exportPath(path string) string {
	if filepath.IsAbs(path) || a.Config.Export.OutputDir == "" {
		return path
	}
	return filepath.Join(a.Config.Export.OutputDir, path)
}

func downsamplePoints(points []market.SeriesPoint, max int) []market.SeriesPoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]market.SeriesPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeSeriesCSV(path string, asset market.Asset, points []market.SeriesPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"timestamp", "asset_id", "symbol", "price_usd"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.At.UTC().Format(time.RFC3339),
			asset.ID,
			asset.Symbol,
			p.PriceUSD.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSeriesPNG(path string, asset market.Asset, points []market.SeriesPoint, width, height int) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if len(points) < 2 {
		return errors.New("at least two points are needed to draw a chart")
	}
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}

	x := make([]time.Time, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.At
		y[i] = p.PriceUSD.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  asset.DisplayName() + " (USD)",
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    asset.Symbol,
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
