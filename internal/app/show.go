package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"marketwatch/internal/storage"
)

// Show prints the most recent audit log entries.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show events")
	}
	defer closeStore()

	filter := storage.EventFilter{Limit: opts.Limit}
	if opts.Asset != "" {
		filter.AssetID = opts.Asset
		if asset, ok := a.Config.FindAsset(opts.Asset); ok {
			filter.AssetID = asset.ID
		}
	}

	records, err := store.ListRecentEvents(ctx, filter)
	if err != nil {
		return err
	}
	return writeEventTable(os.Stdout, records)
}

func writeEventTable(out io.Writer, records []storage.EventRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "no events found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKind\tAsset\tPrice\tReference\tChange%\tDelivered\tError")

	for _, rec := range records {
		errMsg := ""
		if rec.DeliveryError != nil {
			errMsg = sanitizeInline(*rec.DeliveryError)
		}
		asset := rec.Symbol
		if asset == "" {
			asset = rec.AssetID
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			rec.OccurredAt.UTC().Format(time.RFC3339),
			rec.Kind,
			asset,
			rec.Price.String(),
			rec.Reference.String(),
			rec.ChangePct.StringFixed(2),
			rec.Delivered,
			errMsg,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
