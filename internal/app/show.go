package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"plspricer/internal/storage"
)

// Show prints recent persisted price snapshots.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var snapshots []storage.PriceSnapshot
	if opts.Token != "" {
		snapshots, err = store.ListTokenSnapshots(ctx, opts.Token, opts.Limit)
	} else {
		snapshots, err = store.ListRecentSnapshots(ctx, opts.Limit)
	}
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tToken\tPrice (USD)\tLiquidity (USD)\tReference\tSource\tStatus\tError")

	for _, snapshot := range snapshots {
		errMsg := ""
		if snapshot.Error != nil {
			errMsg = sanitizeInline(*snapshot.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			snapshot.Bucket.UTC().Format(time.RFC3339),
			snapshot.Token,
			snapshot.PriceUSD.StringFixed(10),
			snapshot.LiquidityUSD.StringFixed(2),
			snapshot.Reference,
			snapshot.Source,
			snapshot.Status,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
