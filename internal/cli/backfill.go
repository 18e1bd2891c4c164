package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fred-ingest/internal/app"
)

const dateLayout = "2006-01-02"

var (
	backfillSeries []string
	backfillFrom   string
	backfillTo     string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Load every vintage published in a realtime window",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.BackfillOptions{
			Series: backfillSeries,
			DryRun: backfillDryRun,
		}

		if backfillFrom != "" {
			from, err := time.Parse(dateLayout, backfillFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = from
		}

		if backfillTo != "" {
			to, err := time.Parse(dateLayout, backfillTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = to
		}

		if !opts.From.IsZero() && !opts.To.IsZero() && opts.To.Before(opts.From) {
			return fmt.Errorf("--from must not be after --to")
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringSliceVar(&backfillSeries, "series", nil, "Series ids (defaults to sync.series)")
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Earliest realtime date (YYYY-MM-DD, defaults to fred.earliest_realtime)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Latest realtime date (YYYY-MM-DD, defaults to today)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Fetch and report without writing to storage")
}
