package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"fred-ingest/internal/dispatch"
	"fred-ingest/internal/fetcher"
	"fred-ingest/internal/model"
	"fred-ingest/internal/service"
)

// Sync runs one sync pass. Without explicit series the configured selection
// (series list, search and categories) is used.
func (a *App) Sync(ctx context.Context, opts SyncOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store, nil)
	if err != nil {
		return err
	}

	var req service.Request
	if len(opts.Series) == 0 {
		req, err = svc.ConfiguredRequest(ctx)
		if err != nil {
			return err
		}
	} else {
		req = service.Request{
			Series:      seriesIDs(opts.Series),
			Modes:       a.Config.Modes(),
			IncludeInfo: true,
			InfoFields:  a.Config.Sync.InfoFields,
		}
	}
	if len(opts.Modes) > 0 {
		modes, err := parseModes(opts.Modes)
		if err != nil {
			return err
		}
		req.Modes = modes
	}
	req.IncludeInfo = req.IncludeInfo && !opts.SkipInfo
	req.RealtimeStart = opts.RealtimeStart
	req.RealtimeEnd = opts.RealtimeEnd

	report, err := svc.Sync(ctx, req)
	if errors.Is(err, service.ErrNoSeries) {
		return errors.New("no series selected; pass --series or configure sync.series, sync.search_text or sync.category_ids")
	}
	a.printReport(report)
	return err
}

// Backfill loads every vintage published inside [From, To] for the given series.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if len(opts.Series) == 0 {
		opts.Series = a.Config.Sync.Series
	}
	ids := seriesIDs(opts.Series)
	if len(ids) == 0 {
		return errors.New("回填需要至少一个 series，请通过 --series 或 sync.series 指定")
	}
	if !opts.To.IsZero() && opts.To.Before(opts.From) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	if opts.DryRun {
		return a.backfillDryRun(ctx, ids, opts)
	}

	return a.Sync(ctx, SyncOptions{
		Series:        opts.Series,
		Modes:         []string{model.AllRevisions.String()},
		SkipInfo:      true,
		RealtimeStart: opts.From,
		RealtimeEnd:   opts.To,
	})
}

// backfillDryRun fetches without touching storage and reports what would load.
func (a *App) backfillDryRun(ctx context.Context, ids []model.SeriesID, opts BackfillOptions) error {
	a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")

	client, err := a.newClient()
	if err != nil {
		return err
	}
	results := dispatch.Run(ctx, a.newDispatcher(), ids, func(ctx context.Context, id model.SeriesID) model.Outcome[[]model.Observation] {
		return client.FetchObservations(ctx, id, model.AllRevisions, fetcher.WithRealtime(opts.From, opts.To))
	})

	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Series\tStatus\tVintages\tError")
	failed := 0
	for _, id := range ids {
		out := results[id]
		if !out.OK() {
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", id, out.Status, len(out.Value), sanitizeInline(out.Message()))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d series failed, see output above", failed, len(ids))
	}
	return nil
}

func (a *App) printReport(report service.Report) {
	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run %s: %d series in %s\n", report.RunID, report.Series, report.Finished.Sub(report.Started).Round(time.Millisecond))
	fmt.Fprintln(w, "Table\tCandidates\tInserted\tSkipped")
	for _, name := range sortedKeys(report.Tables) {
		r := report.Tables[name]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", name, r.Candidates, r.Inserted, r.Skipped)
	}
	if len(report.Failed) > 0 {
		fmt.Fprintln(w, "\nFailed\tStatus\tOperations\tError")
		for _, id := range report.FailedSeries() {
			f := report.Failed[id]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, f.Status, strings.Join(f.Operations, ","), sanitizeInline(f.Message))
		}
	}
	_ = w.Flush()
}

func seriesIDs(raw []string) []model.SeriesID {
	ids := make([]model.SeriesID, 0, len(raw))
	for _, s := range raw {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				ids = append(ids, model.SeriesID(strings.ToUpper(part)))
			}
		}
	}
	return ids
}

func parseModes(raw []string) ([]model.RevisionMode, error) {
	modes := make([]model.RevisionMode, 0, len(raw))
	for _, m := range raw {
		mode, err := model.ParseRevisionMode(m)
		if err != nil {
			return nil, err
		}
		modes = append(modes, mode)
	}
	return modes, nil
}
