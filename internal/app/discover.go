package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"fred-ingest/internal/analysis"
	"fred-ingest/internal/dispatch"
	"fred-ingest/internal/fetcher"
	"fred-ingest/internal/model"
)

// SearchOptions configure the search command.
type SearchOptions struct {
	Text    string
	Filters []string
	IDsOnly bool
}

// CategoriesOptions configure the categories command.
type CategoriesOptions struct {
	From       int
	To         int
	WithSeries bool
}

// AnalyzeOptions configure the analyze command.
type AnalyzeOptions struct {
	Series   []string
	Question string
}

// Search prints the series matching a free-text query and filters.
func (a *App) Search(ctx context.Context, opts SearchOptions) error {
	filters := make([]fetcher.Filter, 0, len(opts.Filters))
	for _, raw := range opts.Filters {
		f, err := fetcher.ParseFilter(raw)
		if err != nil {
			return err
		}
		filters = append(filters, f)
	}

	client, err := a.newClient()
	if err != nil {
		return err
	}
	hits, err := client.Search(ctx, opts.Text, filters)
	if err != nil {
		return err
	}

	if opts.IDsOnly {
		for _, h := range hits {
			fmt.Fprintln(a.Out, h.ID)
		}
		return nil
	}

	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPopularity\tFrequency\tUnits\tTitle")
	for _, h := range hits {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", h.ID, h.Popularity, h.Frequency, h.Units, sanitizeInline(h.Title))
	}
	return w.Flush()
}

// Categories prints the categories in a range, optionally with their series.
func (a *App) Categories(ctx context.Context, opts CategoriesOptions) error {
	client, err := a.newClient()
	if err != nil {
		return err
	}
	cats, err := client.Categories(ctx, opts.From, opts.To)
	if err != nil {
		return err
	}
	if len(cats) == 0 {
		fmt.Fprintf(a.Out, "no categories between %d and %d\n", opts.From, opts.To)
		return nil
	}

	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tParent\tName\tSeries")
	for _, cat := range cats {
		series := ""
		if opts.WithSeries {
			hits, err := client.CategorySeries(ctx, cat.ID)
			if err != nil {
				a.Logger.Warn().Err(err).Int("category", cat.ID).Msg("list category series")
			}
			ids := make([]string, len(hits))
			for i, h := range hits {
				ids[i] = h.ID
			}
			series = strings.Join(ids, ",")
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", cat.ID, cat.ParentID, sanitizeInline(cat.Name), series)
	}
	return w.Flush()
}

// Quota refreshes and prints the server reported request budget.
func (a *App) Quota(ctx context.Context) error {
	client, err := a.newClient()
	if err != nil {
		return err
	}
	q, err := client.CheckQuota(ctx)
	if err != nil {
		return err
	}
	if q.ObservedAt.IsZero() {
		fmt.Fprintln(a.Out, "server did not report rate limit headers")
		return nil
	}

	window := a.governor.Snapshot()
	fmt.Fprintf(a.Out, "server limit: %d\nserver remaining: %d\nobserved: %s\nlocal budget: %d calls / %s (%d used)\n",
		q.Limit, q.Remaining, q.ObservedAt.UTC().Format(time.RFC3339),
		window.Capacity, window.Length, len(window.CallTimestamps))
	return nil
}

// Analyze fetches the latest observations of the given series and asks the
// LLM collaborator a question about them.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	if strings.TrimSpace(opts.Question) == "" {
		return errors.New("--question must not be empty")
	}
	ids := seriesIDs(opts.Series)
	if len(ids) == 0 {
		return errors.New("analyze needs at least one --series")
	}
	client, err := a.newClient()
	if err != nil {
		return err
	}

	results := dispatch.Run(ctx, a.newDispatcher(), ids, func(ctx context.Context, id model.SeriesID) model.Outcome[[]model.Observation] {
		return client.FetchObservations(ctx, id, model.LatestOnly)
	})
	var obs []model.Observation
	for _, id := range ids {
		out := results[id]
		if !out.OK() {
			return fmt.Errorf("fetch %s: %s", id, out.Message())
		}
		obs = append(obs, out.Value...)
	}

	data, err := analysis.ObservationCSV(obs)
	if err != nil {
		return err
	}

	cfg := a.Config.Analysis
	llm := analysis.New(analysis.Options{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		SystemPrompt:      cfg.SystemPrompt,
		Timeout:           cfg.Timeout,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}, a.Logger)

	answer, err := llm.Analyze(ctx, data, opts.Question)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out, answer)
	return nil
}
