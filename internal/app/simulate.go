package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fred-ingest/internal/fetcher"
	"fred-ingest/internal/fingerprint"
	"fred-ingest/internal/model"
	"fred-ingest/internal/service"
	"fred-ingest/internal/storage"
)

// SimulateOptions configure an offline sync pass.
type SimulateOptions struct {
	Series  []string
	Failing []string
	Points  int
	// Notify sends the run summary through the configured notifier.
	Notify bool
}

// Simulate 用合成数据跑一遍同步流程（内存 SQLite，不访问 FRED），并按需发送通知。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	ids := seriesIDs(opts.Series)
	if len(ids) == 0 {
		return errors.New("simulate 需要至少一个 --series")
	}
	if opts.Points <= 0 {
		opts.Points = 12
	}

	notifier := a.newNotifier()
	if opts.Notify && notifier == nil {
		return errors.New("未配置任何告警通道")
	}
	if !opts.Notify {
		notifier = nil
	}

	store, err := storage.OpenSQLite(ctx, ":memory:", a.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	f := &syntheticFetcher{
		points:  opts.Points,
		failing: make(map[model.SeriesID]bool),
		origin:  time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, id := range seriesIDs(opts.Failing) {
		f.failing[id] = true
	}

	svc := service.New(a.Config, nil, f, nil, a.newDispatcher(), store, notifier, a.Logger)
	report, err := svc.Sync(ctx, service.Request{
		Series:      ids,
		Modes:       []model.RevisionMode{model.LatestOnly, model.FirstOnly, model.AllRevisions},
		IncludeInfo: true,
		InfoFields:  a.Config.Sync.InfoFields,
	})
	a.printReport(report)
	return err
}

// syntheticFetcher serves monthly series with one revision per point.
type syntheticFetcher struct {
	points  int
	failing map[model.SeriesID]bool
	origin  time.Time
}

func (s *syntheticFetcher) FetchObservations(ctx context.Context, id model.SeriesID, mode model.RevisionMode, opts ...fetcher.QueryOption) model.Outcome[[]model.Observation] {
	if s.failing[id] {
		return model.Fatal[[]model.Observation](id, fmt.Errorf("simulated failure for %s: %w", id, model.ErrFatalRemote))
	}

	var all []model.Observation
	for i := 0; i < s.points; i++ {
		reporting := s.origin.AddDate(0, i, 0)
		first := reporting.AddDate(0, 1, 0)
		revised := first.AddDate(0, 1, 0)
		base := decimal.NewFromInt(int64(100 + i))
		all = append(all,
			s.observation(id, reporting, first, &revised, base),
			s.observation(id, reporting, revised, nil, base.Add(decimal.RequireFromString("0.25"))),
		)
	}

	switch mode {
	case model.AllRevisions:
		return model.Success(id, all)
	case model.FirstOnly:
		return model.Success(id, fetcher.SelectFirstReleases(all))
	default:
		latest := make([]model.Observation, 0, s.points)
		for _, o := range all {
			if o.ValidUntilDate == nil {
				o.Fingerprint = fingerprint.Observation(fingerprint.WithoutRevision, id, o.ReportingDate, o.PublishedDate, o.Value)
				latest = append(latest, o)
			}
		}
		return model.Success(id, latest)
	}
}

func (s *syntheticFetcher) observation(id model.SeriesID, reporting, published time.Time, validUntil *time.Time, v decimal.Decimal) model.Observation {
	value := decimal.NewNullDecimal(v.Round(fingerprint.ValuePlaces))
	return model.Observation{
		Series:         id,
		ReportingDate:  reporting,
		PublishedDate:  published,
		ValidUntilDate: validUntil,
		Value:          value,
		WebsiteURL:     "simulated://" + string(id),
		Fingerprint:    fingerprint.Observation(fingerprint.WithRevision, id, reporting, published, value),
	}
}

func (s *syntheticFetcher) FetchInfo(ctx context.Context, id model.SeriesID, fields []string) model.Outcome[model.SeriesInfo] {
	if s.failing[id] {
		return model.NotFound[model.SeriesInfo](id, fmt.Errorf("simulated series %s: %w", id, model.ErrNotFound))
	}
	values := map[string]string{
		"id":          string(id),
		"title":       "Simulated " + string(id),
		"frequency":   "Monthly",
		"units":       "Index",
		"website_url": "simulated://" + string(id),
	}
	return model.Success(id, model.SeriesInfo{
		Series:      id,
		Fields:      values,
		Fingerprint: fingerprint.SeriesInfo(id, values["frequency"], values["units"]),
	})
}

var _ service.Fetcher = (*syntheticFetcher)(nil)
