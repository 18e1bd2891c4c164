package fetcher

import (
	"context"

	"fred-ingest/internal/model"
)

// ObservationFetcher retrieves the observations of one series.
type ObservationFetcher interface {
	FetchObservations(ctx context.Context, id model.SeriesID, mode model.RevisionMode, opts ...QueryOption) model.Outcome[[]model.Observation]
}

// InfoFetcher retrieves selected metadata of one series.
type InfoFetcher interface {
	FetchInfo(ctx context.Context, id model.SeriesID, fields []string) model.Outcome[model.SeriesInfo]
}

// SeriesSearcher finds series by free text.
type SeriesSearcher interface {
	Search(ctx context.Context, text string, filters []Filter) ([]SeriesSummary, error)
}

var (
	_ ObservationFetcher = (*Client)(nil)
	_ InfoFetcher        = (*Client)(nil)
	_ SeriesSearcher     = (*Client)(nil)
)
