package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"fred-ingest/internal/fingerprint"
	"fred-ingest/internal/model"
)

const (
	observationsPath = "/series/observations"
	opObservations   = "observations"

	// missingValue is how FRED marks an observation without a value.
	missingValue = "."
)

// QueryOption narrows an observation request.
type QueryOption func(*observationQuery)

type observationQuery struct {
	realtimeStart time.Time
	realtimeEnd   time.Time
}

// WithRealtime bounds the vintages requested in AllRevisions and FirstOnly
// mode. Zero values keep the defaults: earliest available to today.
func WithRealtime(start, end time.Time) QueryOption {
	return func(q *observationQuery) {
		q.realtimeStart = start
		q.realtimeEnd = end
	}
}

type observationsPayload struct {
	Observations *[]rawObservation `json:"observations"`
}

type rawObservation struct {
	RealtimeStart string `json:"realtime_start"`
	RealtimeEnd   string `json:"realtime_end"`
	Date          string `json:"date"`
	Value         string `json:"value"`
}

// FetchObservations retrieves one series in the requested revision mode.
func (c *Client) FetchObservations(ctx context.Context, id model.SeriesID, mode model.RevisionMode, opts ...QueryOption) model.Outcome[[]model.Observation] {
	var q observationQuery
	for _, opt := range opts {
		opt(&q)
	}

	switch mode {
	case model.LatestOnly:
		return record(opObservations, c.fetchObservations(ctx, id, nil, fingerprint.WithoutRevision))
	case model.AllRevisions:
		return record(opObservations, c.fetchObservations(ctx, id, c.realtimeQuery(q), fingerprint.WithRevision))
	case model.FirstOnly:
		out := c.fetchObservations(ctx, id, c.realtimeQuery(q), fingerprint.WithRevision)
		if out.OK() {
			out.Value = SelectFirstReleases(out.Value)
		}
		return record(opObservations, out)
	default:
		return record(opObservations, model.Fatal[[]model.Observation](id, fmt.Errorf("unsupported revision mode %s", mode)))
	}
}

func (c *Client) realtimeQuery(q observationQuery) url.Values {
	start := q.realtimeStart
	if start.IsZero() {
		start = c.opts.EarliestRealtime
	}
	end := q.realtimeEnd
	if end.IsZero() {
		end = c.now()
	}
	values := url.Values{}
	values.Set("realtime_start", start.UTC().Format(dateLayout))
	values.Set("realtime_end", end.UTC().Format(dateLayout))
	return values
}

func (c *Client) fetchObservations(ctx context.Context, id model.SeriesID, query url.Values, mode fingerprint.Mode) model.Outcome[[]model.Observation] {
	if query == nil {
		query = url.Values{}
	}
	query.Set("series_id", string(id))

	body, err := c.get(ctx, opObservations, id, observationsPath, query)
	if err != nil {
		return outcomeFromError[[]model.Observation](id, err)
	}

	var payload observationsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.logger.Warn().Err(err).Str("series", string(id)).Msg("observations payload is not valid JSON; treating as empty")
		return model.Success(id, []model.Observation{})
	}
	if payload.Observations == nil {
		c.logger.Debug().Str("series", string(id)).Msg("observations section absent")
		return model.Success(id, []model.Observation{})
	}

	return model.Success(id, c.normalize(id, *payload.Observations, mode))
}

// normalize converts raw rows into observations with their fingerprint attached.
func (c *Client) normalize(id model.SeriesID, raw []rawObservation, mode fingerprint.Mode) []model.Observation {
	website := c.WebsiteURL(id)
	out := make([]model.Observation, 0, len(raw))
	for _, r := range raw {
		reporting, err := time.Parse(dateLayout, r.Date)
		if err != nil {
			c.logger.Warn().Str("series", string(id)).Str("date", r.Date).Msg("skip observation with unparsable date")
			continue
		}
		published, err := time.Parse(dateLayout, r.RealtimeStart)
		if err != nil {
			c.logger.Warn().Str("series", string(id)).Str("realtime_start", r.RealtimeStart).Msg("skip observation with unparsable realtime_start")
			continue
		}

		obs := model.Observation{
			Series:        id,
			ReportingDate: reporting,
			PublishedDate: published,
			Value:         c.parseValue(id, r.Value),
			WebsiteURL:    website,
		}
		if validUntil, err := time.Parse(dateLayout, r.RealtimeEnd); err == nil {
			obs.ValidUntilDate = &validUntil
		}
		obs.Fingerprint = fingerprint.Observation(mode, id, obs.ReportingDate, obs.PublishedDate, obs.Value)
		out = append(out, obs)
	}
	return out
}

// parseValue maps the missing marker, and anything else non-numeric, to null.
func (c *Client) parseValue(id model.SeriesID, raw string) decimal.NullDecimal {
	raw = strings.TrimSpace(raw)
	if raw == missingValue || raw == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		c.logger.Debug().Str("series", string(id)).Str("value", raw).Msg("non-numeric observation value stored as null")
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d.Round(fingerprint.ValuePlaces))
}

// SelectFirstReleases keeps, for every reporting date, the vintage with the
// earliest published date. Ties go to the row seen first. The result is
// ordered by reporting date.
func SelectFirstReleases(all []model.Observation) []model.Observation {
	index := make(map[time.Time]int, len(all))
	first := make([]model.Observation, 0, len(all))
	for _, obs := range all {
		key := obs.ReportingDate
		i, ok := index[key]
		if !ok {
			index[key] = len(first)
			first = append(first, obs)
			continue
		}
		if obs.PublishedDate.Before(first[i].PublishedDate) {
			first[i] = obs
		}
	}
	sort.SliceStable(first, func(a, b int) bool {
		return first[a].ReportingDate.Before(first[b].ReportingDate)
	})
	return first
}
