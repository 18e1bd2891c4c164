package fetcher

import (
	"context"
	"errors"
	"net/url"

	"github.com/tidwall/gjson"

	"fred-ingest/internal/fingerprint"
	"fred-ingest/internal/model"
)

const (
	seriesPath = "/series"
	opInfo     = "info"
)

// DefaultInfoFields are the metadata fields kept when none are requested.
var DefaultInfoFields = []string{
	"id",
	"title",
	"frequency",
	"units",
	"seasonal_adjustment",
	"popularity",
	"notes",
	"observation_start",
	"observation_end",
	"last_updated",
}

// FetchInfo retrieves the selected metadata fields of one series. The
// frequency and units fields are always fetched since the row key depends on
// them.
func (c *Client) FetchInfo(ctx context.Context, id model.SeriesID, fields []string) model.Outcome[model.SeriesInfo] {
	if len(fields) == 0 {
		fields = DefaultInfoFields
	}

	query := url.Values{}
	query.Set("series_id", string(id))
	body, err := c.get(ctx, opInfo, id, seriesPath, query)
	if err != nil {
		return record(opInfo, outcomeFromError[model.SeriesInfo](id, err))
	}

	if !gjson.ValidBytes(body) {
		c.logger.Warn().Str("series", string(id)).Msg("series info payload is not valid JSON")
		return record(opInfo, model.NotFound[model.SeriesInfo](id, errors.New("series info payload is not valid JSON")))
	}
	series := gjson.GetBytes(body, "seriess.0")
	if !series.Exists() {
		return record(opInfo, model.NotFound[model.SeriesInfo](id, nil))
	}

	info := model.SeriesInfo{Series: id, Fields: make(map[string]string, len(fields)+2)}
	for _, name := range fields {
		if v := series.Get(name); v.Exists() {
			info.Fields[name] = v.String()
		}
	}
	frequency := series.Get("frequency").String()
	units := series.Get("units").String()
	info.Fields["frequency"] = frequency
	info.Fields["units"] = units
	info.Fields["website_url"] = c.WebsiteURL(id)
	info.Fingerprint = fingerprint.SeriesInfo(id, frequency, units)

	return record(opInfo, model.Success(id, info))
}
