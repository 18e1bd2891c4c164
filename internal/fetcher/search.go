package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

const (
	searchPath = "/series/search"
	opSearch   = "search"
)

// SeriesSummary is one search hit.
type SeriesSummary struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Frequency          string `json:"frequency"`
	Units              string `json:"units"`
	SeasonalAdjustment string `json:"seasonal_adjustment"`
	Popularity         int    `json:"popularity"`
	Notes              string `json:"notes"`
	ObservationStart   string `json:"observation_start"`
	ObservationEnd     string `json:"observation_end"`
}

// Filter keeps search hits whose attribute matches Value. Numeric attributes
// match when they are at least Value; text attributes match on a
// case-insensitive substring.
type Filter struct {
	Attribute string
	Value     string
}

// ParseFilter reads "attribute=value".
func ParseFilter(s string) (Filter, error) {
	attr, value, ok := strings.Cut(s, "=")
	attr = strings.TrimSpace(attr)
	if !ok || attr == "" {
		return Filter{}, fmt.Errorf("invalid filter %q: want attribute=value", s)
	}
	return Filter{Attribute: strings.ToLower(attr), Value: strings.TrimSpace(value)}, nil
}

// Match reports whether the summary passes the filter. Unknown attributes never match.
func (f Filter) Match(s SeriesSummary) bool {
	if f.Attribute == "popularity" {
		min, err := strconv.Atoi(f.Value)
		if err != nil {
			return false
		}
		return s.Popularity >= min
	}
	var field string
	switch f.Attribute {
	case "id":
		field = s.ID
	case "title":
		field = s.Title
	case "frequency":
		field = s.Frequency
	case "units":
		field = s.Units
	case "seasonal_adjustment":
		field = s.SeasonalAdjustment
	case "notes":
		field = s.Notes
	default:
		return false
	}
	return strings.Contains(strings.ToLower(field), strings.ToLower(f.Value))
}

// Search runs a free-text series search and applies filters locally.
func (c *Client) Search(ctx context.Context, text string, filters []Filter) ([]SeriesSummary, error) {
	query := url.Values{}
	query.Set("search_text", text)
	body, err := c.get(ctx, opSearch, "", searchPath, query)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Series []SeriesSummary `json:"seriess"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := payload.Series[:0]
	for _, s := range payload.Series {
		keep := true
		for _, f := range filters {
			if !f.Match(s) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, s)
		}
	}
	return out, nil
}
