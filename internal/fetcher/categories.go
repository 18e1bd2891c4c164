package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	json "github.com/goccy/go-json"

	"fred-ingest/internal/model"
)

const (
	categoryPath       = "/category"
	categorySeriesPath = "/category/series"
	opCategory         = "category"
)

type rawCategory struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	ParentID int    `json:"parent_id"`
}

// Category returns one node of the category tree.
func (c *Client) Category(ctx context.Context, id int) (model.Category, error) {
	query := url.Values{}
	query.Set("category_id", strconv.Itoa(id))
	body, err := c.get(ctx, opCategory, "", categoryPath, query)
	if err != nil {
		return model.Category{}, err
	}

	var payload struct {
		Categories []rawCategory `json:"categories"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.Category{}, fmt.Errorf("decode category %d: %w", id, err)
	}
	if len(payload.Categories) == 0 {
		return model.Category{}, fmt.Errorf("category %d: %w", id, model.ErrNotFound)
	}
	raw := payload.Categories[0]
	return model.Category{ID: raw.ID, Name: raw.Name, ParentID: raw.ParentID}, nil
}

// Categories returns every category in [from, to] that exists. Missing ids are skipped.
func (c *Client) Categories(ctx context.Context, from, to int) ([]model.Category, error) {
	if to < from {
		return nil, fmt.Errorf("invalid category range %d..%d", from, to)
	}
	out := make([]model.Category, 0, to-from+1)
	for id := from; id <= to; id++ {
		cat, err := c.Category(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			c.logger.Debug().Err(err).Int("category", id).Msg("skip category")
			continue
		}
		out = append(out, cat)
	}
	return out, nil
}

// CategorySeries lists the series filed under a category.
func (c *Client) CategorySeries(ctx context.Context, id int) ([]SeriesSummary, error) {
	query := url.Values{}
	query.Set("category_id", strconv.Itoa(id))
	body, err := c.get(ctx, opCategory, "", categorySeriesPath, query)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Series []SeriesSummary `json:"seriess"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode category %d series: %w", id, err)
	}
	return payload.Series, nil
}
