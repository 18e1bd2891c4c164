package fetcher

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"fred-ingest/internal/metrics"
)

const (
	headerRateLimit     = "X-Rate-Limit-Limit"
	headerRateRemaining = "X-Rate-Limit-Remaining"
)

// Quota is the server side view of the request budget, as last reported in
// response headers. It is informational only; pacing is done locally.
type Quota struct {
	Limit      int
	Remaining  int
	ObservedAt time.Time
}

func (c *Client) recordQuota(h http.Header) {
	limit, errLimit := strconv.Atoi(h.Get(headerRateLimit))
	remaining, errRemaining := strconv.Atoi(h.Get(headerRateRemaining))
	if errLimit != nil && errRemaining != nil {
		return
	}

	q := &Quota{Limit: limit, Remaining: remaining, ObservedAt: c.now()}
	c.quotaMu.Lock()
	c.quota = q
	c.quotaMu.Unlock()

	if errRemaining == nil {
		metrics.QuotaRemaining.Set(float64(remaining))
	}
}

// Quota returns the last reported quota, if any response carried one.
func (c *Client) Quota() (Quota, bool) {
	c.quotaMu.RLock()
	defer c.quotaMu.RUnlock()
	if c.quota == nil {
		return Quota{}, false
	}
	return *c.quota, true
}

// CheckQuota issues one cheap request so the quota headers are refreshed.
func (c *Client) CheckQuota(ctx context.Context) (Quota, error) {
	query := url.Values{}
	query.Set("category_id", "0")
	if _, err := c.get(ctx, "quota", "", categoryPath, query); err != nil {
		return Quota{}, err
	}
	q, _ := c.Quota()
	return q, nil
}
