package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"fred-ingest/internal/metrics"
	"fred-ingest/internal/model"
	"fred-ingest/internal/ratelimit"
)

const (
	defaultBaseURL     = "https://api.stlouisfed.org/fred"
	defaultWebsiteBase = "https://fred.stlouisfed.org/series"
	defaultUserAgent   = "fredsync/1.0"

	// DefaultEarliestRealtime is the lower realtime bound used when a full
	// revision history is requested without explicit bounds.
	DefaultEarliestRealtime = "1776-07-04"

	dateLayout = "2006-01-02"
)

// Options parameterise the FRED client.
type Options struct {
	BaseURL          string
	WebsiteBase      string
	APIKey           string
	UserAgent        string
	Timeout          time.Duration
	EarliestRealtime time.Time
}

// Client talks to the FRED REST API. Every request first takes a slot from
// the shared rate governor.
type Client struct {
	opts        Options
	governor    *ratelimit.Governor
	client      *http.Client
	baseURL     string
	websiteBase string
	logger      zerolog.Logger
	now         func() time.Time

	quotaMu sync.RWMutex
	quota   *Quota
}

// New constructs a FRED client sharing the given governor.
func New(opts Options, governor *ratelimit.Governor, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	websiteBase := strings.TrimRight(opts.WebsiteBase, "/")
	if websiteBase == "" {
		websiteBase = defaultWebsiteBase
	}
	if opts.EarliestRealtime.IsZero() {
		opts.EarliestRealtime, _ = time.Parse(dateLayout, DefaultEarliestRealtime)
	}
	if governor == nil {
		governor = ratelimit.New(ratelimit.Options{}, logger)
	}

	return &Client{
		opts:        opts,
		governor:    governor,
		client:      &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		websiteBase: websiteBase,
		logger:      logger.With().Str("component", "fred_client").Logger(),
		now:         time.Now,
	}
}

// WebsiteURL returns the public page of a series.
func (c *Client) WebsiteURL(id model.SeriesID) string {
	return c.websiteBase + "/" + url.PathEscape(string(id))
}

// RemoteError describes a failed remote call for one identifier.
type RemoteError struct {
	Series     model.SeriesID
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString("fred ")
	b.WriteString(e.Operation)
	if e.Series != "" {
		b.WriteString(" ")
		b.WriteString(string(e.Series))
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	switch {
	case e.Message != "":
		b.WriteString(": ")
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Retryable reports whether the call may succeed later: rate limited,
// server side failures and transport errors.
func (e *RemoteError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Is lets callers match the error taxonomy with errors.Is.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case model.ErrTransientRemote:
		return e.Retryable()
	case model.ErrFatalRemote:
		return !e.Retryable()
	}
	return false
}

// get issues one paced GET request and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, op string, id model.SeriesID, path string, query url.Values) ([]byte, error) {
	if err := c.governor.Acquire(ctx); err != nil {
		return nil, &RemoteError{Series: id, Operation: op, Err: err}
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.opts.APIKey)
	query.Set("file_type", "json")

	endpoint := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request for %s: %w", op, id, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	metrics.FetchDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		// url.Error carries the full request URL, api_key included.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, &RemoteError{Series: id, Operation: op, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	c.recordQuota(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{Series: id, Operation: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteError{
			Series:     id,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, body),
		}
	}
	return body, nil
}

// errorMessage extracts the API's error_message, falling back to the raw body.
func errorMessage(status int, payload []byte) string {
	if gjson.ValidBytes(payload) {
		if msg := gjson.GetBytes(payload, "error_message"); msg.Exists() && msg.String() != "" {
			return msg.String()
		}
	}
	if trimmed := strings.TrimSpace(string(payload)); trimmed != "" {
		if len(trimmed) > 256 {
			trimmed = trimmed[:256]
		}
		return trimmed
	}
	return http.StatusText(status)
}

// outcomeFromError classifies a failed call into a FetchOutcome.
func outcomeFromError[T any](id model.SeriesID, err error) model.Outcome[T] {
	var remote *RemoteError
	if errors.As(err, &remote) {
		if remote.Retryable() {
			return model.Transient[T](id, err)
		}
		return model.Fatal[T](id, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return model.Transient[T](id, err)
	}
	return model.Fatal[T](id, err)
}

func record[T any](op string, out model.Outcome[T]) model.Outcome[T] {
	metrics.FetchOutcomes.WithLabelValues(op, out.Status.String()).Inc()
	return out
}
