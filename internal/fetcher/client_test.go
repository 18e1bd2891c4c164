package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fred-ingest/internal/model"
	"fred-ingest/internal/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *ratelimit.Governor) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gov := ratelimit.New(ratelimit.Options{Calls: 1000, Window: time.Minute}, zerolog.Nop())
	c := New(Options{
		BaseURL:     srv.URL,
		WebsiteBase: "https://example.test/series",
		APIKey:      "secret",
		Timeout:     2 * time.Second,
	}, gov, zerolog.Nop())
	c.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return c, gov
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestFetchObservationsStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   model.Status
	}{
		{http.StatusNotFound, model.StatusFatal},
		{http.StatusBadRequest, model.StatusFatal},
		{http.StatusTooManyRequests, model.StatusTransient},
		{http.StatusInternalServerError, model.StatusTransient},
		{http.StatusBadGateway, model.StatusTransient},
	}
	for _, tc := range cases {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tc.status, `{"error_code":1,"error_message":"Bad Request. The series does not exist."}`)
		})
		out := c.FetchObservations(context.Background(), "BAD", model.LatestOnly)
		if out.Status != tc.want {
			t.Fatalf("status %d: got %s, want %s", tc.status, out.Status, tc.want)
		}
		if out.Series != "BAD" {
			t.Fatalf("outcome must name the series, got %q", out.Series)
		}
		if out.Err == nil || out.Message() == "" {
			t.Fatalf("status %d: expected a message", tc.status)
		}
	}
}

func TestRemoteErrorMatchesTaxonomy(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"error_message":"not here"}`)
	})
	out := c.FetchObservations(context.Background(), "X", model.LatestOnly)
	if !errors.Is(out.Err, model.ErrFatalRemote) {
		t.Fatalf("404 should match ErrFatalRemote: %v", out.Err)
	}
	if errors.Is(out.Err, model.ErrTransientRemote) {
		t.Fatal("404 must not match ErrTransientRemote")
	}
	var remote *RemoteError
	if !errors.As(out.Err, &remote) || remote.Message != "not here" {
		t.Fatalf("expected error_message to be surfaced, got %v", out.Err)
	}
}

func TestFetchObservationsMissingValueKept(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("realtime_start") != "" {
			t.Errorf("latest mode must not send realtime bounds")
		}
		writeJSON(w, http.StatusOK, `{"observations":[
			{"realtime_start":"2024-05-01","realtime_end":"9999-12-31","date":"2024-01-01","value":"3.7"},
			{"realtime_start":"2024-05-01","realtime_end":"9999-12-31","date":"2024-02-01","value":"."}
		]}`)
	})
	out := c.FetchObservations(context.Background(), "UNRATE", model.LatestOnly)
	if !out.OK() {
		t.Fatalf("unexpected outcome: %s %v", out.Status, out.Err)
	}
	if len(out.Value) != 2 {
		t.Fatalf("missing values must be retained, got %d rows", len(out.Value))
	}
	if out.Value[1].Value.Valid {
		t.Fatal("\".\" must parse to null")
	}
	if got := out.Value[0].Value.Decimal.String(); got != "3.7" {
		t.Fatalf("value = %s", got)
	}
	for _, obs := range out.Value {
		if obs.Fingerprint == "" {
			t.Fatal("every observation needs a fingerprint")
		}
		if obs.WebsiteURL != "https://example.test/series/UNRATE" {
			t.Fatalf("website url = %s", obs.WebsiteURL)
		}
	}
	if out.Value[0].Fingerprint == out.Value[1].Fingerprint {
		t.Fatal("distinct observations must not share a fingerprint")
	}
}

func TestFetchObservationsAbsentSectionIsEmptySuccess(t *testing.T) {
	for _, body := range []string{`{"count":0}`, `not json`} {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, body)
		})
		out := c.FetchObservations(context.Background(), "EMPTY", model.AllRevisions)
		if !out.OK() || len(out.Value) != 0 {
			t.Fatalf("body %q: got %s with %d rows", body, out.Status, len(out.Value))
		}
	}
}

func TestFetchObservationsAllRevisionsDefaultsWindow(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("realtime_start") != DefaultEarliestRealtime {
			t.Errorf("realtime_start = %s", q.Get("realtime_start"))
		}
		if q.Get("realtime_end") != "2024-06-01" {
			t.Errorf("realtime_end = %s", q.Get("realtime_end"))
		}
		if q.Get("api_key") != "secret" || q.Get("file_type") != "json" {
			t.Errorf("missing api_key or file_type")
		}
		writeJSON(w, http.StatusOK, `{"observations":[
			{"realtime_start":"2024-02-01","realtime_end":"2024-02-14","date":"2024-01-01","value":"3.7"},
			{"realtime_start":"2024-02-15","realtime_end":"2024-02-29","date":"2024-01-01","value":"3.8"},
			{"realtime_start":"2024-03-01","realtime_end":"9999-12-31","date":"2024-01-01","value":"3.9"}
		]}`)
	})
	out := c.FetchObservations(context.Background(), "UNRATE", model.AllRevisions)
	if !out.OK() || len(out.Value) != 3 {
		t.Fatalf("got %s with %d rows", out.Status, len(out.Value))
	}
	seen := map[string]bool{}
	for _, obs := range out.Value {
		seen[obs.Fingerprint] = true
		if obs.ValidUntilDate == nil {
			t.Fatal("realtime_end should populate ValidUntilDate")
		}
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct fingerprints, got %d", len(seen))
	}
}

func TestFetchObservationsFirstOnly(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"observations":[
			{"realtime_start":"2024-02-01","date":"2024-01-01","value":"3.7"},
			{"realtime_start":"2024-03-01","date":"2024-01-01","value":"3.9"},
			{"realtime_start":"2024-02-15","date":"2024-01-01","value":"3.8"},
			{"realtime_start":"2024-03-01","date":"2024-02-01","value":"4.0"}
		]}`)
	})
	out := c.FetchObservations(context.Background(), "UNRATE", model.FirstOnly)
	if !out.OK() || len(out.Value) != 2 {
		t.Fatalf("got %s with %d rows", out.Status, len(out.Value))
	}
	first := out.Value[0]
	if first.PublishedDate.Format(dateLayout) != "2024-02-01" {
		t.Fatalf("first release published %s", first.PublishedDate.Format(dateLayout))
	}
	if out.Value[1].ReportingDate.Format(dateLayout) != "2024-02-01" {
		t.Fatal("result must be ordered by reporting date")
	}
}

func TestSelectFirstReleasesTieKeepsFirstSeen(t *testing.T) {
	d := func(s string) time.Time { v, _ := time.Parse(dateLayout, s); return v }
	rows := []model.Observation{
		{ReportingDate: d("2024-01-01"), PublishedDate: d("2024-02-01"), Fingerprint: "a"},
		{ReportingDate: d("2024-01-01"), PublishedDate: d("2024-02-01"), Fingerprint: "b"},
	}
	got := SelectFirstReleases(rows)
	if len(got) != 1 || got[0].Fingerprint != "a" {
		t.Fatalf("tie must keep the first row, got %+v", got)
	}
}

func TestEveryRequestTakesAGovernorSlot(t *testing.T) {
	var hits atomic.Int64
	c, gov := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, `{"observations":[]}`)
	})
	for i := 0; i < 5; i++ {
		c.FetchObservations(context.Background(), "UNRATE", model.LatestOnly)
	}
	if gov.Total() != hits.Load() || hits.Load() != 5 {
		t.Fatalf("governor total %d, requests %d", gov.Total(), hits.Load())
	}
}

func TestFetchInfo(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("series_id") == "NOPE" {
			writeJSON(w, http.StatusOK, `{"seriess":[]}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"seriess":[{"id":"UNRATE","title":"Unemployment Rate","frequency":"Monthly","units":"Percent","popularity":94}]}`)
	})

	out := c.FetchInfo(context.Background(), "UNRATE", []string{"title", "popularity"})
	if !out.OK() {
		t.Fatalf("unexpected outcome %s: %v", out.Status, out.Err)
	}
	if out.Value.Field("title") != "Unemployment Rate" || out.Value.Field("popularity") != "94" {
		t.Fatalf("fields = %v", out.Value.Fields)
	}
	if out.Value.Field("frequency") != "Monthly" || out.Value.Fingerprint == "" {
		t.Fatal("key fields must always be present")
	}

	missing := c.FetchInfo(context.Background(), "NOPE", nil)
	if missing.Status != model.StatusNotFound {
		t.Fatalf("empty seriess should be not found, got %s", missing.Status)
	}
}

func TestQuotaHeadersRecorded(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-limit", "120")
		w.Header().Set("x-rate-limit-remaining", "117")
		writeJSON(w, http.StatusOK, `{"categories":[{"id":0,"name":"Categories","parent_id":0}]}`)
	})
	if _, ok := c.Quota(); ok {
		t.Fatal("no quota before the first response")
	}
	q, err := c.CheckQuota(context.Background())
	if err != nil {
		t.Fatalf("check quota: %v", err)
	}
	if q.Limit != 120 || q.Remaining != 117 {
		t.Fatalf("quota = %+v", q)
	}
}

func TestSearchFilters(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"seriess":[
			{"id":"UNRATE","title":"Unemployment Rate","frequency":"Monthly","popularity":94},
			{"id":"UNRATENSA","title":"Unemployment Rate","frequency":"Monthly","popularity":60},
			{"id":"UNRATEQ","title":"Unemployment Rate","frequency":"Quarterly","popularity":95}
		]}`)
	})
	pop, err := ParseFilter("popularity=90")
	if err != nil {
		t.Fatal(err)
	}
	freq, _ := ParseFilter("frequency=month")
	got, err := c.Search(context.Background(), "unemployment", []Filter{pop, freq})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "UNRATE" {
		t.Fatalf("got %+v", got)
	}

	if _, err := ParseFilter("novalue"); err == nil {
		t.Fatal("filter without = should fail")
	}
}

func TestCategorySeries(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case categoryPath:
			if r.URL.Query().Get("category_id") == "33" {
				writeJSON(w, http.StatusOK, `{"categories":[{"id":33,"name":"Money","parent_id":32}]}`)
				return
			}
			writeJSON(w, http.StatusBadRequest, `{"error_message":"no such category"}`)
		case categorySeriesPath:
			writeJSON(w, http.StatusOK, `{"seriess":[{"id":"M2SL"}]}`)
		}
	})
	cats, err := c.Categories(context.Background(), 32, 34)
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 1 || cats[0].Name != "Money" || cats[0].ParentID != 32 {
		t.Fatalf("categories = %+v", cats)
	}
	series, err := c.CategorySeries(context.Background(), 33)
	if err != nil || len(series) != 1 || series[0].ID != "M2SL" {
		t.Fatalf("series = %+v, err = %v", series, err)
	}
}
