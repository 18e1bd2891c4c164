package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fred-ingest/internal/alerting"
	"fred-ingest/internal/config"
	"fred-ingest/internal/dispatch"
	"fred-ingest/internal/fetcher"
	"fred-ingest/internal/loader"
	"fred-ingest/internal/metrics"
	"fred-ingest/internal/model"
	"fred-ingest/internal/scheduler"
	"fred-ingest/internal/storage"
)

// ErrNoSeries is returned when a sync request resolves to no identifiers.
var ErrNoSeries = errors.New("no series to sync")

// Discoverer resolves series identifiers from search and categories.
type Discoverer interface {
	Search(ctx context.Context, text string, filters []fetcher.Filter) ([]fetcher.SeriesSummary, error)
	CategorySeries(ctx context.Context, id int) ([]fetcher.SeriesSummary, error)
}

// Fetcher is everything a sync pass needs from the remote API.
type Fetcher interface {
	fetcher.ObservationFetcher
	fetcher.InfoFetcher
}

// Request describes one sync pass.
type Request struct {
	Series        []model.SeriesID
	Modes         []model.RevisionMode
	IncludeInfo   bool
	InfoFields    []string
	RealtimeStart time.Time
	RealtimeEnd   time.Time
}

// Failure is the recorded reason a series did not load.
type Failure struct {
	Status     model.Status
	Message    string
	Operations []string
}

// Report summarises one sync pass. Failed lists every series with at least
// one non-success outcome so the subset can be re-run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Series   int
	Tables   map[string]loader.Result
	Failed   map[model.SeriesID]Failure
}

// FailedSeries returns the failed identifiers in sorted order.
func (r Report) FailedSeries() []model.SeriesID {
	ids := make([]model.SeriesID, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Report) recordFailure(op string, id model.SeriesID, status model.Status, msg string) {
	f, ok := r.Failed[id]
	if !ok {
		f = Failure{Status: status, Message: msg}
	} else if f.Message != msg {
		f.Message += "; " + msg
	}
	f.Operations = append(f.Operations, op)
	r.Failed[id] = f
}

// Service orchestrates discovery, fetching, loading and notification.
type Service struct {
	scheduler  *scheduler.Scheduler
	fetcher    Fetcher
	discoverer Discoverer
	dispatcher *dispatch.Dispatcher
	loader     *loader.Loader
	notifier   alerting.Notifier
	locker     storage.AdvisoryLocker
	logger     zerolog.Logger

	sync    config.SyncConfig
	tables  config.TablesConfig
	modes   []model.RevisionMode
	lockKey int64
}

// New constructs the sync service. sched, discoverer and notifier may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, f Fetcher, discoverer Discoverer, d *dispatch.Dispatcher, store storage.Store, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		fetcher:    f,
		discoverer: discoverer,
		dispatcher: d,
		loader:     loader.New(store, logger),
		notifier:   notifier,
		locker:     locker,
		logger:     logger.With().Str("component", "service").Logger(),
		sync:       cfg.Sync,
		tables:     cfg.Tables,
		modes:      cfg.Modes(),
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned sync loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick runs the configured sync once, unless another instance holds the lock.
func (s *Service) ProcessTick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	req, err := s.ConfiguredRequest(ctx)
	if err != nil {
		return err
	}
	_, err = s.Sync(ctx, req)
	return err
}

// ConfiguredRequest builds the request described by the sync config section,
// resolving search text and categories into identifiers.
func (s *Service) ConfiguredRequest(ctx context.Context) (Request, error) {
	ids := make([]model.SeriesID, 0, len(s.sync.Series))
	for _, id := range s.sync.Series {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, model.SeriesID(id))
		}
	}

	if s.sync.SearchText != "" || len(s.sync.CategoryIDs) > 0 {
		found, err := s.Discover(ctx, s.sync.SearchText, s.sync.SearchFilters, s.sync.CategoryIDs)
		if err != nil {
			return Request{}, err
		}
		ids = append(ids, found...)
	}

	return Request{
		Series:      ids,
		Modes:       s.modes,
		IncludeInfo: true,
		InfoFields:  s.sync.InfoFields,
	}, nil
}

// Discover resolves identifiers from a filtered search and category listings.
func (s *Service) Discover(ctx context.Context, text string, rawFilters []string, categories []int) ([]model.SeriesID, error) {
	if s.discoverer == nil {
		return nil, fmt.Errorf("series discovery not configured")
	}
	var ids []model.SeriesID
	if text != "" {
		filters := make([]fetcher.Filter, 0, len(rawFilters))
		for _, raw := range rawFilters {
			f, err := fetcher.ParseFilter(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: sync.search_filters: %v", config.ErrConfiguration, err)
			}
			filters = append(filters, f)
		}
		hits, err := s.discoverer.Search(ctx, text, filters)
		if err != nil {
			return nil, fmt.Errorf("search series: %w", err)
		}
		for _, h := range hits {
			ids = append(ids, model.SeriesID(h.ID))
		}
	}
	for _, cat := range categories {
		hits, err := s.discoverer.CategorySeries(ctx, cat)
		if err != nil {
			return nil, fmt.Errorf("list category %d series: %w", cat, err)
		}
		for _, h := range hits {
			ids = append(ids, model.SeriesID(h.ID))
		}
	}
	return ids, nil
}

// Sync fetches the requested series in every mode and loads the new rows.
// Per-series failures are listed in the report; the returned error only
// reports persistence failures.
func (s *Service) Sync(ctx context.Context, req Request) (Report, error) {
	report := Report{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
		Tables:  make(map[string]loader.Result),
		Failed:  make(map[model.SeriesID]Failure),
	}
	logger := s.logger.With().Str("run_id", report.RunID).Logger()

	ids := distinct(req.Series)
	report.Series = len(ids)
	if len(ids) == 0 {
		metrics.SyncRuns.WithLabelValues("empty").Inc()
		return report, ErrNoSeries
	}
	modes := req.Modes
	if len(modes) == 0 {
		modes = []model.RevisionMode{model.LatestOnly}
	}

	logger.Info().Int("series", len(ids)).Int("modes", len(modes)).Msg("sync started")

	var errs []error
	if req.IncludeInfo {
		if err := s.syncInfo(ctx, &report, ids, req.InfoFields); err != nil {
			errs = append(errs, err)
		}
	}
	for _, mode := range modes {
		if err := s.syncObservations(ctx, &report, ids, mode, req); err != nil {
			errs = append(errs, err)
		}
	}

	report.Finished = time.Now().UTC()
	err := errors.Join(errs...)

	result := "success"
	switch {
	case err != nil:
		result = "error"
	case len(report.Failed) > 0:
		result = "partial"
	}
	metrics.SyncRuns.WithLabelValues(result).Inc()

	event := logger.Info()
	if result != "success" {
		event = logger.Warn()
	}
	event.Int("failed", len(report.Failed)).
		Dur("took", report.Finished.Sub(report.Started)).
		Str("result", result).
		Msg("sync finished")
	for _, id := range report.FailedSeries() {
		f := report.Failed[id]
		logger.Warn().Str("series", string(id)).Str("status", f.Status.String()).Msg(f.Message)
	}

	s.notify(ctx, report, err)
	return report, err
}

func (s *Service) syncInfo(ctx context.Context, report *Report, ids []model.SeriesID, fields []string) error {
	if len(fields) == 0 {
		fields = fetcher.DefaultInfoFields
	}
	results := fetchWithRetry(ctx, s, ids, func(ctx context.Context, id model.SeriesID) model.Outcome[model.SeriesInfo] {
		return s.fetcher.FetchInfo(ctx, id, fields)
	})

	infos := make([]model.SeriesInfo, 0, len(results))
	for _, id := range ids {
		out := results[id]
		if !out.OK() {
			report.recordFailure("info", id, out.Status, out.Message())
			continue
		}
		infos = append(infos, out.Value)
	}

	table := storage.InfoTable(s.tables.Info, fields)
	res, err := s.loader.LoadIncremental(ctx, table, storage.InfoRows(infos, fields))
	report.Tables[table.Name] = res
	return err
}

func (s *Service) syncObservations(ctx context.Context, report *Report, ids []model.SeriesID, mode model.RevisionMode, req Request) error {
	var opts []fetcher.QueryOption
	if !req.RealtimeStart.IsZero() || !req.RealtimeEnd.IsZero() {
		opts = append(opts, fetcher.WithRealtime(req.RealtimeStart, req.RealtimeEnd))
	}
	results := fetchWithRetry(ctx, s, ids, func(ctx context.Context, id model.SeriesID) model.Outcome[[]model.Observation] {
		return s.fetcher.FetchObservations(ctx, id, mode, opts...)
	})

	var obs []model.Observation
	for _, id := range ids {
		out := results[id]
		if !out.OK() {
			report.recordFailure(mode.String(), id, out.Status, out.Message())
			continue
		}
		obs = append(obs, out.Value...)
	}

	table := storage.ObservationTable(s.tables.Table(mode))
	res, err := s.loader.LoadIncremental(ctx, table, storage.ObservationRows(obs))
	report.Tables[table.Name] = res
	return err
}

// fetchWithRetry dispatches unit over ids, then re-dispatches the transiently
// failed subset with exponential backoff until it succeeds, attempts run out
// or ctx ends.
func fetchWithRetry[T any](ctx context.Context, s *Service, ids []model.SeriesID, unit dispatch.Unit[T]) map[model.SeriesID]model.Outcome[T] {
	results := make(map[model.SeriesID]model.Outcome[T], len(ids))
	pending := ids

	attempt := func() error {
		out := dispatch.Run(ctx, s.dispatcher, pending, unit)
		for id, o := range out {
			results[id] = o
		}
		pending = dispatch.Retryable(out)
		if len(pending) > 0 {
			return fmt.Errorf("%d series failed transiently", len(pending))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	if s.sync.Retry.InitialInterval > 0 {
		policy.InitialInterval = s.sync.Retry.InitialInterval
	}
	if s.sync.Retry.MaxInterval > 0 {
		policy.MaxInterval = s.sync.Retry.MaxInterval
	}
	policy.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(policy, uint64(max(s.sync.Retry.MaxAttempts, 0)))
	b = backoff.WithContext(b, ctx)

	_ = backoff.RetryNotify(attempt, b, func(err error, wait time.Duration) {
		s.logger.Info().Err(err).Dur("wait", wait).Msg("retrying transient failures")
	})
	return results
}

func (s *Service) notify(ctx context.Context, report Report, syncErr error) {
	if s.notifier == nil {
		return
	}
	note := alerting.Notification{
		RunID:    report.RunID,
		Started:  report.Started,
		Finished: report.Finished,
		Series:   report.Series,
		Inserted: make(map[string]int64, len(report.Tables)),
		Failed:   make(map[string]string, len(report.Failed)),
	}
	for name, res := range report.Tables {
		note.Inserted[name] = res.Inserted
	}
	for id, f := range report.Failed {
		note.Failed[string(id)] = f.Status.String() + ": " + f.Message
	}
	if syncErr != nil {
		note.AdditionalMsg = "Error: " + syncErr.Error()
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("run_id", report.RunID).Msg("failed to send sync report")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func distinct(ids []model.SeriesID) []model.SeriesID {
	seen := make(map[model.SeriesID]struct{}, len(ids))
	out := make([]model.SeriesID, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
