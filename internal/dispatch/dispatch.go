// Package dispatch runs one unit of work per series identifier with bounded
// parallelism and collects exactly one outcome per identifier.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fred-ingest/internal/model"
)

// DefaultConcurrency is the worker width used when none is configured.
const DefaultConcurrency = 20

// ErrCancelled is recorded for identifiers that never started because the
// dispatch was cancelled or timed out.
var ErrCancelled = errors.New("dispatch cancelled before the unit started")

// Options configures a Dispatcher.
type Options struct {
	// Concurrency bounds the number of units running at once.
	Concurrency int
	// Timeout stops admitting new units once elapsed. Running units keep the
	// caller's context.
	Timeout time.Duration
}

// Dispatcher is shared by every batch operation; it holds no per-batch state.
type Dispatcher struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Dispatcher.
func New(opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Dispatcher{
		opts:   opts,
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Concurrency returns the configured worker width.
func (d *Dispatcher) Concurrency() int { return d.opts.Concurrency }

// Unit fetches one identifier.
type Unit[T any] func(ctx context.Context, id model.SeriesID) model.Outcome[T]

// Run applies unit to every identifier and returns one outcome per distinct
// identifier. A failing or panicking unit never affects its siblings. When
// ctx ends, units not yet started are recorded as transient failures wrapping
// ErrCancelled and the outcomes gathered so far are kept.
func Run[T any](ctx context.Context, d *Dispatcher, ids []model.SeriesID, unit Unit[T]) map[model.SeriesID]model.Outcome[T] {
	ids = distinct(ids)
	results := make(map[model.SeriesID]model.Outcome[T], len(ids))
	if len(ids) == 0 {
		return results
	}

	admit := ctx
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		admit, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.opts.Concurrency)
	set := func(out model.Outcome[T]) {
		mu.Lock()
		results[out.Series] = out
		mu.Unlock()
	}

	started := time.Now()
	for _, id := range ids {
		id := id
		if admit.Err() != nil {
			set(cancelled[T](id, admit.Err()))
			continue
		}
		g.Go(func() error {
			// The slot may have been granted after cancellation.
			if err := admit.Err(); err != nil {
				set(cancelled[T](id, err))
				return nil
			}
			set(runUnit(ctx, d, id, unit))
			return nil
		})
	}
	_ = g.Wait()

	d.summarize(counts(results), len(ids), time.Since(started))
	return results
}

func runUnit[T any](ctx context.Context, d *Dispatcher, id model.SeriesID, unit Unit[T]) (out model.Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("series", string(id)).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("unit of work panicked")
			out = model.Fatal[T](id, fmt.Errorf("unit of work panicked: %v", r))
		}
	}()

	out = unit(ctx, id)
	// Units are keyed by the dispatched id regardless of what they report.
	out.Series = id
	return out
}

func cancelled[T any](id model.SeriesID, cause error) model.Outcome[T] {
	return model.Transient[T](id, fmt.Errorf("%w: %w", ErrCancelled, cause))
}

func distinct(ids []model.SeriesID) []model.SeriesID {
	seen := make(map[model.SeriesID]struct{}, len(ids))
	out := make([]model.SeriesID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func counts[T any](results map[model.SeriesID]model.Outcome[T]) map[model.Status]int {
	byStatus := make(map[model.Status]int, 4)
	for _, out := range results {
		byStatus[out.Status]++
	}
	return byStatus
}

func (d *Dispatcher) summarize(byStatus map[model.Status]int, total int, took time.Duration) {
	event := d.logger.Info()
	if byStatus[model.StatusSuccess] < total {
		event = d.logger.Warn()
	}
	event.
		Int("total", total).
		Int("success", byStatus[model.StatusSuccess]).
		Int("not_found", byStatus[model.StatusNotFound]).
		Int("transient", byStatus[model.StatusTransient]).
		Int("fatal", byStatus[model.StatusFatal]).
		Dur("took", took).
		Msg("dispatch finished")
}

// Failed returns the identifiers whose outcome is not a success.
func Failed[T any](results map[model.SeriesID]model.Outcome[T]) []model.SeriesID {
	var out []model.SeriesID
	for id, res := range results {
		if !res.OK() {
			out = append(out, id)
		}
	}
	return out
}

// Retryable returns the identifiers whose outcome is a transient failure.
func Retryable[T any](results map[model.SeriesID]model.Outcome[T]) []model.SeriesID {
	var out []model.SeriesID
	for id, res := range results {
		if res.Status == model.StatusTransient {
			out = append(out, id)
		}
	}
	return out
}
