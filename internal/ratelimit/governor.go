package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fred-ingest/internal/metrics"
)

// Options configure a Governor.
type Options struct {
	// Calls is the number of requests admitted per window.
	Calls int
	// Window is the length of one admission window.
	Window time.Duration
}

// Window is the shared admission state. It is only read or written while
// holding the Governor's mutex.
type Window struct {
	CallTimestamps []time.Time
	Capacity       int
	Length         time.Duration
	// NextResetAt is zero while the window still has capacity.
	NextResetAt time.Time
}

// Governor paces outbound calls against a fixed call window shared by every
// worker that holds a reference to it.
//
// The bound is best effort: timers may fire slightly early or late relative
// to the wall clock, so callers must treat it as throttling rather than a
// hard ceiling enforced by the remote side.
type Governor struct {
	mu     sync.Mutex
	window Window
	total  int64
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs a Governor. Non-positive options fall back to 90 calls per minute.
func New(opts Options, logger zerolog.Logger) *Governor {
	if opts.Calls <= 0 {
		opts.Calls = 90
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	return &Governor{
		window: Window{
			CallTimestamps: make([]time.Time, 0, opts.Calls),
			Capacity:       opts.Calls,
			Length:         opts.Window,
		},
		now:    time.Now,
		logger: logger.With().Str("component", "rate_governor").Logger(),
	}
}

// Acquire blocks until a slot is available in the current window and records
// one call. It returns ctx.Err() if the context ends first; a slot that was
// already recorded is never refunded.
func (g *Governor) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, ok := g.tryAcquire()
		if ok {
			return nil
		}

		g.logger.Debug().Dur("wait", wait).Msg("rate window exhausted, waiting for reset")
		metrics.RateLimitWaits.Inc()
		metrics.RateLimitWaitSeconds.Observe(wait.Seconds())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		// Released waiters re-enter the critical section one at a time, so
		// only the first Capacity of them get the freshly reset window.
	}
}

func (g *Governor) tryAcquire() (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.window.NextResetAt.IsZero() {
		if now.Before(g.window.NextResetAt) {
			return g.window.NextResetAt.Sub(now), false
		}
		g.window.CallTimestamps = g.window.CallTimestamps[:0]
		g.window.NextResetAt = time.Time{}
	}

	g.window.CallTimestamps = append(g.window.CallTimestamps, now)
	g.total++
	if len(g.window.CallTimestamps) >= g.window.Capacity {
		g.window.NextResetAt = now.Add(g.window.Length)
	}
	return 0, true
}

// Snapshot returns a copy of the current window state.
func (g *Governor) Snapshot() Window {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := g.window
	snap.CallTimestamps = append([]time.Time(nil), g.window.CallTimestamps...)
	return snap
}

// Total returns the number of calls admitted since construction.
func (g *Governor) Total() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}
