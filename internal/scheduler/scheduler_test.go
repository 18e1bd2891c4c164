package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Hour, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2024, 6, 1, 10, 20, 0, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("next tick = %s", got)
	}
	if got := s.bucketStart(now); !got.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("bucket start = %s", got)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())
	now := time.Date(2024, 6, 1, 10, 20, 30, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("next tick = %s", got)
	}
}

func TestRunOnStartTicksImmediately(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, bucket time.Time) error {
			ticks.Add(1)
			cancel()
			return errors.New("tick errors are logged, not returned")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run 应在取消后返回 context.Canceled, 实际 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if ticks.Load() != 1 {
		t.Fatalf("expected one startup tick, got %d", ticks.Load())
	}
}

func TestRunRepeatsOnInterval(t *testing.T) {
	s := New(Options{Interval: 20 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var ticks atomic.Int64
	_ = s.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		if ticks.Add(1) == 3 {
			cancel()
		}
		return nil
	})
	if ticks.Load() < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks.Load())
	}
}
