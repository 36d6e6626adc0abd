package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEveryWaitsOneFullInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired int32
	s := New(time.UTC, nil)
	if err := s.Every(ctx, "j", "1s", func(context.Context) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 0 {
		t.Fatalf("job must not fire before the first interval elapses, fired %d times", n)
	}
}

func TestEveryFiresAndSingleFlights(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started int32
	s := New(time.UTC, nil)
	// The job outlives several ticks; overlapping firings must be skipped.
	if err := s.Every(ctx, "slow", "1s", func(jctx context.Context) error {
		atomic.AddInt32(&started, 1)
		time.Sleep(3500 * time.Millisecond)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(3200 * time.Millisecond)
	if n := atomic.LoadInt32(&started); n != 1 {
		t.Fatalf("single-flight violated: job started %d times while first run active", n)
	}
	cancel()
	s.Wait()
}

func TestCancelStopsFutureFirings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var fired int32
	s := New(time.UTC, nil)
	if err := s.Every(ctx, "j", "1s", func(context.Context) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(1200 * time.Millisecond)
	cancel()
	s.Wait()
	after := atomic.LoadInt32(&fired)

	time.Sleep(1500 * time.Millisecond)
	if atomic.LoadInt32(&fired) != after {
		t.Fatalf("job fired after cancellation")
	}
}

func TestJobPanicDoesNotStopScheduler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired int32
	s := New(time.UTC, nil)
	if err := s.Every(ctx, "failing", "1s", func(context.Context) error {
		atomic.AddInt32(&fired, 1)
		panic("job blew up")
	}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(2500 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n < 2 {
		t.Fatalf("scheduler must keep firing after a panicking job, fired %d times", n)
	}
	cancel()
	s.Wait()
}

func TestAtRejectsBadClock(t *testing.T) {
	s := New(time.UTC, nil)
	if err := s.At(context.Background(), "bad", []string{"25:00"}, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("invalid wall-clock time must be rejected")
	}
}

func TestEveryRejectsBadInterval(t *testing.T) {
	s := New(time.UTC, nil)
	if err := s.Every(context.Background(), "bad", "2x", func(context.Context) error { return nil }); err == nil {
		t.Fatalf("invalid interval must be rejected")
	}
}
