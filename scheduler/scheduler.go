package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/pauldest/newsdigest/config"
)

// Job is one scheduled callable. Errors are logged, never fatal to the
// scheduler.
type Job func(ctx context.Context) error

// Scheduler triggers fetch and digest jobs at the configured cadence.
// Firings are single-flight per job id: a firing due while the previous
// one still runs is skipped, not queued. Cancellation stops future
// firings; the in-flight one finishes on its own.
type Scheduler struct {
	location *time.Location
	logger   *log.Logger

	mu   sync.Mutex
	jobs []*scheduledJob
	wg   sync.WaitGroup
}

type scheduledJob struct {
	id      string
	run     Job
	running bool
	mu      sync.Mutex
}

// New builds a scheduler operating in loc (UTC when nil).
func New(loc *time.Location, logger *log.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	return &Scheduler{location: loc, logger: logger}
}

// Every registers job to run each time the interval elapses. The first
// firing waits one full interval; nothing runs at registration time.
func (s *Scheduler) Every(ctx context.Context, id, spec string, job Job) error {
	interval, err := config.ParseInterval(spec)
	if err != nil {
		return fmt.Errorf("job %s: %w", id, err)
	}

	j := s.register(id, job)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.fire(ctx, j)
			}
		}
	}()
	s.logger.Printf("job %s scheduled every %s", id, interval)
	return nil
}

// At registers job to run at each wall-clock time (minute resolution) in
// the scheduler's timezone.
func (s *Scheduler) At(ctx context.Context, id string, times []string, job Job) error {
	exprs := make([]*cronexpr.Expression, 0, len(times))
	for _, t := range times {
		hour, minute, err := config.ParseClock(t)
		if err != nil {
			return fmt.Errorf("job %s: %w", id, err)
		}
		expr, err := cronexpr.Parse(fmt.Sprintf("%d %d * * *", minute, hour))
		if err != nil {
			return fmt.Errorf("job %s: %w", id, err)
		}
		exprs = append(exprs, expr)
	}
	if len(exprs) == 0 {
		return nil
	}

	j := s.register(id, job)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			next := s.nextFiring(exprs)
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.fire(ctx, j)
			}
		}
	}()
	s.logger.Printf("job %s scheduled at %v (%s)", id, times, s.location)
	return nil
}

func (s *Scheduler) nextFiring(exprs []*cronexpr.Expression) time.Time {
	now := time.Now().In(s.location)
	var next time.Time
	for _, expr := range exprs {
		candidate := expr.Next(now)
		if candidate.IsZero() {
			continue
		}
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}
	if next.IsZero() {
		// No expression yields a firing; park for a day and re-evaluate.
		next = now.Add(24 * time.Hour)
	}
	return next
}

func (s *Scheduler) register(id string, job Job) *scheduledJob {
	j := &scheduledJob{id: id, run: job}
	s.mu.Lock()
	s.jobs = append(s.jobs, j)
	s.mu.Unlock()
	return j
}

// fire runs a job once, skipping when the prior firing is still active.
// Panics and errors are contained per firing.
func (s *Scheduler) fire(ctx context.Context, j *scheduledJob) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		s.logger.Printf("job %s still running, skipping firing", j.id)
		return
	}
	j.running = true
	j.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Printf("job %s panicked: %v", j.id, r)
			}
			j.mu.Lock()
			j.running = false
			j.mu.Unlock()
		}()
		start := time.Now()
		if err := j.run(ctx); err != nil {
			s.logger.Printf("job %s failed after %s: %v", j.id, time.Since(start).Round(time.Millisecond), err)
			return
		}
		s.logger.Printf("job %s completed in %s", j.id, time.Since(start).Round(time.Millisecond))
	}()
}

// Wait blocks until every goroutine the scheduler started has returned.
// Call after cancelling the context passed to Every/At.
func (s *Scheduler) Wait() { s.wg.Wait() }
