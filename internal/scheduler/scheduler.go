// Package scheduler runs the reconciler's periodic jobs: probe cycles,
// retention sweeps and the duplicate-customer consistency check.
//
// Each job owns a ticker and runs once immediately on Start. A failing cycle
// is logged and counted; it never stops the loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-billing-reconciler/internal/observability"
)

// ErrUnknownJob is returned by RunNow for a name no job is registered under.
var ErrUnknownJob = errors.New("unknown job")

// ErrRunning is returned by Start when the scheduler is already running.
var ErrRunning = errors.New("scheduler already running")

// Job is one periodic unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives a fixed set of jobs.
type Scheduler struct {
	jobs   []Job
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New returns a scheduler for jobs. Jobs without a Run func or with a
// non-positive interval are rejected.
func New(jobs ...Job) (*Scheduler, error) {
	seen := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		if j.Name == "" || j.Run == nil || j.Interval <= 0 {
			return nil, fmt.Errorf("invalid job %q", j.Name)
		}
		if _, dup := seen[j.Name]; dup {
			return nil, fmt.Errorf("duplicate job %q", j.Name)
		}
		seen[j.Name] = struct{}{}
	}
	return &Scheduler{
		jobs:   jobs,
		logger: log.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Start launches one loop per job. Loops end when ctx is cancelled or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.running = true
	s.done = make(chan struct{})

	for _, j := range s.jobs {
		s.logger.Info().Str("job", j.Name).Dur("interval", j.Interval).Msg("job scheduled")
		s.wg.Add(1)
		go s.loop(ctx, j, s.done)
	}
	return nil
}

// Stop signals every loop to exit and waits for in-flight cycles.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.done)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

// RunNow executes one cycle of the named job synchronously and returns its
// error.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.Name == name {
			return s.execute(ctx, j)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

func (s *Scheduler) loop(ctx context.Context, j Job, done <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	_ = s.execute(ctx, j)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			_ = s.execute(ctx, j)
		}
	}
}

// execute runs one cycle, recovering panics so a single bad cycle cannot
// take the loop down.
func (s *Scheduler) execute(ctx context.Context, j Job) (err error) {
	lg := s.logger.With().Str("job", j.Name).Logger()
	ctx = lg.WithContext(ctx)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", j.Name, rec)
		}
		observability.JobDuration.WithLabelValues(j.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			observability.JobRuns.WithLabelValues(j.Name, "error").Inc()
			lg.Error().Err(err).Msg("job cycle failed")
			return
		}
		observability.JobRuns.WithLabelValues(j.Name, "ok").Inc()
		lg.Debug().Dur("took", time.Since(start)).Msg("job cycle completed")
	}()

	return j.Run(ctx)
}
