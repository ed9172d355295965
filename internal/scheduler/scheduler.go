// Package scheduler runs the engine's periodic jobs on a single worker.
package scheduler

import (
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Job is one periodic task.
type Job struct {
	name    string
	period  time.Duration
	fn      func() error
	lastRun time.Time
	nextRun time.Time
}

// LastRun reports when the job last started, successfully or not.
func (j *Job) LastRun() time.Time {
	return j.lastRun
}

// SafeScheduler is a cooperative periodic scheduler. Every tick it runs each
// job whose next-run time has passed, on the calling goroutine. A job that
// fails (error or panic) is logged with its stack, stamped, and, when
// rerunImmediately is set, left eligible for the next tick instead of being
// pushed a full period out.
type SafeScheduler struct {
	jobs             []*Job
	tick             time.Duration
	rerunImmediately bool
	now              func() time.Time
	log              zerolog.Logger
}

// Option configures a SafeScheduler.
type Option func(*SafeScheduler)

// WithRerunImmediately controls failed-job rescheduling (default true).
func WithRerunImmediately(v bool) Option {
	return func(s *SafeScheduler) { s.rerunImmediately = v }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *SafeScheduler) { s.now = now }
}

// New creates a scheduler ticking every second.
func New(log zerolog.Logger, opts ...Option) *SafeScheduler {
	s := &SafeScheduler{
		tick:             time.Second,
		rerunImmediately: true,
		now:              time.Now,
		log:              log.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Every registers a job to run once per period. The first run happens on the
// first tick after registration.
func (s *SafeScheduler) Every(period time.Duration, name string, fn func() error) *Job {
	job := &Job{
		name:    name,
		period:  period,
		fn:      fn,
		nextRun: s.now(),
	}
	s.jobs = append(s.jobs, job)
	s.log.Info().Str("job", name).Dur("period", period).Msg("Job registered")
	return job
}

// Run ticks until stop is closed. Jobs run sequentially on this goroutine.
func (s *SafeScheduler) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
	for {
		select {
		case <-stop:
			s.log.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			s.RunPending()
		}
	}
}

// RunPending runs every job whose next-run time has passed.
func (s *SafeScheduler) RunPending() {
	now := s.now()
	for _, job := range s.jobs {
		if job.nextRun.After(now) {
			continue
		}
		s.runJob(job)
	}
}

func (s *SafeScheduler) runJob(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Str("job", job.name).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Job panicked")
			s.stampFailed(job)
		}
	}()

	if err := job.fn(); err != nil {
		s.log.Error().Err(err).Str("job", job.name).Msg("Job failed")
		s.stampFailed(job)
		return
	}
	job.lastRun = s.now()
	job.nextRun = job.lastRun.Add(job.period)
}

func (s *SafeScheduler) stampFailed(job *Job) {
	job.lastRun = s.now()
	if s.rerunImmediately {
		// Eligible again on the next tick.
		job.nextRun = job.lastRun
		return
	}
	job.nextRun = job.lastRun.Add(job.period)
}
