package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestScheduler(t *testing.T, opts ...Option) (*SafeScheduler, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append(opts, WithClock(clock.Now))
	return New(zerolog.Nop(), opts...), clock
}

func TestRunPending_RespectsPeriod(t *testing.T) {
	s, clock := newTestScheduler(t)
	runs := 0
	s.Every(5*time.Second, "scout", func() error {
		runs++
		return nil
	})

	s.RunPending()
	assert.Equal(t, 1, runs, "first tick runs the job")

	clock.Advance(time.Second)
	s.RunPending()
	assert.Equal(t, 1, runs, "period has not elapsed")

	clock.Advance(5 * time.Second)
	s.RunPending()
	assert.Equal(t, 2, runs)
}

func TestRunPending_FailedJobRerunsImmediately(t *testing.T) {
	s, clock := newTestScheduler(t)
	attempts := 0
	job := s.Every(time.Minute, "flaky", func() error {
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	})

	s.RunPending()
	require.Equal(t, 1, attempts)
	firstStamp := job.LastRun()

	clock.Advance(time.Second)
	s.RunPending()
	assert.Equal(t, 2, attempts, "failed job must be eligible on the next tick")
	assert.True(t, job.LastRun().After(firstStamp), "last_run is stamped on every attempt")

	clock.Advance(time.Second)
	s.RunPending()
	assert.Equal(t, 2, attempts, "successful job waits out its period again")
}

func TestRunPending_FailedJobWaitsWhenRerunDisabled(t *testing.T) {
	s, clock := newTestScheduler(t, WithRerunImmediately(false))
	attempts := 0
	s.Every(time.Minute, "flaky", func() error {
		attempts++
		return errors.New("always failing")
	})

	s.RunPending()
	clock.Advance(time.Second)
	s.RunPending()
	assert.Equal(t, 1, attempts)

	clock.Advance(time.Minute)
	s.RunPending()
	assert.Equal(t, 2, attempts)
}

func TestRunPending_PanicIsContained(t *testing.T) {
	s, clock := newTestScheduler(t)
	healthyRuns := 0
	s.Every(time.Second, "panicky", func() error {
		panic("boom")
	})
	s.Every(time.Second, "healthy", func() error {
		healthyRuns++
		return nil
	})

	assert.NotPanics(t, func() { s.RunPending() })
	assert.Equal(t, 1, healthyRuns, "a panicking job must not starve its peers")

	clock.Advance(2 * time.Second)
	assert.NotPanics(t, func() { s.RunPending() })
	assert.Equal(t, 2, healthyRuns)
}

func TestRun_StopsOnClose(t *testing.T) {
	s, _ := newTestScheduler(t)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.Run(stop)
		close(done)
	}()
	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
