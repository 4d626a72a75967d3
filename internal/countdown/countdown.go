// Package countdown waits for the sale-start instant.
//
// The wait is a loop of short sleeps rather than one long one: remaining
// time is recomputed from the clock after every sleep, so scheduler jitter
// and host oversleep are corrected on the next iteration.
package countdown

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/buildtall-systems/ticketbot/internal/clock"
)

// Interval returns how long to sleep when remaining time is left until the
// sale opens. A zero result means no wait.
func Interval(remaining time.Duration) time.Duration {
	switch {
	case remaining >= time.Hour:
		return 10 * time.Minute
	case remaining >= 10*time.Minute:
		return time.Minute
	case remaining >= time.Minute:
		return 5 * time.Second
	case remaining > time.Second:
		return time.Second
	case remaining > 0:
		// final sleep lands on the boundary
		return remaining
	default:
		return 0
	}
}

// Report summarises one WaitUntil call.
type Report struct {
	Sleeps int
	Slept  time.Duration
}

// ProgressFunc is called before every sleep with the time left and the
// chosen sleep.
type ProgressFunc func(remaining, sleep time.Duration)

// Scheduler blocks the caller until a target instant.
type Scheduler struct {
	clock      clock.Clock
	logger     *zap.Logger
	onProgress ProgressFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithProgress registers a callback invoked before every sleep.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Scheduler) { s.onProgress = fn }
}

// New creates a Scheduler on the given clock.
func New(c clock.Clock, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{clock: c, logger: logger.Named("countdown")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WaitUntil sleeps in tiers until start, returning once the recomputed
// remaining time is zero or negative.
func (s *Scheduler) WaitUntil(ctx context.Context, start time.Time) (Report, error) {
	var report Report

	remaining := start.Sub(s.clock.Now())
	if remaining <= 0 {
		s.logger.Info("sale already open", zap.Duration("late_by", -remaining))
		return report, nil
	}

	s.logger.Warn("waiting for sale start, make sure the host clock is synchronised",
		zap.Time("sale_start", start),
		zap.Duration("remaining", remaining))

	for remaining > 0 {
		sleep := Interval(remaining)
		s.progress(remaining, sleep)

		if err := s.clock.Sleep(ctx, sleep); err != nil {
			return report, err
		}
		report.Sleeps++
		report.Slept += sleep

		remaining = start.Sub(s.clock.Now())
	}

	s.logger.Info("countdown finished", zap.Int("sleeps", report.Sleeps), zap.Duration("slept", report.Slept))
	return report, nil
}

func (s *Scheduler) progress(remaining, sleep time.Duration) {
	switch {
	case remaining >= time.Minute:
		s.logger.Info("waiting for sale start", zap.Float64("remaining_minutes", remaining.Minutes()))
	case sleep == time.Second:
		s.logger.Info("sale opening soon", zap.Duration("remaining", remaining.Truncate(time.Second)))
	default:
		s.logger.Info("sale opening now", zap.Duration("remaining", remaining))
	}
	if s.onProgress != nil {
		s.onProgress(remaining, sleep)
	}
}
