// Package clock abstracts wall-clock time so the countdown and the
// grace-window gate can be driven deterministically in tests.
package clock

import (
	"context"
	"time"
)

// Clock reports the current time and blocks for a duration.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Sleep waits for d using a timer that is released if ctx ends first.
func (System) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// HasElapsed reports whether at least d has passed between ref and now.
func HasElapsed(now, ref time.Time, d time.Duration) bool {
	return now.Sub(ref) >= d
}
