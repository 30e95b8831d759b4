package scheduler

import (
	"context"
	"log/slog"
	"time"
)

const defaultRetryDelay = time.Minute

// Settings exposes the live autopost time-of-day setting and a signal
// that fires when it changes.
type Settings interface {
	AutopostTime() string
	Changed() <-chan struct{}
}

// Autopost is a re-arming single-shot timer, not a fixed-period
// ticker. Each cycle reads the current time-of-day setting, computes
// the next fire instant and suspends until that instant elapses or the
// setting changes, whichever comes first.
type Autopost struct {
	settings   Settings
	loc        *time.Location
	now        func() time.Time
	fire       func(ctx context.Context) error
	retryDelay time.Duration
}

// AutopostOption configures an Autopost.
type AutopostOption func(*Autopost)

// WithAutopostNow overrides the clock (for testing).
func WithAutopostNow(now func() time.Time) AutopostOption {
	return func(a *Autopost) {
		a.now = now
	}
}

// WithRetryDelay sets the pause after a failed cycle.
func WithRetryDelay(d time.Duration) AutopostOption {
	return func(a *Autopost) {
		a.retryDelay = d
	}
}

// NewAutopost creates the autopost loop. fire is the announcement
// workflow invoked at each computed instant.
func NewAutopost(settings Settings, loc *time.Location, fire func(ctx context.Context) error, opts ...AutopostOption) *Autopost {
	a := &Autopost{
		settings:   settings,
		loc:        loc,
		fire:       fire,
		retryDelay: defaultRetryDelay,
	}
	a.now = func() time.Time { return time.Now().In(loc) }
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run loops until ctx is cancelled. Errors inside one cycle are logged
// and followed by a short pause; the loop never terminates on its own.
func (a *Autopost) Run(ctx context.Context) error {
	for {
		next, err := nextRun(a.now(), a.settings.AutopostTime(), a.loc)
		if err != nil {
			slog.Error("invalid autopost time setting", "error", err)
			if !a.pause(ctx) {
				return ctx.Err()
			}
			continue
		}
		slog.Info("next autopost scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(a.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-a.settings.Changed():
			// Setting changed; recompute the fire instant.
			timer.Stop()
			slog.Info("autopost time updated, rescheduling")
			continue
		case <-timer.C:
		}

		if err := a.fire(ctx); err != nil {
			slog.Error("autopost cycle failed", "error", err)
			if !a.pause(ctx) {
				return ctx.Err()
			}
		}
	}
}

// pause sleeps for the retry delay; false means ctx was cancelled.
func (a *Autopost) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(a.retryDelay):
		return true
	}
}

// nextRun computes the next absolute fire instant: today at the given
// time of day, rolled to tomorrow when that instant has passed. The
// store hands out normalized zero-padded values, so the strict parser
// applies here too.
func nextRun(now time.Time, timeOfDay string, loc *time.Location) (time.Time, error) {
	hour, minute, err := parseTime(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	now = now.In(loc)
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target, nil
}
