// Package retry runs fallible operations with a bounded number of attempts
// and a backoff delay between them.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxWait caps a single wait of an Exponential schedule.
const MaxWait = time.Minute

// BackoffFunc creates the wait schedule for one Do call. Schedules are
// stateful, so every call gets its own.
type BackoffFunc func() backoff.BackOff

// SleepFunc waits for d. It returns a non-nil error only when ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy configures Do.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first. Values below 1 mean 1.
	MaxAttempts int

	// Backoff creates the schedule of waits between attempts. Nil means no wait.
	Backoff BackoffFunc

	// Sleep performs the wait. Nil means a real timer.
	Sleep SleepFunc

	// Notify, when set, is called after every attempt. err is nil on success and
	// wait is zero when no further attempt follows.
	Notify func(attempt int, err error, wait time.Duration)
}

// Exponential doubles base after every failed attempt: base, 2*base, 4*base, ...
// without jitter, never waiting longer than MaxWait.
func Exponential(base time.Duration) BackoffFunc {
	return func() backoff.BackOff {
		return backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(base),
			backoff.WithRandomizationFactor(0),
			backoff.WithMultiplier(2),
			backoff.WithMaxInterval(max(base, MaxWait)),
			backoff.WithMaxElapsedTime(0),
		)
	}
}

// DefaultPolicy makes three attempts, waiting one second and then two seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(time.Second),
	}
}

// Sleep blocks for d, returning early with ctx.Err() when ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ExhaustedError is returned by Do when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do calls op until it succeeds or the policy runs out of attempts. op receives
// the 1-based attempt number. When every attempt fails Do returns an
// *ExhaustedError wrapping the last failure; when ctx ends before the last
// attempt it returns the last failure wrapped together with the context error.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	maxAttempts := max(p.MaxAttempts, 1)

	var schedule backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Backoff != nil {
		schedule = p.Backoff()
	}
	schedule = backoff.WithContext(backoff.WithMaxRetries(schedule, uint64(maxAttempts-1)), ctx)

	var timer backoff.Timer
	if p.Sleep != nil {
		timer = &sleepTimer{ctx: ctx, sleep: p.Sleep, c: make(chan time.Time, 1)}
	}

	var (
		attempt  int
		notified int
		lastErr  error
	)
	notify := func(err error, wait time.Duration) {
		notified = attempt
		if p.Notify != nil {
			p.Notify(attempt, err, wait)
		}
	}

	v, err := backoff.RetryNotifyWithTimerAndData(func() (T, error) {
		attempt++
		v, err := op(ctx, attempt)
		if err != nil {
			lastErr = err
			return v, err
		}
		notify(nil, 0)
		return v, nil
	}, schedule, notify, timer)
	if err == nil {
		return v, nil
	}

	var zero T
	if notified != attempt {
		notify(lastErr, 0)
	}
	if cerr := ctx.Err(); cerr != nil && attempt < maxAttempts {
		return zero, fmt.Errorf("retry interrupted after attempt %d: %w", attempt, joinErr{last: lastErr, ctx: cerr})
	}
	return zero, &ExhaustedError{Attempts: attempt, Err: lastErr}
}

// sleepTimer lets a SleepFunc stand in for the backoff timer.
type sleepTimer struct {
	ctx   context.Context
	sleep SleepFunc
	c     chan time.Time
}

func (t *sleepTimer) Start(d time.Duration) {
	if err := t.sleep(t.ctx, d); err != nil && t.ctx.Err() != nil {
		return
	}
	t.c <- time.Now()
}

func (t *sleepTimer) Stop() {}

func (t *sleepTimer) C() <-chan time.Time {
	return t.c
}

// joinErr unwraps to both the last attempt error and the context error.
type joinErr struct {
	last error
	ctx  error
}

func (j joinErr) Error() string {
	return fmt.Sprintf("%v (%v)", j.last, j.ctx)
}

func (j joinErr) Unwrap() []error {
	return []error{j.last, j.ctx}
}
