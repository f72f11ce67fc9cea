// Package retry runs an operation in an explicit bounded loop with a fixed
// backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy is returned when a policy allows no attempts.
var ErrInvalidPolicy = errors.New("retry policy must allow at least one attempt")

// Policy bounds a retry loop.
type Policy struct {
	Attempts int           // total attempts including the first, >= 1
	Backoff  time.Duration // fixed wait between attempts

	// Sleep waits for d or until ctx is done. Nil uses a timer; tests inject
	// a recorder.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result describes how a loop ended.
type Result struct {
	Attempts int
	Err      error
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. retryable may be nil, in which case every error retries.
// The returned Result always carries the number of attempts made.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) Result {
	if p.Attempts < 1 {
		return Result{Err: ErrInvalidPolicy}
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = wait
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return Result{Attempts: attempt}
		}
		if retryable != nil && !retryable(lastErr) {
			return Result{Attempts: attempt, Err: lastErr}
		}
		if attempt == p.Attempts {
			break
		}
		if err := sleep(ctx, p.Backoff); err != nil {
			return Result{Attempts: attempt, Err: fmt.Errorf("retry interrupted after attempt %d: %w", attempt, errors.Join(lastErr, err))}
		}
	}
	return Result{Attempts: p.Attempts, Err: lastErr}
}

func wait(ctx context.Context, d time.Duration) error {
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
