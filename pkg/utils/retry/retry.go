package retry

import (
	"context"
	"errors"
	"time"
)

// ErrRetry is returned by a polled function to ask for another attempt.
var ErrRetry = errors.New("retry")

// ErrGaveUp is returned by a Backoff built with Limited when no attempts are left.
var ErrGaveUp = errors.New("gave up: attempts exhausted")

// ErrDeadlineExceeded is returned by a Backoff built with Within when the time budget is spent.
var ErrDeadlineExceeded = errors.New("deadline exceeded")

// Backoff is a (blocking) function returns when to retry.
//
// # Args
//
// - context: context. If context is canceled, Backoff should return ctx.Err().
//
// # Returns
//
// - error: nil if retry, non-nil if not.
type Backoff func(context.Context) error

// StaticBackoff returns a Backoff function that waits for a fixed interval.
var StaticBackoff = func(interval time.Duration) Backoff {
	return func(ctx context.Context) error {
		return sleep(ctx, interval)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
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

// Immediately makes the first call of b return at once.
//
// Later calls are passed to b as-is.
func Immediately(b Backoff) Backoff {
	first := true
	return func(ctx context.Context) error {
		if first {
			first = false
			return sleep(ctx, 0)
		}
		return b(ctx)
	}
}

// Limited allows at most n calls of b.
//
// The (n+1)-th call returns ErrGaveUp without waiting.
func Limited(n int, b Backoff) Backoff {
	count := 0
	return func(ctx context.Context) error {
		if n <= count {
			return ErrGaveUp
		}
		count += 1
		return b(ctx)
	}
}

// Within bounds the total time spent in b by budget.
//
// The clock starts on the first call.
// Once the budget has been spent, calls return ErrDeadlineExceeded.
// A wait is shortened so that it does not cross the deadline.
func Within(budget time.Duration, b Backoff) Backoff {
	var deadline time.Time
	return func(ctx context.Context) error {
		now := time.Now()
		if deadline.IsZero() {
			deadline = now.Add(budget)
		}
		if !now.Before(deadline) {
			return ErrDeadlineExceeded
		}

		dctx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()
		if err := b(dctx); err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return ErrDeadlineExceeded
			}
			return err
		}
		return nil
	}
}

// Blocking calls f until it returns nil or non-retry error.
//
// # Args
//
// - ctx: context
//
// - b: backoff function. It is called before each call of f.
//
// - f: function to be called. If f returns ErrRetry, Blocking calls f again after backoff.
//
// # Returns
//
// - T: last return value of f
//
// - error: error returned by f, or by b.
func Blocking[T any](ctx context.Context, b Backoff, f func() (T, error)) (T, error) {
	last := *new(T)
	for {
		if err := b(ctx); err != nil {
			return last, err
		}

		var err error
		last, err = f()
		if err == nil {
			return last, nil
		}
		if errors.Is(err, ErrRetry) {
			continue
		}
		return last, err
	}
}
