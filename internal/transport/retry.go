package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultMaxAttempts is the number of tries before Retry gives up.
	DefaultMaxAttempts = 3

	// baseDelay is the starting backoff interval (before jitter).
	baseDelay = 500 * time.Millisecond

	// maxDelay caps the backoff interval.
	maxDelay = 5 * time.Second

	// maxRetryAfter is the longest server-requested pause Retry waits out.
	// A longer Retry-After fails the call at once.
	maxRetryAfter = 30 * time.Second
)

// Permanent marks err as not worth retrying. Retry returns it after the
// first attempt.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry executes fn up to maxAttempts times with exponential backoff and
// jitter. Errors wrapped with [Permanent] stop the loop immediately. A
// [StatusError] carrying RetryAfter replaces the next backoff interval. It
// returns nil on the first successful call, or a wrapped error containing the
// last failure if all attempts are exhausted.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("retry cancelled: %w", err)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	permanent := false
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := fn()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
			return struct{}{}, err
		}
		var se *StatusError
		if errors.As(err, &se) && se.RetryAfter > 0 {
			if se.RetryAfter > maxRetryAfter {
				permanent = true
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, &waitError{err: err, wait: &backoff.RetryAfterError{Duration: se.RetryAfter}}
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(uint(maxAttempts)),
	)

	switch {
	case err == nil:
		return nil
	case permanent:
		return unwrapPermanent(err)
	case ctx.Err() != nil:
		return fmt.Errorf("retry cancelled: %w", err)
	default:
		return fmt.Errorf("all %d attempts failed: %w", attempts, err)
	}
}

// newBackOff returns an exponential schedule starting at baseDelay with
// ±50 % jitter, capped at maxDelay.
func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	return b
}

// waitError carries a server-requested delay to backoff.Retry while keeping
// err as the visible failure.
type waitError struct {
	err  error
	wait *backoff.RetryAfterError
}

func (e *waitError) Error() string   { return e.err.Error() }
func (e *waitError) Unwrap() []error { return []error{e.err, e.wait} }

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}
