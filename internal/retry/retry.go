// Package retry reruns operations that fail transiently, with exponential
// backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that a Policy returns it without retrying.
// The wrapper is stripped before the error reaches the caller.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Policy describes how an operation is retried.
type Policy struct {
	// Attempts is the total number of calls, including the first. Values
	// below 1 mean a single call.
	Attempts int
	// BaseDelay is the pause before the second call. It doubles on each
	// further retry and is jittered by +-25%.
	BaseDelay time.Duration
	// MaxDelay caps the pause between calls. Zero means no cap.
	MaxDelay time.Duration
	// Retryable limits retries to matching errors. Nil retries everything
	// except permanent errors.
	Retryable func(error) bool
	// OnRetry, if set, is called before each retry with the 1-based number
	// of the failed attempt.
	OnRetry func(attempt int, err error)
}

// Run calls fn until it succeeds, returns a non-retryable error, runs out
// of attempts or ctx is done. The last error is returned.
func (p Policy) Run(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt >= attempts {
			return err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(delay)):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

// jitter spreads d uniformly over [0.75d, 1.25d].
func jitter(d time.Duration) time.Duration {
	spread := int64(d / 2)
	if spread <= 0 {
		return d
	}
	return d - d/4 + time.Duration(rand.Int64N(spread+1))
}
