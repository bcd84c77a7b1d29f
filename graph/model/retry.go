package model

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// RetryPolicy configures automatic retries of transient provider failures.
//
// The delay before retry n (0-based) is min(BaseDelay * 2^n, MaxDelay) plus
// a random jitter in [0, BaseDelay).
type RetryPolicy struct {
	// MaxAttempts counts the initial call. 1 means no retries.
	MaxAttempts int

	BaseDelay time.Duration

	// MaxDelay caps the exponential delay. 0 means no cap.
	MaxDelay time.Duration

	// Retryable decides whether err is worth another attempt. Nil means
	// IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries rate limits and server errors twice.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// Validate checks the policy's constraints.
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.BaseDelay < 0 || rp.MaxDelay < 0 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// IsRetryable reports whether err is a ProviderError marked retryable.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// WithRetry wraps gen so that retryable failures are attempted again
// according to rp. Context cancellation stops the wait between attempts.
func WithRetry(gen TextGenerator, rp RetryPolicy) TextGenerator {
	if rp.MaxAttempts <= 1 {
		return gen
	}
	retryable := rp.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	return func(ctx context.Context, prompt string) (string, error) {
		var lastErr error
		for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
			if attempt > 0 {
				timer := time.NewTimer(computeBackoff(attempt-1, rp.BaseDelay, rp.MaxDelay, nil))
				select {
				case <-ctx.Done():
					timer.Stop()
					return "", ctx.Err()
				case <-timer.C:
				}
			}

			out, err := gen(ctx, prompt)
			if err == nil {
				return out, nil
			}
			lastErr = err
			if !retryable(err) || ctx.Err() != nil {
				return "", err
			}
		}
		return "", lastErr
	}
}

// computeBackoff returns the delay before retry attempt (0-based).
//
// Example delays with base=1s, maxDelay=30s:
//   - attempt 0: 1-2s
//   - attempt 1: 2-3s
//   - attempt 2: 4-5s
//   - attempt 10: 30-31s (capped)
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := base * (1 << attempt)
	if maxDelay > 0 && (delay > maxDelay || delay <= 0) {
		delay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}
	return delay + jitter
}
