// Package pipeline orchestrates document analysis: single-pass or chunked
// model runs, bounded-concurrency batches, consolidation, and tiered
// degradation when calls fail.
package pipeline

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/DTeam-Top/docpilot/internal/llm"
)

// DefaultMaxAttempts allows one retry on top of the initial call.
const DefaultMaxAttempts = 2

const maxBackoff = 30 * time.Second

// RetryOptions controls WithRetry.
type RetryOptions struct {
	MaxAttempts int
	ShouldRetry func(error) bool // nil retries every failure
	BaseDelay   time.Duration    // first backoff, default 1s
}

// WithRetry runs fn, retrying on failures ShouldRetry accepts, with
// exponential backoff between attempts. The last error is returned once
// attempts are exhausted. Context cancellation wins over the backoff wait.
func WithRetry[T any](ctx context.Context, opts RetryOptions, fn func() (T, error)) (T, error) {
	var zero T
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if opts.ShouldRetry != nil && !opts.ShouldRetry(err) {
			return zero, err
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}
		select {
		case <-time.After(backoff(attempt, opts.BaseDelay)):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}

// backoff returns the wait for attempt n (0-indexed) with jitter.
func backoff(attempt int, base time.Duration) time.Duration {
	d := base << uint(attempt)
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2 + 1))
	return d + jitter
}

// RetryTransport accepts transport-class failures: timeouts, connection
// resets, upstream unavailability.
func RetryTransport(err error) bool {
	return llm.IsTransient(err)
}

// RetryModel accepts transient model failures but never content-policy
// refusals; retrying a refusal will not change the outcome.
func RetryModel(err error) bool {
	if llm.IsRefusal(err) {
		return false
	}
	return llm.IsTransient(err)
}
