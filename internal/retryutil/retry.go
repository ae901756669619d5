// Package retryutil wraps unreliable external calls in retry-with-delay
// discipline. The delay is constant across attempts; callers distinguish
// transient from permanent failures with Permanent.
package retryutil

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Invoke calls op up to maxAttempts times, waiting delay between attempts.
// Errors marked with Permanent stop retrying immediately. When attempts are
// exhausted the last error is logged and the zero value is returned with
// ok=false; callers must treat that as a hard failure of the wrapped call.
func Invoke[T any](ctx context.Context, logger *slog.Logger, op func() (T, error), maxAttempts uint64, delay time.Duration) (result T, ok bool) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	attempt := 0
	wrapped := func() error {
		attempt++
		value, err := op()
		if err != nil {
			logger.Warn("operation attempt failed", "attempt", attempt, "error", err)
			return err
		}
		result = value
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), maxAttempts-1)
	if err := backoff.Retry(wrapped, backoff.WithContext(policy, ctx)); err != nil {
		logger.Error("operation attempts exhausted", "attempts", attempt, "error", err)
		var zero T
		return zero, false
	}
	return result, true
}

// Permanent marks err as non-retryable: malformed input and other
// caller-side failures should not burn retry attempts meant for transient
// network errors.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
