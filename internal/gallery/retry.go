package gallery

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultMaxAttempts bounds RetryOnConflict when the caller passes zero.
const DefaultMaxAttempts = 3

const (
	retryInitialInterval = 20 * time.Millisecond
	retryMaxInterval     = 250 * time.Millisecond
)

// RetryOnConflict re-runs operation while it fails with ErrConflictRetryable, at most
// maxAttempts times with exponential backoff. Each attempt re-runs the whole operation so
// the collection is re-read under a fresh lock. Any other error returns immediately.
func RetryOnConflict[T any](ctx context.Context, maxAttempts int, operation func() (T, error)) (T, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		result, err := operation()
		if err != nil && !errors.Is(err, ErrConflictRetryable) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(maxAttempts)))
}
