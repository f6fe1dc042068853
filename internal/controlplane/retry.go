package controlplane

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryInitialInterval = 1 * time.Second
	retryMultiplier      = 2
	retryMaxAttempts     = 5
)

// withRetry runs fn with bounded exponential backoff, retrying only errors
// classified transient. Non-transient errors and context cancellation return
// immediately.
func withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.Multiplier = retryMultiplier
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	operation := func() error {
		err := classify(fn())
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retryMaxAttempts-1), ctx))
}
