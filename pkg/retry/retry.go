package retry

import (
	"context"
	"time"
)

// Policy defines how to retry an operation. Delay is fixed between attempts;
// the remote venue is assumed to recover quickly, so no exponential backoff.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultPolicy matches the gateway's observed recovery behavior.
var DefaultPolicy = Policy{
	MaxAttempts: 10,
	Delay:       100 * time.Millisecond,
}

// IsRetryableFunc decides if an error should be retried.
type IsRetryableFunc func(error) bool

// Do executes fn with a bounded number of retries according to the policy.
// It returns the last error when attempts are exhausted.
func Do(ctx context.Context, policy Policy, isRetryable IsRetryableFunc, fn func() error) error {
	var err error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.Delay):
		}
	}
	return err
}

// Forever executes fn until it succeeds, returns a non-retryable error, or the
// context is cancelled. Used where abandoning the operation is worse than
// retrying indefinitely.
func Forever(ctx context.Context, delay time.Duration, isRetryable IsRetryableFunc, fn func() error) error {
	for {
		err := fn()
		if err == nil || !isRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
