package resilience

import (
	"context"
	"time"
)

// RetryPolicy defines retry behavior for provider calls.
// MaxRetries counts attempts after the first one; zero means a single attempt.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	// Retryable filters which errors are retried. Nil retries every error
	// except an open circuit.
	Retryable func(error) bool
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// Do runs fn until it succeeds or the retry budget is spent.
func (r RetryPolicy) Do(fn func() error) error {
	return r.DoContext(context.Background(), func(context.Context) error { return fn() })
}

// DoContext is Do with cancellation between attempts. The backoff doubles after
// every failed attempt.
func (r RetryPolicy) DoContext(ctx context.Context, fn func(context.Context) error) error {
	backoff := r.Backoff
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if i == r.MaxRetries || !r.retryable(err) {
			return err
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		backoff *= 2
	}
	return err
}

func (r RetryPolicy) retryable(err error) bool {
	if IsCircuitOpen(err) {
		return false
	}
	if r.Retryable == nil {
		return true
	}
	return r.Retryable(err)
}
