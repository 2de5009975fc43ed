package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyZeroRetriesRunsOnce(t *testing.T) {
	calls := 0
	err := NewRetryPolicy(0, time.Millisecond).Do(func() error {
		calls++
		return errors.New("boom")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected single failing attempt, got calls=%d err=%v", calls, err)
	}
}

func TestRetryPolicyRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := NewRetryPolicy(3, time.Millisecond).Do(func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got calls=%d err=%v", calls, err)
	}
}

func TestRetryPolicyStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := NewRetryPolicy(5, 50*time.Millisecond).DoContext(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected cancellation after first attempt, got calls=%d err=%v", calls, err)
	}
}

func TestRetryPolicySkipsNonRetryable(t *testing.T) {
	policy := NewRetryPolicy(3, time.Millisecond)
	policy.Retryable = IsRateLimit
	calls := 0
	_ = policy.Do(func() error {
		calls++
		return errors.New("bad request")
	})
	if calls != 1 {
		t.Fatalf("expected no retry for non-retryable error, got %d calls", calls)
	}
}

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	now := time.Unix(100, 0)
	cb.now = func() time.Time { return now }

	rl := RateLimitError{Provider: "openai"}
	_ = cb.Execute(func() error { return rl })
	if !cb.Allow() {
		t.Fatalf("expected breaker closed after one failure")
	}
	_ = cb.Execute(func() error { return rl })
	if err := cb.Execute(func() error { return nil }); !IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected breaker to close after cooldown, got %v", err)
	}
}

func TestCircuitBreakerIgnoresOtherErrors(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	_ = cb.Execute(func() error { return errors.New("invalid file format") })
	if cb.State() != BreakerClosed {
		t.Fatalf("request errors must not open the breaker")
	}
}

func TestCircuitBreakerHalfOpenAdmitsOneTrial(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	now := time.Unix(100, 0)
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return UnavailableError{Provider: "openai", Status: 503} })
	if cb.State() != BreakerOpen {
		t.Fatalf("expected outage to open the breaker, got %s", cb.State())
	}

	now = now.Add(2 * time.Minute)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("expected half_open after cooldown, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatalf("expected the first trial to be admitted")
	}
	if cb.Allow() {
		t.Fatalf("expected a second concurrent trial to be refused")
	}
	cb.OnError(RateLimitError{})
	if cb.State() != BreakerOpen {
		t.Fatalf("expected failed trial to reopen the breaker, got %s", cb.State())
	}
}
