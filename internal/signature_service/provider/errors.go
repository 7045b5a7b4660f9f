package provider

import (
	"errors"
	"fmt"
	"time"
)

// NetworkError is a connection-level failure (reset, hang-up, timeout, DNS or
// connect failure). Exhausted marks the error as surviving the full retry
// budget, which is the signal for mutating callers to run recovery
// verification.
type NetworkError struct {
	Err       error
	Exhausted bool
}

func (e *NetworkError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("network error after exhausting retries: %v", e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitError is the provider's 429 signal. It is never retried by the
// transport; RetryAfter carries the provider's suggested wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
}

// ProviderError is a non-2xx response that is not a rate limit. 5xx responses
// are retried; Exhausted marks a 5xx that survived the retry budget.
type ProviderError struct {
	StatusCode int
	Body       string
	Exhausted  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// IsRetryExhausted reports whether err is a retryable failure that consumed
// the full retry budget.
func IsRetryExhausted(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Exhausted
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Exhausted
	}
	return false
}
