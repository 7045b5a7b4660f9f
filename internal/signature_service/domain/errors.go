package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentNotFound is returned when a document id matches no record.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrVersionConflict is returned when an optimistic-concurrency update
	// loses the race; callers reload and retry or give up.
	ErrVersionConflict = errors.New("document version conflict")
)

// ValidationError rejects a request before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// RateLimitedError is the caller-visible "try again later" outcome of a send
// attempt, carrying the wait the provider (or the local gate) suggested.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("provider rate limit in effect, retry after %d seconds", e.RetryAfterSeconds)
}
