package freshdesk

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is returned once the API keeps answering 429 after the
// retry budget is spent. Every return of this error was preceded by at
// least one Retry-After backoff.
var ErrRateLimited = errors.New("freshdesk: rate limit exceeded")

// ErrNotFound is returned for 404 responses. Graph traversal treats
// referenced tickets that no longer exist as recoverable.
var ErrNotFound = errors.New("freshdesk: not found")

// RateLimitError carries the context of an exhausted rate-limit retry loop.
type RateLimitError struct {
	Attempts   int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("freshdesk: still rate limited after %d retries (last Retry-After %s)", e.Attempts, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// TransientError marks a network or server-side failure that survived the
// exponential backoff budget.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("freshdesk: transient failure after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// APIError is a non-retriable error response (4xx other than 404/429).
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("freshdesk: API error %d: %s", e.StatusCode, e.Body)
}
