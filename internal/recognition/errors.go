package recognition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RateLimitError is returned for HTTP 429. RetryAfter is zero when the
// server did not say how long to back off.
type RateLimitError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %v): %s", e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("rate limited: %s", e.Body)
}

// HTTPError represents an unexpected HTTP status from the recognition service.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from recognition service: %s", e.StatusCode, e.Body)
}

// ValidationError is fatal: the request itself was rejected and retrying
// the same bytes cannot succeed.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// isTransient reports whether err is worth another attempt after a backoff.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 && httpErr.StatusCode < 600
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "eof")
}

// isFatal reports whether err must not be retried.
func isFatal(err error) bool {
	if err == nil {
		return false
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429
	}
	return false
}
