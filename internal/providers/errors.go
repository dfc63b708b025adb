package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitError is returned when a backend rejects a request for exceeding
// its request rate.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// QuotaError is returned when a backend reports an exhausted usage quota.
type QuotaError struct {
	Message    string
	StatusCode int
}

func (e *QuotaError) Error() string {
	return e.Message
}

// ErrorClass groups generator errors by how the scheduler reacts to them.
type ErrorClass int

const (
	// ClassOther errors are not retried on the same model.
	ClassOther ErrorClass = iota
	// ClassRateLimited errors are retried with backoff.
	ClassRateLimited
	// ClassQuotaExceeded errors are retried with backoff.
	ClassQuotaExceeded
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassQuotaExceeded:
		return "quota_exceeded"
	default:
		return "other"
	}
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// Classify returns the class of err. Typed errors are checked first; other
// errors fall back to matching well-known status text.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassOther
	}
	var qe *QuotaError
	if errors.As(err, &qe) {
		return ClassQuotaExceeded
	}
	if _, ok := IsRateLimitError(err); ok {
		return ClassRateLimited
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota"):
		return ClassQuotaExceeded
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "too many requests"):
		return ClassRateLimited
	}
	return ClassOther
}

// IsRetryable reports whether err should be retried on the same model.
func IsRetryable(err error) bool {
	c := Classify(err)
	return c == ClassRateLimited || c == ClassQuotaExceeded
}

// RetryAfter returns the server-suggested delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	if rle, ok := IsRateLimitError(err); ok {
		return rle.RetryAfter
	}
	return 0
}

// statusError builds the typed error for an HTTP status. quota marks a 429
// that reports an exhausted quota rather than a request rate.
func statusError(provider string, status int, msg string, retryAfter time.Duration, quota bool) error {
	if status != http.StatusTooManyRequests {
		if msg == "" {
			return fmt.Errorf("%s error (status %d)", provider, status)
		}
		return fmt.Errorf("%s error (status %d): %s", provider, status, msg)
	}
	if quota {
		return &QuotaError{
			Message:    fmt.Sprintf("%s quota exceeded: %s", provider, msg),
			StatusCode: status,
		}
	}
	return &RateLimitError{
		Message:    fmt.Sprintf("%s rate limited: %s", provider, msg),
		RetryAfter: retryAfter,
		StatusCode: status,
	}
}

// parseRetryAfter parses a Retry-After header given in seconds or as an
// HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
