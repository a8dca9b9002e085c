package providers

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnauthorized means the credential was rejected. Retrying cannot help
	// and no later request will succeed either.
	ErrUnauthorized = errors.New("llm unauthorized")
	// ErrUnavailable covers 5xx responses and transport failures.
	ErrUnavailable = errors.New("llm unavailable")
	// ErrRateLimited is matched by *RateLimitError through errors.Is.
	ErrRateLimited = errors.New("llm rate limited")
	// ErrProviderNotFound is returned by the registry for unknown names.
	ErrProviderNotFound = errors.New("provider not found")
)

// RateLimitError is returned when a backend answers 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return e.Message + " (retry after " + e.RetryAfter.String() + ")"
	}
	return e.Message
}

// Is lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// IsRateLimitError unwraps err to a *RateLimitError.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// IsFatal reports whether err invalidates every remaining request.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsRetriable reports whether a request that failed with err may succeed
// if sent again.
func IsRetriable(err error) bool {
	if err == nil || IsFatal(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
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
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
