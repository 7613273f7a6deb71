package integration

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError signals that the platform throttled the call (HTTP 429 or equivalent)
type RateLimitError struct {
	Platform PlatformCode
	// RetryAfter is the server-provided delay, zero when the platform sent none
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Platform, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Platform)
}

// TransientError wraps a failure worth retrying (5xx, connection reset)
type TransientError struct {
	Platform   PlatformCode
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: transient error (status %d): %v", e.Platform, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient error: %v", e.Platform, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsRateLimitError reports whether err is or wraps a *RateLimitError
func IsRateLimitError(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsTransientError reports whether err is or wraps a *TransientError
func IsTransientError(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
