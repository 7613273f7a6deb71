// Package ratelimit throttles outbound calls per tenant with a sliding window.
//
// A window admits at most Limit calls in any interval of length Window. Callers
// that find the window exhausted block until the oldest call ages out; calls are
// never dropped.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrWaitCancelled is returned when the context ends while waiting for a slot
var ErrWaitCancelled = errors.New("ratelimit: wait cancelled")

// Limiter gates calls per key.
//
// Thread Safety: Implementations must be safe for concurrent use by multiple goroutines.
type Limiter interface {
	// Wait blocks until a slot for key is available and claims it
	Wait(ctx context.Context, key string) error
}

// Config holds the window parameters
type Config struct {
	// Limit is the maximum number of calls per window
	Limit int `mapstructure:"limit"`
	// Window is the length of the rolling interval
	Window time.Duration `mapstructure:"window"`
}

// DefaultConfig returns the Xero default of 60 calls per minute
func DefaultConfig() Config {
	return Config{Limit: 60, Window: time.Minute}
}

// Validate checks the config
func (c Config) Validate() error {
	if c.Limit < 1 {
		return fmt.Errorf("ratelimit: limit must be >= 1, got %d", c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("ratelimit: window must be > 0, got %s", c.Window)
	}
	return nil
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrWaitCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
