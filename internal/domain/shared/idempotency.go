package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers keys of work that must happen at most once per TTL
type IdempotencyStore interface {
	// MarkProcessed records key. It returns false if key was already recorded.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether key is recorded
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Forget removes key so the work can be retried
	Forget(ctx context.Context, key string) error

	Close() error
}

// IdempotencyConfig holds configuration for idempotent event handling
type IdempotencyConfig struct {
	// TTL after which a key may be processed again. Default: 7 days
	TTL time.Duration

	// Enabled turns the check on. Default: true
	Enabled bool

	// ForgetOnFailure removes the key when the handler fails so a redelivery retries it
	ForgetOnFailure bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:             7 * 24 * time.Hour,
		Enabled:         true,
		ForgetOnFailure: true,
	}
}
