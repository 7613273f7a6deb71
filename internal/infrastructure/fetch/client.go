// Package fetch wraps outbound platform calls with the per-tenant rate window
// and retry with backoff for throttling and transient failures.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	// ErrRateLimitExceeded is returned when the platform kept throttling after every retry
	ErrRateLimitExceeded = errors.New("fetch: rate limit exceeded")
	// ErrRetryExhausted is returned when transient failures persisted after every retry
	ErrRetryExhausted = errors.New("fetch: retry attempts exhausted")
)

// Prometheus metrics for outbound calls.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "operate_fetch_requests_total",
		Help: "Total number of outbound platform calls by outcome",
	}, []string{"outcome"})

	fetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "operate_fetch_retries_total",
		Help: "Total number of retry attempts by reason",
	}, []string{"reason"})

	fetchBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "operate_fetch_backoff_seconds",
		Help:    "Backoff duration before a retry by reason",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"reason"})

	fetchWindowWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "operate_fetch_window_wait_seconds",
		Help:    "Time spent waiting for a slot in the tenant rate window",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
	})

	fetchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "operate_fetch_retry_exhausted_total",
		Help: "Total number of calls that gave up after exhausting retries by reason",
	}, []string{"reason"})
)

const (
	reasonRateLimit = "rate_limit"
	reasonTransient = "transient"
)

// RetryConfig holds the configuration for retry logic
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial call)
	MaxAttempts int `mapstructure:"max_attempts"`
	// InitialBackoff is the first backoff when the server gave no retry delay
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// MaxBackoff caps the exponential backoff used when the server gave no delay
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
	// MaxServerDelay is the longest server-provided delay that is waited out.
	// A longer Retry-After ends the call with ErrRateLimitExceeded at once.
	MaxServerDelay time.Duration `mapstructure:"max_server_delay"`
	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        60 * time.Second,
		MaxServerDelay:    10 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Client gates calls through a rate window and retries throttled or transient failures
type Client struct {
	limiter ratelimit.Limiter
	retry   RetryConfig
	logger  *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

// NewClient creates a new fetch client
func NewClient(limiter ratelimit.Limiter, retry RetryConfig, logger *zap.Logger) *Client {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = time.Second
	}
	if retry.MaxBackoff < retry.InitialBackoff {
		retry.MaxBackoff = retry.InitialBackoff
	}
	if retry.MaxServerDelay <= 0 {
		retry.MaxServerDelay = DefaultRetryConfig().MaxServerDelay
	}
	if retry.BackoffMultiplier < 1 {
		retry.BackoffMultiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		limiter: limiter,
		retry:   retry,
		logger:  logger.Named("fetch"),
		sleep:   sleepContext,
		jitter:  withJitter,
	}
}

// Call runs fn under the rate window of key. Every attempt, including retries,
// claims its own window slot, so retries never push a tenant over its limit.
func Call[T any](ctx context.Context, c *Client, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := c.retry.InitialBackoff

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx, key); err != nil {
			fetchRequestsTotal.WithLabelValues("cancelled").Inc()
			return zero, err
		}
		fetchWindowWaitSeconds.Observe(time.Since(waitStart).Seconds())

		result, err := fn(ctx)
		if err == nil {
			fetchRequestsTotal.WithLabelValues("success").Inc()
			if attempt > 1 {
				c.logger.Info("Call succeeded after retry",
					zap.String("key", key),
					zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		reason, retryAfter, retryable := classify(err)
		if !retryable {
			fetchRequestsTotal.WithLabelValues("error").Inc()
			return zero, err
		}
		fetchRequestsTotal.WithLabelValues(reason).Inc()

		if attempt >= c.retry.MaxAttempts {
			break
		}

		delay := c.jitter(backoff)
		if delay > c.retry.MaxBackoff {
			delay = c.retry.MaxBackoff
		}
		if retryAfter > 0 {
			if retryAfter > c.retry.MaxServerDelay {
				fetchRetryExhaustedTotal.WithLabelValues(reason).Inc()
				c.logger.Warn("Server retry delay exceeds limit",
					zap.String("key", key),
					zap.Duration("retry_after", retryAfter),
					zap.Duration("max_server_delay", c.retry.MaxServerDelay))
				return zero, fmt.Errorf("%w: server asked to wait %s: %w", ErrRateLimitExceeded, retryAfter, err)
			}
			delay = retryAfter
		}
		fetchRetriesTotal.WithLabelValues(reason).Inc()
		fetchBackoffSeconds.WithLabelValues(reason).Observe(delay.Seconds())

		c.logger.Debug("Retrying call after backoff",
			zap.String("key", key),
			zap.String("reason", reason),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Bool("server_delay", retryAfter > 0))

		if err := c.sleep(ctx, delay); err != nil {
			return zero, err
		}

		backoff = time.Duration(float64(backoff) * c.retry.BackoffMultiplier)
		if backoff > c.retry.MaxBackoff {
			backoff = c.retry.MaxBackoff
		}
	}

	reason, _, _ := classify(lastErr)
	fetchRetryExhaustedTotal.WithLabelValues(reason).Inc()
	c.logger.Warn("Retry attempts exhausted",
		zap.String("key", key),
		zap.String("reason", reason),
		zap.Int("max_attempts", c.retry.MaxAttempts),
		zap.Error(lastErr))

	if reason == reasonRateLimit {
		return zero, fmt.Errorf("%w after %d attempts: %w", ErrRateLimitExceeded, c.retry.MaxAttempts, lastErr)
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, c.retry.MaxAttempts, lastErr)
}

// classify decides whether err is worth retrying
func classify(err error) (reason string, retryAfter time.Duration, retryable bool) {
	var rl *integration.RateLimitError
	if errors.As(err, &rl) {
		return reasonRateLimit, rl.RetryAfter, true
	}
	var te *integration.TransientError
	if errors.As(err, &te) {
		return reasonTransient, 0, true
	}
	return "", 0, false
}

// withJitter adds ±20% randomness to prevent thundering herd
func withJitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
