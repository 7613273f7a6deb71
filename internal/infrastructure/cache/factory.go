package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Coordination bundles the primitives that keep service instances from
// stepping on each other: the job lease and the idempotency store.
// Client is nil when running without Redis.
type Coordination struct {
	Client      *redis.Client
	Lease       migration.JobLease
	Idempotency shared.IdempotencyStore
}

// Distributed reports whether the primitives are shared through Redis
func (c *Coordination) Distributed() bool {
	return c.Client != nil
}

// Close releases the idempotency store and the Redis client
func (c *Coordination) Close() error {
	if err := c.Idempotency.Close(); err != nil {
		return err
	}
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}

type coordinationOptions struct {
	logger        *zap.Logger
	allowFallback bool
	pingTimeout   time.Duration
}

// CoordinationOption is a functional option for NewCoordination
type CoordinationOption func(*coordinationOptions)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) CoordinationOption {
	return func(o *coordinationOptions) {
		o.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to
// in-memory primitives. Default is true.
func WithInMemoryFallback(allow bool) CoordinationOption {
	return func(o *coordinationOptions) {
		o.allowFallback = allow
	}
}

// NewCoordination connects to Redis and builds the shared primitives, falling
// back to in-memory ones when allowed
func NewCoordination(ctx context.Context, cfg config.RedisConfig, opts ...CoordinationOption) (*Coordination, error) {
	o := coordinationOptions{
		logger:        zap.NewNop(),
		allowFallback: true,
		pingTimeout:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, o.pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		if !o.allowFallback {
			return nil, fmt.Errorf("redis required for job coordination but unavailable: %w", err)
		}
		o.logger.Warn("Redis unavailable, using in-memory job lease and idempotency store. "+
			"Do not run more than one instance in this mode.",
			zap.Error(err))
		return NewInMemoryCoordination(), nil
	}

	o.logger.Info("Using Redis job coordination", zap.String("addr", client.Options().Addr))
	return &Coordination{
		Client:      client,
		Lease:       NewRedisJobLease(client, ""),
		Idempotency: NewRedisIdempotencyStore(client, ""),
	}, nil
}

// NewInMemoryCoordination returns single-instance primitives
func NewInMemoryCoordination() *Coordination {
	return &Coordination{
		Lease:       NewInMemoryJobLease(),
		Idempotency: NewInMemoryIdempotencyStore(0),
	}
}
