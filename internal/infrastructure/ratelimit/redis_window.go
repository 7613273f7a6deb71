package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// acquireScript trims the key's sorted-set log to the window and either records
// the call (returns 0) or returns the microseconds until the oldest entry expires.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, math.ceil(window / 1000) + 1)
  return 0
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then
  wait = 1
end
return wait
`)

// RedisWindow is a Limiter whose request log lives in Redis, so every instance
// shares the same per-tenant window.
type RedisWindow struct {
	client    *redis.Client
	cfg       Config
	keyPrefix string
}

// NewRedisWindow creates a Redis-backed sliding window limiter
func NewRedisWindow(client *redis.Client, cfg Config, keyPrefix string) *RedisWindow {
	if keyPrefix == "" {
		keyPrefix = "ratelimit:window:"
	}
	if cfg.Limit < 1 {
		cfg.Limit = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RedisWindow{client: client, cfg: cfg, keyPrefix: keyPrefix}
}

// Wait blocks until a slot for key is available
func (l *RedisWindow) Wait(ctx context.Context, key string) error {
	for {
		now := time.Now().UnixMicro()
		waitMicros, err := acquireScript.Run(ctx, l.client,
			[]string{l.keyPrefix + key},
			now, l.cfg.Window.Microseconds(), l.cfg.Limit, uuid.NewString(),
		).Int64()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrWaitCancelled, ctx.Err())
			}
			return fmt.Errorf("ratelimit: acquire slot for %s: %w", key, err)
		}
		if waitMicros == 0 {
			return nil
		}
		if err := sleep(ctx, time.Duration(waitMicros)*time.Microsecond); err != nil {
			return err
		}
	}
}

var _ Limiter = (*RedisWindow)(nil)
