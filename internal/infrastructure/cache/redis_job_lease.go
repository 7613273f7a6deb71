package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/redis/go-redis/v9"
)

const defaultLeaseKeyPrefix = "migration:lease:"

// renewScript extends the TTL only while the caller still owns the lease
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only while the caller still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisJobLease implements migration.JobLease with SET NX PX.
// It keeps two service instances from running the same job.
type RedisJobLease struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisJobLease creates a lease store on an existing Redis client
func NewRedisJobLease(client *redis.Client, keyPrefix string) *RedisJobLease {
	if keyPrefix == "" {
		keyPrefix = defaultLeaseKeyPrefix
	}
	return &RedisJobLease{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Acquire takes the lease if nobody holds it
func (l *RedisJobLease) Acquire(ctx context.Context, jobID uuid.UUID, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(jobID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire job lease: %w", err)
	}
	return ok, nil
}

// Renew extends the lease if owner still holds it
func (l *RedisJobLease) Renew(ctx context.Context, jobID uuid.UUID, owner string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{l.key(jobID)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to renew job lease: %w", err)
	}
	return n == 1, nil
}

// Release drops the lease if owner still holds it
func (l *RedisJobLease) Release(ctx context.Context, jobID uuid.UUID, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(jobID)}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release job lease: %w", err)
	}
	return nil
}

func (l *RedisJobLease) key(jobID uuid.UUID) string {
	return l.keyPrefix + jobID.String()
}

// Ensure RedisJobLease implements JobLease
var _ migration.JobLease = (*RedisJobLease)(nil)
