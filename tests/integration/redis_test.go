package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/integration"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/accounting"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/cache"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/ratelimit"
)

func TestRedisCredentialProvider(t *testing.T) {
	client := NewTestRedis(t)
	provider := accounting.NewRedisCredentialProvider(client, "")
	ctx := context.Background()
	tenantID := uuid.New()

	_, err := provider.Credentials(ctx, tenantID, integration.PlatformCodeXero)
	assert.ErrorIs(t, err, integration.ErrCredentialsNotFound)

	expires := time.Now().Add(time.Hour)
	require.NoError(t, provider.Put(ctx, tenantID, integration.PlatformCodeXero, integration.Credentials{
		AccessToken: "xero-token",
		ExpiresAt:   &expires,
	}))

	creds, err := provider.Credentials(ctx, tenantID, integration.PlatformCodeXero)
	require.NoError(t, err)
	assert.Equal(t, "xero-token", creds.AccessToken)
	require.NotNil(t, creds.ExpiresAt)
	assert.WithinDuration(t, expires, *creds.ExpiresAt, time.Second)

	ttl, err := client.TTL(ctx, "accounting:credentials:"+tenantID.String()+":xero").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "the key expires with the token")
	assert.LessOrEqual(t, ttl, time.Hour)

	_, err = provider.Credentials(ctx, tenantID, integration.PlatformCodeFreee)
	assert.ErrorIs(t, err, integration.ErrCredentialsNotFound)

	past := time.Now().Add(-time.Minute)
	assert.ErrorIs(t, provider.Put(ctx, tenantID, integration.PlatformCodeFreee, integration.Credentials{
		AccessToken: "stale",
		ExpiresAt:   &past,
	}), accounting.ErrCredentialsExpired)
}

func TestRedisJobLease(t *testing.T) {
	client := NewTestRedis(t)
	lease := cache.NewRedisJobLease(client, "")
	ctx := context.Background()
	jobID := uuid.New()

	ok, err := lease.Acquire(ctx, jobID, "instance-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lease.Acquire(ctx, jobID, "instance-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a held lease cannot be taken over")

	ok, err = lease.Renew(ctx, jobID, "instance-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "only the owner renews")

	ok, err = lease.Renew(ctx, jobID, "instance-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, lease.Release(ctx, jobID, "instance-b"))
	ok, err = lease.Acquire(ctx, jobID, "instance-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner is ignored")

	require.NoError(t, lease.Release(ctx, jobID, "instance-a"))
	ok, err = lease.Acquire(ctx, jobID, "instance-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("expired lease is free", func(t *testing.T) {
		other := uuid.New()
		ok, err := lease.Acquire(ctx, other, "instance-a", 100*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Eventually(t, func() bool {
			ok, err := lease.Acquire(ctx, other, "instance-b", time.Minute)
			return err == nil && ok
		}, 3*time.Second, 50*time.Millisecond)
	})
}

func TestRedisIdempotencyStore(t *testing.T) {
	client := NewTestRedis(t)
	store := cache.NewRedisIdempotencyStore(client, "")
	ctx := context.Background()

	first, err := store.MarkProcessed(ctx, "report:job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.MarkProcessed(ctx, "report:job-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	done, err := store.IsProcessed(ctx, "report:job-1")
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, store.Forget(ctx, "report:job-1"))
	done, err = store.IsProcessed(ctx, "report:job-1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestRedisWindow_SharedAcrossInstances(t *testing.T) {
	client := NewTestRedis(t)
	cfg := ratelimit.Config{Limit: 2, Window: 400 * time.Millisecond}
	a := ratelimit.NewRedisWindow(client, cfg, "")
	b := ratelimit.NewRedisWindow(client, cfg, "")
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, a.Wait(ctx, "tenant-1"))
	require.NoError(t, b.Wait(ctx, "tenant-1"))
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	// The third call on either instance waits for the window to slide.
	require.NoError(t, a.Wait(ctx, "tenant-1"))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	// Other tenants have their own window.
	other := time.Now()
	require.NoError(t, b.Wait(ctx, "tenant-2"))
	assert.Less(t, time.Since(other), 200*time.Millisecond)

	t.Run("cancelled wait", func(t *testing.T) {
		require.NoError(t, a.Wait(ctx, "tenant-3"))
		require.NoError(t, a.Wait(ctx, "tenant-3"))
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		assert.Error(t, b.Wait(cctx, "tenant-3"))
	})
}
