package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	isNew, err := store.MarkProcessed(ctx, "report:job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = store.MarkProcessed(ctx, "report:job-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, isNew, "live key must not be marked twice")

	processed, err := store.IsProcessed(ctx, "report:job-1")
	require.NoError(t, err)
	assert.True(t, processed)

	now = now.Add(2 * time.Minute)
	processed, err = store.IsProcessed(ctx, "report:job-1")
	require.NoError(t, err)
	assert.False(t, processed)

	isNew, err = store.MarkProcessed(ctx, "report:job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, isNew, "expired key can be marked again")
}

func TestInMemoryIdempotencyStore_Forget(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	_, err := store.MarkProcessed(ctx, "k", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Forget(ctx, "k"))

	isNew, err := store.MarkProcessed(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestInMemoryIdempotencyStore_Sweep(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Close()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = store.MarkProcessed(ctx, "short", time.Second)
	_, _ = store.MarkProcessed(ctx, "long", time.Hour)
	require.Equal(t, 2, store.Size())

	now = now.Add(time.Minute)
	store.sweep()
	assert.Equal(t, 1, store.Size())
}

func TestInMemoryIdempotencyStore_ConcurrentMark(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Close()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.MarkProcessed(context.Background(), "same", time.Hour)
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestInMemoryIdempotencyStore_CloseTwice(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Millisecond)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
