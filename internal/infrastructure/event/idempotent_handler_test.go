package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
	"github.com/lukgber-glitch/operate-sub002/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) Forget(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockIdempotencyStore) Close() error {
	return m.Called().Error(0)
}

func newStore(t *testing.T) *cache.InMemoryIdempotencyStore {
	t.Helper()
	store := cache.NewInMemoryIdempotencyStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIdempotentHandler_SkipsRedelivery(t *testing.T) {
	inner := newTestHandler(migration.EventTypeMigrationCompleted)
	h := NewIdempotentHandler(inner, newStore(t), zap.NewNop())

	event := newTestEvent(migration.EventTypeMigrationCompleted)
	require.NoError(t, h.Handle(context.Background(), event))
	require.NoError(t, h.Handle(context.Background(), event))

	assert.Len(t, inner.getHandled(), 1)
	assert.Equal(t, IdempotencyStats{Processed: 1, Duplicate: 1}, h.Stats())
	assert.Equal(t, []string{migration.EventTypeMigrationCompleted}, h.EventTypes())
}

func TestIdempotentHandler_AggregateKey(t *testing.T) {
	inner := newTestHandler()
	h := NewIdempotentHandler(inner, newStore(t), zap.NewNop(), WithKeyFunc(AggregateEventKey))

	first := newTestEvent(migration.EventTypeMigrationCompleted)
	// same job completion published twice with different event ids
	second := &testEvent{BaseDomainEvent: shared.NewBaseDomainEvent(
		migration.EventTypeMigrationCompleted, migration.AggregateTypeMigrationJob, first.AggregateID(), first.TenantID())}

	require.NoError(t, h.Handle(context.Background(), first))
	require.NoError(t, h.Handle(context.Background(), second))
	assert.Len(t, inner.getHandled(), 1)
}

func TestIdempotentHandler_FailureForgetsKey(t *testing.T) {
	inner := newTestHandler()
	inner.err = errors.New("upload failed")
	h := NewIdempotentHandler(inner, newStore(t), zap.NewNop())
	event := newTestEvent(migration.EventTypeMigrationFailed)

	assert.Error(t, h.Handle(context.Background(), event))
	inner.err = nil
	require.NoError(t, h.Handle(context.Background(), event))

	assert.Len(t, inner.getHandled(), 2, "retry after failure must reach the handler")
	assert.Equal(t, int64(1), h.Stats().Failed)
}

func TestIdempotentHandler_FailureKeepsKeyWhenConfigured(t *testing.T) {
	inner := newTestHandler()
	inner.err = errors.New("upload failed")
	cfg := shared.DefaultIdempotencyConfig()
	cfg.ForgetOnFailure = false
	h := NewIdempotentHandler(inner, newStore(t), zap.NewNop(), WithIdempotencyConfig(cfg))
	event := newTestEvent(migration.EventTypeMigrationFailed)

	assert.Error(t, h.Handle(context.Background(), event))
	assert.NoError(t, h.Handle(context.Background(), event))
	assert.Len(t, inner.getHandled(), 1)
}

func TestIdempotentHandler_StoreErrorStillHandles(t *testing.T) {
	store := new(MockIdempotencyStore)
	store.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("redis down"))
	inner := newTestHandler()
	h := NewIdempotentHandler(inner, store, zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), newTestEvent(migration.EventTypeMigrationCancelled)))
	assert.Len(t, inner.getHandled(), 1)
	store.AssertExpectations(t)
}

func TestIdempotentHandler_Disabled(t *testing.T) {
	store := new(MockIdempotencyStore)
	inner := newTestHandler()
	h := NewIdempotentHandler(inner, store, zap.NewNop(), WithIdempotencyConfig(shared.IdempotencyConfig{Enabled: false}))

	event := newTestEvent(migration.EventTypeMigrationCompleted)
	require.NoError(t, h.Handle(context.Background(), event))
	require.NoError(t, h.Handle(context.Background(), event))
	assert.Len(t, inner.getHandled(), 2)
	store.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
}

func TestIdempotentHandler_ConcurrentDuplicates(t *testing.T) {
	inner := newTestHandler()
	h := NewIdempotentHandler(inner, newStore(t), zap.NewNop())
	event := newTestEvent(migration.EventTypeMigrationCompleted)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Handle(context.Background(), event)
		}()
	}
	wg.Wait()
	assert.Len(t, inner.getHandled(), 1)
	assert.Equal(t, int64(19), h.Stats().Duplicate)
}
