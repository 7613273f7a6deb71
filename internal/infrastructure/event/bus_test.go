package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEvent struct {
	shared.BaseDomainEvent
}

func newTestEvent(eventType string) *testEvent {
	return &testEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, migration.AggregateTypeMigrationJob, uuid.New(), uuid.New()),
	}
}

type testHandler struct {
	eventTypes []string
	mu         sync.Mutex
	handled    []shared.DomainEvent
	err        error
	block      chan struct{}
	panics     bool
}

func newTestHandler(eventTypes ...string) *testHandler {
	return &testHandler{eventTypes: eventTypes}
}

func (h *testHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	if h.block != nil {
		<-h.block
	}
	if h.panics {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	return h.err
}

func (h *testHandler) EventTypes() []string { return h.eventTypes }

func (h *testHandler) getHandled() []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]shared.DomainEvent(nil), h.handled...)
}

func TestInMemoryEventBus_PublishSync(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	progress := newTestHandler(migration.EventTypeMigrationProgress)
	all := newTestHandler()
	bus.Subscribe(progress)
	bus.Subscribe(all)

	events := []shared.DomainEvent{
		newTestEvent(migration.EventTypeMigrationStarted),
		newTestEvent(migration.EventTypeMigrationProgress),
		newTestEvent(migration.EventTypeMigrationProgress),
	}
	require.NoError(t, bus.Publish(context.Background(), events...))

	assert.Len(t, progress.getHandled(), 2)
	assert.Equal(t, events, all.getHandled())
}

func TestInMemoryEventBus_ExplicitTypesOverrideHandlerTypes(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	h := newTestHandler(migration.EventTypeMigrationProgress)
	bus.Subscribe(h, migration.EventTypeMigrationCompleted)

	_ = bus.Publish(context.Background(),
		newTestEvent(migration.EventTypeMigrationProgress),
		newTestEvent(migration.EventTypeMigrationCompleted))

	require.Len(t, h.getHandled(), 1)
	assert.Equal(t, migration.EventTypeMigrationCompleted, h.getHandled()[0].EventType())
}

func TestInMemoryEventBus_HandlerFailuresAreIsolated(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	failing := newTestHandler(migration.EventTypeMigrationFailed)
	failing.err = errors.New("archive unavailable")
	panicking := newTestHandler(migration.EventTypeMigrationFailed)
	panicking.panics = true
	healthy := newTestHandler(migration.EventTypeMigrationFailed)
	bus.Subscribe(failing)
	bus.Subscribe(panicking)
	bus.Subscribe(healthy)

	err := bus.Publish(context.Background(), newTestEvent(migration.EventTypeMigrationFailed))
	require.NoError(t, err)
	assert.Len(t, failing.getHandled(), 1)
	assert.Len(t, healthy.getHandled(), 1)
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	h := newTestHandler(migration.EventTypeMigrationPaused, migration.EventTypeMigrationResumed)
	bus.Subscribe(h)
	bus.Subscribe(h)
	assert.Equal(t, 1, bus.registry.Count())

	bus.Unsubscribe(h)
	_ = bus.Publish(context.Background(), newTestEvent(migration.EventTypeMigrationPaused))
	assert.Empty(t, h.getHandled())
	assert.Zero(t, bus.registry.Count())
}

func TestInMemoryEventBus_AsyncPreservesOrder(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop(), WithAsyncDispatch(16))
	h := newTestHandler()
	bus.Subscribe(h)
	require.NoError(t, bus.Start(context.Background()))

	var events []shared.DomainEvent
	for i := 0; i < 10; i++ {
		events = append(events, newTestEvent(migration.EventTypeMigrationProgress))
	}
	require.NoError(t, bus.Publish(context.Background(), events...))
	require.NoError(t, bus.Stop(context.Background()))

	assert.Equal(t, events, h.getHandled())
	assert.Zero(t, bus.Dropped())
}

func TestInMemoryEventBus_AsyncDoesNotBlockPublisher(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop(), WithAsyncDispatch(1))
	h := newTestHandler()
	h.block = make(chan struct{})
	bus.Subscribe(h)
	require.NoError(t, bus.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			_ = bus.Publish(context.Background(), newTestEvent(migration.EventTypeMigrationProgress))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow handler")
	}
	assert.Positive(t, bus.Dropped())

	close(h.block)
	require.NoError(t, bus.Stop(context.Background()))
}

func TestInMemoryEventBus_AsyncDropsWhenStopped(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop(), WithAsyncDispatch(4))
	h := newTestHandler()
	bus.Subscribe(h)

	_ = bus.Publish(context.Background(), newTestEvent(migration.EventTypeMigrationStarted))
	assert.Equal(t, int64(1), bus.Dropped())

	require.NoError(t, bus.Start(context.Background()))
	require.NoError(t, bus.Stop(context.Background()))
	require.NoError(t, bus.Stop(context.Background()))

	// restart after stop gets a fresh queue
	require.NoError(t, bus.Start(context.Background()))
	_ = bus.Publish(context.Background(), newTestEvent(migration.EventTypeMigrationStarted))
	require.NoError(t, bus.Stop(context.Background()))
	assert.Len(t, h.getHandled(), 1)
}
