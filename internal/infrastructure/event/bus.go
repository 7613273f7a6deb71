// Package event delivers domain events to in-process handlers.
package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
	"go.uber.org/zap"
)

// DefaultQueueSize is the buffer of an async bus
const DefaultQueueSize = 1024

// InMemoryEventBus implements shared.EventBus with in-process pub/sub.
// In sync mode Publish runs the handlers before returning. In async mode events
// are queued and dispatched by one worker in publish order, so a slow handler
// never holds up the publisher.
type InMemoryEventBus struct {
	registry *HandlerRegistry
	logger   *zap.Logger
	running  atomic.Bool
	wg       sync.WaitGroup

	async   bool
	queueMu sync.RWMutex
	queue   chan envelope
	stopped bool
	dropped atomic.Int64
}

type envelope struct {
	ctx   context.Context
	event shared.DomainEvent
}

// BusOption is a functional option for InMemoryEventBus
type BusOption func(*InMemoryEventBus)

// WithAsyncDispatch queues events for a background worker started by Start
func WithAsyncDispatch(queueSize int) BusOption {
	return func(b *InMemoryEventBus) {
		if queueSize <= 0 {
			queueSize = DefaultQueueSize
		}
		b.async = true
		b.queue = make(chan envelope, queueSize)
	}
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger, opts ...BusOption) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &InMemoryEventBus{
		registry: NewHandlerRegistry(),
		logger:   logger.Named("event_bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers events to their handlers. Handler errors are logged, never returned.
// An async bus that is full or not running drops the event with a warning.
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	for _, event := range events {
		if !b.async {
			b.dispatch(ctx, event)
			continue
		}
		b.enqueue(ctx, event)
	}
	return nil
}

func (b *InMemoryEventBus) enqueue(ctx context.Context, event shared.DomainEvent) {
	b.queueMu.RLock()
	defer b.queueMu.RUnlock()
	if !b.running.Load() {
		b.drop(event, "bus not running")
		return
	}
	select {
	case b.queue <- envelope{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		b.drop(event, "queue full")
	}
}

// Subscribe registers a handler. Without explicit event types the handler's own are used.
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.registry.Register(handler, eventTypes...)
	b.logger.Debug("Handler subscribed", zap.Strings("event_types", eventTypes))
}

// Unsubscribe removes a handler
func (b *InMemoryEventBus) Unsubscribe(handler shared.EventHandler) {
	b.registry.Unregister(handler)
}

// Start starts the dispatch worker of an async bus
func (b *InMemoryEventBus) Start(ctx context.Context) error {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	if !b.running.CompareAndSwap(false, true) {
		return nil
	}
	if b.async {
		if b.stopped {
			b.queue = make(chan envelope, cap(b.queue))
		}
		b.wg.Add(1)
		go b.worker(b.queue)
	}
	b.logger.Info("Event bus started", zap.Bool("async", b.async))
	return nil
}

// Stop stops accepting events and drains the queue, or gives up when ctx ends
func (b *InMemoryEventBus) Stop(ctx context.Context) error {
	b.queueMu.Lock()
	if !b.running.CompareAndSwap(true, false) {
		b.queueMu.Unlock()
		return nil
	}
	if b.async {
		close(b.queue)
		b.stopped = true
	}
	b.queueMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("Event bus stopped before the queue drained")
		return ctx.Err()
	}
	b.logger.Info("Event bus stopped", zap.Int64("dropped", b.dropped.Load()))
	return nil
}

// Dropped returns how many events an async bus discarded
func (b *InMemoryEventBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *InMemoryEventBus) worker(queue <-chan envelope) {
	defer b.wg.Done()
	for env := range queue {
		b.dispatch(env.ctx, env.event)
	}
}

func (b *InMemoryEventBus) dispatch(ctx context.Context, event shared.DomainEvent) {
	for _, handler := range b.registry.GetHandlers(event.EventType()) {
		began := time.Now()
		if err := b.dispatchToHandler(ctx, handler, event); err != nil {
			b.logger.Error("Handler failed to process event",
				zap.String("event_type", event.EventType()),
				zap.String("event_id", event.EventID().String()),
				zap.String("aggregate_id", event.AggregateID().String()),
				zap.Duration("elapsed", time.Since(began)),
				zap.Error(err))
		}
	}
}

// dispatchToHandler converts a handler panic into a logged failure
func (b *InMemoryEventBus) dispatchToHandler(ctx context.Context, handler shared.EventHandler, event shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler panicked",
				zap.String("event_type", event.EventType()),
				zap.Any("panic", r))
		}
	}()
	return handler.Handle(ctx, event)
}

func (b *InMemoryEventBus) drop(event shared.DomainEvent, reason string) {
	b.dropped.Add(1)
	b.logger.Warn("Event dropped",
		zap.String("event_type", event.EventType()),
		zap.String("aggregate_id", event.AggregateID().String()),
		zap.String("reason", reason))
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)
