package event

import (
	"context"
	"sync/atomic"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/shared"
	"go.uber.org/zap"
)

// KeyFunc derives the idempotency key of an event
type KeyFunc func(event shared.DomainEvent) string

// EventIDKey keys on the event id, so a redelivered event is handled once
func EventIDKey(event shared.DomainEvent) string {
	return event.EventID().String()
}

// AggregateEventKey keys on aggregate and event type, so e.g. a job's
// completion is handled once even if several instances publish it
func AggregateEventKey(event shared.DomainEvent) string {
	return event.EventType() + ":" + event.AggregateID().String()
}

// IdempotencyStats is a snapshot of an IdempotentHandler's counters
type IdempotencyStats struct {
	Processed int64 `json:"processed"`
	Duplicate int64 `json:"duplicate"`
	Failed    int64 `json:"failed"`
}

// IdempotentHandler wraps an EventHandler so that each key is handled at most once per TTL
type IdempotentHandler struct {
	handler shared.EventHandler
	store   shared.IdempotencyStore
	config  shared.IdempotencyConfig
	key     KeyFunc
	logger  *zap.Logger

	processed atomic.Int64
	duplicate atomic.Int64
	failed    atomic.Int64
}

// IdempotentHandlerOption is a functional option for IdempotentHandler
type IdempotentHandlerOption func(*IdempotentHandler)

// WithIdempotencyConfig sets the idempotency configuration
func WithIdempotencyConfig(config shared.IdempotencyConfig) IdempotentHandlerOption {
	return func(h *IdempotentHandler) {
		h.config = config
	}
}

// WithKeyFunc sets how events are keyed. Default: EventIDKey
func WithKeyFunc(fn KeyFunc) IdempotentHandlerOption {
	return func(h *IdempotentHandler) {
		h.key = fn
	}
}

// NewIdempotentHandler creates a new idempotent handler wrapper
func NewIdempotentHandler(
	handler shared.EventHandler,
	store shared.IdempotencyStore,
	logger *zap.Logger,
	opts ...IdempotentHandlerOption,
) *IdempotentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &IdempotentHandler{
		handler: handler,
		store:   store,
		config:  shared.DefaultIdempotencyConfig(),
		key:     EventIDKey,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// EventTypes returns the wrapped handler's event types
func (h *IdempotentHandler) EventTypes() []string {
	return h.handler.EventTypes()
}

// Handle runs the wrapped handler unless the event's key was already handled.
// When the store is unreachable the event is handled anyway.
func (h *IdempotentHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	if !h.config.Enabled {
		return h.handler.Handle(ctx, event)
	}

	key := h.key(event)
	isNew, err := h.store.MarkProcessed(ctx, key, h.config.TTL)
	if err != nil {
		h.logger.Warn("Idempotency check failed, handling event anyway",
			zap.String("key", key),
			zap.String("event_type", event.EventType()),
			zap.Error(err))
	} else if !isNew {
		h.duplicate.Add(1)
		h.logger.Debug("Duplicate event skipped",
			zap.String("key", key),
			zap.String("event_type", event.EventType()))
		return nil
	}

	if err := h.handler.Handle(ctx, event); err != nil {
		h.failed.Add(1)
		if h.config.ForgetOnFailure {
			if ferr := h.store.Forget(context.WithoutCancel(ctx), key); ferr != nil {
				h.logger.Warn("Failed to forget idempotency key", zap.String("key", key), zap.Error(ferr))
			}
		}
		return err
	}
	h.processed.Add(1)
	return nil
}

// Stats returns the handler's counters
func (h *IdempotentHandler) Stats() IdempotencyStats {
	return IdempotencyStats{
		Processed: h.processed.Load(),
		Duplicate: h.duplicate.Load(),
		Failed:    h.failed.Load(),
	}
}

var _ shared.EventHandler = (*IdempotentHandler)(nil)
