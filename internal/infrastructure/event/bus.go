package event

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/loyalty/points/internal/domain/shared"
	"go.uber.org/zap"
)

// InMemoryEventBus fans outbox events out to projection handlers in-process.
// Every handler sees the event even when an earlier one fails; Publish then
// returns the joined failures so the outbox schedules a redelivery.
type InMemoryEventBus struct {
	mu       sync.RWMutex
	byType   map[string][]shared.EventHandler
	wildcard []shared.EventHandler
	logger   *zap.Logger
}

func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{
		byType: make(map[string][]shared.EventHandler),
		logger: logger.Named("event_bus"),
	}
}

// Publish delivers events in order, each to its handlers in subscription order
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	var errs []error
	for _, ev := range events {
		for _, h := range b.handlersFor(ev.EventType()) {
			err := dispatch(ctx, h, ev)
			if err == nil {
				continue
			}
			b.logger.Warn("Event handler failed",
				zap.String("handler", handlerName(h)),
				zap.String("event_type", ev.EventType()),
				zap.String("event_id", ev.EventID().String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s on %s: %w", handlerName(h), ev.EventID(), err))
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers handler for eventTypes, or for the handler's own
// EventTypes when none are given. No types at all means every event.
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(eventTypes) == 0 {
		b.wildcard = append(b.wildcard, handler)
	}
	for _, t := range eventTypes {
		b.byType[t] = append(b.byType[t], handler)
	}
	b.logger.Debug("Handler subscribed", zap.String("handler", handlerName(handler)), zap.Strings("event_types", eventTypes))
}

func (b *InMemoryEventBus) handlersFor(eventType string) []shared.EventHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	typed := b.byType[eventType]
	out := make([]shared.EventHandler, 0, len(typed)+len(b.wildcard))
	out = append(out, typed...)
	return append(out, b.wildcard...)
}

func dispatch(ctx context.Context, h shared.EventHandler, ev shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}

var _ shared.EventPublisher = (*InMemoryEventBus)(nil)
