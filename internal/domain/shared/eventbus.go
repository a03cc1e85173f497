package shared

import "context"

// EventHandler consumes delivered domain events
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	// EventTypes lists the types the handler wants; empty means all of them
	EventTypes() []string
}

// EventPublisher hands events to their subscribers
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// OutboxEventSaver writes events into the outbox inside the caller's
// transaction. txProvider is the persistence layer's handle (a *gorm.DB).
type OutboxEventSaver interface {
	SaveEvents(ctx context.Context, txProvider any, events ...DomainEvent) error
}
