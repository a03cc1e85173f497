package event

import (
	"context"
	"fmt"

	"github.com/loyalty/points/internal/domain/shared"
	"gorm.io/gorm"
)

// OutboxWriter stores domain events in outbox_events with the caller's transaction,
// so an event exists only if the ledger write that raised it commits
type OutboxWriter struct {
	serializer  *EventSerializer
	maxAttempts int
}

// NewOutboxWriter creates a writer; maxAttempts <= 0 uses the default retry policy
func NewOutboxWriter(serializer *EventSerializer, maxAttempts int) *OutboxWriter {
	return &OutboxWriter{serializer: serializer, maxAttempts: maxAttempts}
}

// Write serializes events and inserts them with tx
func (w *OutboxWriter) Write(ctx context.Context, tx *gorm.DB, events ...shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	entries := make([]*shared.OutboxEntry, len(events))
	for i, ev := range events {
		payload, err := w.serializer.Serialize(ev)
		if err != nil {
			return err
		}
		entries[i] = shared.NewOutboxEntry(ev, payload, w.maxAttempts)
	}
	return NewGormOutboxRepository(tx).Save(ctx, entries...)
}

// SaveEvents adapts Write to shared.OutboxEventSaver
func (w *OutboxWriter) SaveEvents(ctx context.Context, txProvider any, events ...shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, ok := txProvider.(*gorm.DB)
	if !ok {
		return fmt.Errorf("outbox needs a *gorm.DB transaction, got %T", txProvider)
	}
	return w.Write(ctx, tx, events...)
}

var _ shared.OutboxEventSaver = (*OutboxWriter)(nil)
