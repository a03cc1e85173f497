package event

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/loyalty/points/internal/domain/shared"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultDedupTTL is how long a handled event id is remembered
const DefaultDedupTTL = 24 * time.Hour

// DedupStats counts deliveries seen by every handler wrapped by one Dedup
type DedupStats struct {
	Delivered  int64 `json:"delivered"`
	Handled    int64 `json:"handled"`
	Duplicates int64 `json:"duplicates"`
	Failed     int64 `json:"failed"`
}

// Dedup makes outbox subscribers apply each event once. An event id is
// remembered only after its handler succeeds, so a failed projection is
// retried on redelivery; concurrent redeliveries in this process share one run.
type Dedup struct {
	store  shared.IdempotencyStore
	ttl    time.Duration
	logger *zap.Logger
	flight singleflight.Group

	delivered atomic.Int64
	handled   atomic.Int64
	failed    atomic.Int64
}

// NewDedup creates a deduplicator; ttl <= 0 uses DefaultDedupTTL
func NewDedup(store shared.IdempotencyStore, ttl time.Duration, logger *zap.Logger) *Dedup {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dedup{store: store, ttl: ttl, logger: logger.Named("dedup")}
}

// Wrap returns handlers that go through the deduplicator
func (d *Dedup) Wrap(handlers ...shared.EventHandler) []shared.EventHandler {
	out := make([]shared.EventHandler, len(handlers))
	for i, h := range handlers {
		out[i] = &dedupHandler{inner: h, dedup: d, name: handlerName(h)}
	}
	return out
}

// Stats snapshots the counters
func (d *Dedup) Stats() DedupStats {
	s := DedupStats{
		Delivered: d.delivered.Load(),
		Handled:   d.handled.Load(),
		Failed:    d.failed.Load(),
	}
	s.Duplicates = s.Delivered - s.Handled - s.Failed
	return s
}

type dedupHandler struct {
	inner shared.EventHandler
	dedup *Dedup
	name  string
}

func (h *dedupHandler) EventTypes() []string { return h.inner.EventTypes() }

func (h *dedupHandler) Name() string { return h.name }

func (h *dedupHandler) Handle(ctx context.Context, ev shared.DomainEvent) error {
	d := h.dedup
	d.delivered.Add(1)
	// keyed per handler so one subscriber's failure does not hide the event from another
	key := h.name + ":" + ev.EventID().String()
	log := d.logger.With(zap.String("handler", h.name), zap.String("event_id", ev.EventID().String()))

	_, err, _ := d.flight.Do(key, func() (any, error) {
		seen, err := d.store.IsProcessed(ctx, key)
		if err != nil {
			log.Warn("Dedup lookup failed, handling anyway", zap.Error(err))
		} else if seen {
			log.Debug("Duplicate delivery skipped", zap.String("event_type", ev.EventType()))
			return nil, nil
		}

		if err := h.inner.Handle(ctx, ev); err != nil {
			d.failed.Add(1)
			return nil, err
		}
		d.handled.Add(1)
		if _, err := d.store.MarkProcessed(ctx, key, d.ttl); err != nil {
			log.Warn("Failed to remember handled event", zap.Error(err))
		}
		return nil, nil
	})
	return err
}

// handlerName is the subscriber's dedup namespace
func handlerName(h shared.EventHandler) string {
	if n, ok := h.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}
