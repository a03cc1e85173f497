package event

import (
	"context"
	"sync"
	"time"

	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/config"
	"go.uber.org/zap"
)

// OutboxProcessorConfig tunes the delivery loop
type OutboxProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	Retry        shared.RetryPolicy
	PurgeEnabled bool
	PurgeAfter   time.Duration
	// PurgeEvery is how often delivered entries are purged
	PurgeEvery time.Duration
}

// OutboxProcessorConfigFrom maps the [event] section, keeping defaults for unset values
func OutboxProcessorConfigFrom(cfg config.EventConfig) OutboxProcessorConfig {
	out := OutboxProcessorConfig{
		BatchSize:    100,
		PollInterval: 5 * time.Second,
		Retry:        shared.DefaultRetryPolicy,
		PurgeEnabled: cfg.PurgeEnabled,
		PurgeAfter:   7 * 24 * time.Hour,
		PurgeEvery:   time.Hour,
	}
	if cfg.BatchSize > 0 {
		out.BatchSize = cfg.BatchSize
	}
	if cfg.PollInterval > 0 {
		out.PollInterval = cfg.PollInterval
	}
	if cfg.MaxAttempts > 0 {
		out.Retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryBase > 0 {
		out.Retry.BaseDelay = cfg.RetryBase
	}
	if cfg.RetryMax > 0 {
		out.Retry.MaxDelay = cfg.RetryMax
	}
	if cfg.PurgeAfter > 0 {
		out.PurgeAfter = cfg.PurgeAfter
	}
	return out
}

// OutboxProcessor hands committed outbox entries to the event bus. Delivery is
// at least once: a crash between publish and the status write redelivers.
type OutboxProcessor struct {
	repo       shared.OutboxRepository
	bus        shared.EventPublisher
	serializer *EventSerializer
	cfg        OutboxProcessorConfig
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewOutboxProcessor(
	repo shared.OutboxRepository,
	bus shared.EventPublisher,
	serializer *EventSerializer,
	cfg OutboxProcessorConfig,
	logger *zap.Logger,
) *OutboxProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxProcessor{
		repo:       repo,
		bus:        bus,
		serializer: serializer,
		cfg:        cfg,
		logger:     logger.Named("outbox"),
		now:        time.Now,
	}
}

// Start runs the poll and purge timers on one goroutine
func (p *OutboxProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return nil
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)

	p.logger.Info("Outbox processor started",
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.Int("max_attempts", p.cfg.Retry.MaxAttempts),
	)
	return nil
}

// Stop ends the loop after the current batch, or when ctx expires
func (p *OutboxProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		p.logger.Info("Outbox processor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *OutboxProcessor) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	poll := time.NewTicker(p.cfg.PollInterval)
	defer poll.Stop()
	var purge <-chan time.Time
	if p.cfg.PurgeEnabled {
		t := time.NewTicker(p.cfg.PurgeEvery)
		defer t.Stop()
		purge = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			if _, err := p.Drain(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("Outbox claim failed", zap.Error(err))
			}
		case <-purge:
			p.purge(ctx)
		}
	}
}

// Drain claims and delivers batches until the due backlog is empty and
// returns how many entries reached the bus
func (p *OutboxProcessor) Drain(ctx context.Context) (int, error) {
	delivered := 0
	for ctx.Err() == nil {
		batch, err := p.repo.ClaimDue(ctx, p.now(), p.cfg.BatchSize)
		if err != nil {
			return delivered, err
		}
		for _, entry := range batch {
			if p.deliver(ctx, entry) {
				delivered++
			}
		}
		if len(batch) < p.cfg.BatchSize {
			break
		}
	}
	return delivered, nil
}

func (p *OutboxProcessor) deliver(ctx context.Context, entry *shared.OutboxEntry) bool {
	log := p.logger.With(
		zap.String("event_id", entry.EventID.String()),
		zap.String("event_type", entry.EventType),
	)

	ev, err := p.serializer.Deserialize(entry.EventType, entry.Payload)
	if err == nil {
		err = p.bus.Publish(ctx, ev)
	}
	if err != nil {
		if entry.Failed(p.now(), err, p.cfg.Retry) {
			log.Warn("Outbox entry parked",
				zap.Int("attempts", entry.Attempts),
				zap.String("aggregate", entry.AggregateType+"/"+entry.AggregateID.String()),
				zap.Error(err))
		} else {
			log.Info("Outbox delivery failed, will retry",
				zap.Int("attempts", entry.Attempts),
				zap.Time("available_at", entry.AvailableAt),
				zap.Error(err))
		}
		if uerr := p.repo.Update(ctx, entry); uerr != nil {
			log.Error("Failed to record outbox failure", zap.Error(uerr))
		}
		return false
	}

	entry.Delivered(p.now())
	if err := p.repo.Update(ctx, entry); err != nil {
		// the lease expires and the entry is delivered again
		log.Error("Failed to mark outbox entry delivered", zap.Error(err))
		return true
	}
	log.Debug("Outbox entry delivered", zap.Int("attempts", entry.Attempts))
	return true
}

func (p *OutboxProcessor) purge(ctx context.Context) {
	cutoff := p.now().Add(-p.cfg.PurgeAfter)
	n, err := p.repo.PurgeDelivered(ctx, cutoff)
	if err != nil {
		p.logger.Error("Outbox purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("Purged delivered outbox entries", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
}
