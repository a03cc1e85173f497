// Package event holds the operator side of outbox delivery.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/shared"
	"go.uber.org/zap"
)

// ParkedStore is the outbox storage the console needs
type ParkedStore interface {
	FindParked(ctx context.Context, page, pageSize int) ([]*shared.OutboxEntry, int64, error)
	FindByID(ctx context.Context, id uuid.UUID) (*shared.OutboxEntry, error)
	Update(ctx context.Context, entry *shared.OutboxEntry) error
	RequeueParked(ctx context.Context, now time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error)
}

// OutboxService lets operators inspect delivery and requeue parked entries
type OutboxService struct {
	store  ParkedStore
	logger *zap.Logger
	now    func() time.Time
}

func NewOutboxService(store ParkedStore, logger *zap.Logger) *OutboxService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxService{store: store, logger: logger, now: time.Now}
}

// OutboxEntryDTO is an entry without its payload
type OutboxEntryDTO struct {
	ID          uuid.UUID  `json:"id"`
	EventID     uuid.UUID  `json:"eventId"`
	EventType   string     `json:"eventType"`
	Aggregate   string     `json:"aggregate"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	LastError   string     `json:"lastError,omitempty"`
	AvailableAt time.Time  `json:"availableAt"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func newOutboxEntryDTO(e *shared.OutboxEntry) OutboxEntryDTO {
	return OutboxEntryDTO{
		ID:          e.ID,
		EventID:     e.EventID,
		EventType:   e.EventType,
		Aggregate:   e.AggregateType + "/" + e.AggregateID.String(),
		Status:      string(e.Status),
		Attempts:    e.Attempts,
		MaxAttempts: e.MaxAttempts,
		LastError:   e.LastError,
		AvailableAt: e.AvailableAt,
		DeliveredAt: e.DeliveredAt,
		CreatedAt:   e.CreatedAt,
	}
}

// OutboxStatsDTO counts entries per status. Backlog is everything not yet delivered or parked.
type OutboxStatsDTO struct {
	ByStatus map[string]int64 `json:"byStatus"`
	Backlog  int64            `json:"backlog"`
	Total    int64            `json:"total"`
}

// Parked pages through entries waiting for an operator
func (s *OutboxService) Parked(ctx context.Context, page, pageSize int) (shared.Paginated[OutboxEntryDTO], error) {
	f := shared.Filter{Page: page, PageSize: pageSize}.Normalize()
	entries, total, err := s.store.FindParked(ctx, f.Page, f.PageSize)
	if err != nil {
		return shared.Paginated[OutboxEntryDTO]{}, shared.PersistenceFailure("load parked outbox entries", err)
	}
	items := make([]OutboxEntryDTO, len(entries))
	for i, e := range entries {
		items[i] = newOutboxEntryDTO(e)
	}
	return shared.NewPaginated(items, total, f.Page, f.PageSize), nil
}

func (s *OutboxService) Entry(ctx context.Context, id uuid.UUID) (*OutboxEntryDTO, error) {
	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, shared.PersistenceFailure("load outbox entry", err)
	}
	dto := newOutboxEntryDTO(e)
	return &dto, nil
}

// Requeue gives one parked entry a fresh attempt budget
func (s *OutboxService) Requeue(ctx context.Context, id uuid.UUID) (*OutboxEntryDTO, error) {
	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, shared.PersistenceFailure("load outbox entry", err)
	}
	if err := e.Requeue(s.now()); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, e); err != nil {
		return nil, shared.PersistenceFailure("requeue outbox entry", err)
	}
	s.logger.Info("Outbox entry requeued", zap.String("id", id.String()), zap.String("event_type", e.EventType))
	dto := newOutboxEntryDTO(e)
	return &dto, nil
}

// RequeueAll requeues every parked entry and returns how many moved
func (s *OutboxService) RequeueAll(ctx context.Context) (int64, error) {
	n, err := s.store.RequeueParked(ctx, s.now())
	if err != nil {
		return 0, shared.PersistenceFailure("requeue parked outbox entries", err)
	}
	s.logger.Info("Parked outbox entries requeued", zap.Int64("count", n))
	return n, nil
}

func (s *OutboxService) Stats(ctx context.Context) (*OutboxStatsDTO, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, shared.PersistenceFailure("count outbox entries", err)
	}
	stats := &OutboxStatsDTO{ByStatus: make(map[string]int64, len(shared.OutboxStatuses))}
	for _, status := range shared.OutboxStatuses {
		n := counts[status]
		stats.ByStatus[string(status)] = n
		stats.Total += n
		if status != shared.OutboxDelivered && status != shared.OutboxParked {
			stats.Backlog += n
		}
	}
	return stats, nil
}
