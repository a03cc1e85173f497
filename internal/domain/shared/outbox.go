package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is where an entry is in its delivery lifecycle
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxDelivering OutboxStatus = "delivering"
	OutboxDelivered  OutboxStatus = "delivered"
	OutboxRetrying   OutboxStatus = "retrying"
	// OutboxParked entries exhausted their attempts and wait for an operator
	OutboxParked OutboxStatus = "parked"
)

// OutboxStatuses lists every status in lifecycle order
var OutboxStatuses = []OutboxStatus{OutboxPending, OutboxDelivering, OutboxRetrying, OutboxDelivered, OutboxParked}

// RetryPolicy bounds redelivery of an entry
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy allows five attempts spread over roughly a quarter of a minute
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Minute}

// Delay is the wait after the given failed attempt: BaseDelay doubled per attempt, capped at MaxDelay
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// OutboxEntry is a serialized domain event committed with the state change that raised it
type OutboxEntry struct {
	ID            uuid.UUID
	EventID       uuid.UUID
	EventType     string
	AggregateID   uuid.UUID
	AggregateType string
	Payload       []byte
	Status        OutboxStatus
	Attempts      int
	MaxAttempts   int
	LastError     string
	// AvailableAt is the earliest time a processor may claim the entry
	AvailableAt time.Time
	DeliveredAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewOutboxEntry wraps a serialized event; it is deliverable immediately
func NewOutboxEntry(event DomainEvent, payload []byte, maxAttempts int) *OutboxEntry {
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	now := time.Now()
	return &OutboxEntry{
		ID:            uuid.New(),
		EventID:       event.EventID(),
		EventType:     event.EventType(),
		AggregateID:   event.AggregateID(),
		AggregateType: event.AggregateType(),
		Payload:       payload,
		Status:        OutboxPending,
		MaxAttempts:   maxAttempts,
		AvailableAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Delivered records a successful handoff to the bus
func (e *OutboxEntry) Delivered(at time.Time) {
	e.Attempts++
	e.Status = OutboxDelivered
	e.LastError = ""
	e.DeliveredAt = &at
	e.UpdatedAt = at
}

// Failed records a failed attempt and reports whether the entry is now parked
func (e *OutboxEntry) Failed(at time.Time, cause error, policy RetryPolicy) bool {
	e.Attempts++
	e.LastError = cause.Error()
	e.UpdatedAt = at
	if e.Attempts >= e.MaxAttempts {
		e.Status = OutboxParked
		return true
	}
	e.Status = OutboxRetrying
	e.AvailableAt = at.Add(policy.Delay(e.Attempts))
	return false
}

// Requeue hands a parked entry back to the processor with a fresh attempt budget
func (e *OutboxEntry) Requeue(at time.Time) error {
	if e.Status != OutboxParked {
		return NewDomainError(CodeInvalidState, "only parked outbox entries can be requeued")
	}
	e.Status = OutboxPending
	e.Attempts = 0
	e.LastError = ""
	e.AvailableAt = at
	e.UpdatedAt = at
	return nil
}

// Parked reports whether the entry needs an operator
func (e *OutboxEntry) Parked() bool {
	return e.Status == OutboxParked
}

// OutboxRepository stores entries for the background processor
type OutboxRepository interface {
	Save(ctx context.Context, entries ...*OutboxEntry) error
	// ClaimDue moves up to limit deliverable entries to delivering and returns them.
	// Entries left delivering longer than the repository lease are claimable again.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*OutboxEntry, error)
	Update(ctx context.Context, entry *OutboxEntry) error
	PurgeDelivered(ctx context.Context, before time.Time) (int64, error)
}
