package points

import (
	"strings"
	"time"

	"github.com/loyalty/points/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// MaxUserIDLength bounds user ids to what the stores can hold
const MaxUserIDLength = 64

// ActivityEvent is a qualifying user action delivered by an upstream collaborator
// (order pipeline, auth, referral). BizID is the caller's correlation id and the
// deduplication key for at-least-once delivery.
type ActivityEvent struct {
	BizID       string
	EventType   EventType
	UserID      string
	Channel     string
	DeviceID    string
	IP          string
	OccurredAt  time.Time
	OrderAmount *decimal.Decimal
	ReferrerID  string
	Extra       map[string]any
}

// Validate checks the descriptor before evaluation
func (e *ActivityEvent) Validate() error {
	var v shared.ValidationError
	if strings.TrimSpace(e.BizID) == "" {
		v.Add("bizId", "is required")
	}
	if len(e.BizID) > 128 {
		v.Add("bizId", "must be at most 128 characters")
	}
	if !e.EventType.IsValid() {
		v.Addf("eventType", "unsupported event type %q", e.EventType)
	}
	if strings.TrimSpace(e.UserID) == "" {
		v.Add("userId", "is required")
	}
	if len(e.UserID) > MaxUserIDLength {
		v.Addf("userId", "must be at most %d characters", MaxUserIDLength)
	}
	if len(e.ReferrerID) > MaxUserIDLength {
		v.Addf("referrerId", "must be at most %d characters", MaxUserIDLength)
	}
	if e.OccurredAt.IsZero() {
		v.Add("occurredAt", "is required")
	}
	if e.OrderAmount != nil && e.OrderAmount.IsNegative() {
		v.Add("orderAmount", "must not be negative")
	}
	return v.ErrOrNil()
}

// Amount returns the order amount or zero
func (e *ActivityEvent) Amount() decimal.Decimal {
	if e.OrderAmount == nil {
		return decimal.Zero
	}
	return *e.OrderAmount
}

// LocalTime returns the occurrence time in the engine's business timezone
func (e *ActivityEvent) LocalTime(loc *time.Location) time.Time {
	if loc == nil {
		return e.OccurredAt
	}
	return e.OccurredAt.In(loc)
}
