package points

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/loyalty/points/internal/domain/shared"
)

// Member is the engine's snapshot of a user, synced from the user service
// and refreshed by the engine on register and first order events.
type Member struct {
	UserID       string
	Level        int
	Tags         []string
	RegisteredAt *time.Time
	FirstOrderAt *time.Time
	// FirstOrderBizID is the bizId of the order the engine claimed as the first one
	FirstOrderBizID string
	ReferrerID      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewMember creates a snapshot for a user seen for the first time
func NewMember(userID string) *Member {
	now := time.Now()
	return &Member{UserID: userID, CreatedAt: now, UpdatedAt: now}
}

// Validate checks the snapshot before it is stored
func (m *Member) Validate() error {
	var v shared.ValidationError
	if strings.TrimSpace(m.UserID) == "" {
		v.Add("userId", "is required")
	}
	if len(m.UserID) > MaxUserIDLength {
		v.Addf("userId", "must be at most %d characters", MaxUserIDLength)
	}
	if m.Level < 0 {
		v.Add("level", "must not be negative")
	}
	return v.ErrOrNil()
}

// HasTag reports whether the member carries the tag
func (m *Member) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// HasReferrer reports whether the member was referred by someone
func (m *Member) HasReferrer() bool {
	return m.ReferrerID != ""
}

// RegisteredWithin reports whether registration happened at most days before at
func (m *Member) RegisteredWithin(days int, at time.Time) bool {
	if m.RegisteredAt == nil || days <= 0 {
		return false
	}
	return !at.Before(*m.RegisteredAt) && at.Sub(*m.RegisteredAt) <= time.Duration(days)*24*time.Hour
}

// RegisteredDays returns whole days since registration, or -1 when unknown
func (m *Member) RegisteredDays(at time.Time) int {
	if m.RegisteredAt == nil {
		return -1
	}
	return int(at.Sub(*m.RegisteredAt) / (24 * time.Hour))
}

// IsFirstOrder reports whether ev is the actor's first order. Once an order was
// claimed only that bizId qualifies, whatever the occurrence times of later events.
func (m *Member) IsFirstOrder(ev *ActivityEvent) bool {
	if m.FirstOrderBizID != "" {
		return m.FirstOrderBizID == ev.BizID
	}
	return m.FirstOrderAt == nil
}

// ObserveEvent updates the snapshot from an evaluated event and reports whether anything changed
func (m *Member) ObserveEvent(ev *ActivityEvent) bool {
	changed := false
	switch ev.EventType {
	case EventRegister:
		if m.RegisteredAt == nil {
			t := ev.OccurredAt
			m.RegisteredAt = &t
			changed = true
		}
	case EventFirstOrderPaid, EventOrderPaid:
		if m.FirstOrderAt == nil {
			t := ev.OccurredAt
			m.FirstOrderAt = &t
			m.FirstOrderBizID = ev.BizID
			changed = true
		}
	}
	if ev.ReferrerID != "" && m.ReferrerID == "" {
		m.ReferrerID = ev.ReferrerID
		changed = true
	}
	if changed {
		m.UpdatedAt = time.Now()
	}
	return changed
}

// MemberRepository stores member snapshots and enumerates grant audiences
type MemberRepository interface {
	FindByUserID(ctx context.Context, userID string) (*Member, error)
	Save(ctx context.Context, member *Member) error
	// CountAudience counts members at or above minLevel; nil counts everyone
	CountAudience(ctx context.Context, minLevel *int) (int64, error)
	// ListUserIDs pages through the audience ordered by user id, starting after afterUserID
	ListUserIDs(ctx context.Context, minLevel *int, afterUserID string, limit int) ([]string, error)
}
