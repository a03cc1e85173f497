package points

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ruleUserDayPrefix = "rud:"
	campaignDayPrefix = "cd:"
)

// DayScopedKeyPrefixes are the prefixes of counters that only matter on their own
// business day. Rows under them can be dropped once the day is over.
func DayScopedKeyPrefixes() []string {
	return []string{ruleUserDayPrefix, campaignDayPrefix}
}

// CounterKey names one contention key. Budget and throttle mutations for the same
// key are serialized; different keys never wait on each other.
type CounterKey string

// RuleUserTotalKey counts a rule's awards to one user; its LastAt drives the cooldown
func RuleUserTotalKey(ruleID uuid.UUID, userID string) CounterKey {
	return CounterKey("ru:" + ruleID.String() + ":" + userID)
}

// RuleUserDayKey counts a rule's awards to one user on one business day
func RuleUserDayKey(ruleID uuid.UUID, day, userID string) CounterKey {
	return CounterKey(ruleUserDayPrefix + ruleID.String() + ":" + day + ":" + userID)
}

// CampaignTotalKey holds a campaign's lifetime spend
func CampaignTotalKey(campaignID uuid.UUID) CounterKey {
	return CounterKey("c:" + campaignID.String())
}

// CampaignDayKey holds a campaign's spend on one business day
func CampaignDayKey(campaignID uuid.UUID, day string) CounterKey {
	return CounterKey(campaignDayPrefix + campaignID.String() + ":" + day)
}

// CampaignUserKey holds a campaign's lifetime spend on one user
func CampaignUserKey(campaignID uuid.UUID, userID string) CounterKey {
	return CounterKey("cu:" + campaignID.String() + ":" + userID)
}

// AccountKey serializes debits against one user's balance
func AccountKey(userID string) CounterKey {
	return CounterKey("acct:" + userID)
}

// MemberKey serializes engine writes to one member snapshot
func MemberKey(userID string) CounterKey {
	return CounterKey("mem:" + userID)
}

// Counter is the locked value of one contention key
type Counter struct {
	Key    CounterKey
	Value  int64
	LastAt *time.Time
}

// CounterStore keeps per-key counters in the transactional store.
// Lock must be called inside a transaction scope.
type CounterStore interface {
	// Lock creates missing counters at zero and row-locks all keys in sorted order
	// until the surrounding transaction ends.
	Lock(ctx context.Context, keys []CounterKey) (map[CounterKey]*Counter, error)
	// Add increments a counter and stamps LastAt
	Add(ctx context.Context, key CounterKey, delta int64, at time.Time) error
	// Get reads counters without locking; missing keys are absent from the result
	Get(ctx context.Context, keys []CounterKey) (map[CounterKey]*Counter, error)
}

// RiskObservation is one event as seen by the risk gate for one scope
type RiskObservation struct {
	Scope     EventType
	EventType EventType
	BizID     string
	UserID    string
	DeviceID  string
	IP        string
	At        time.Time
	Day       string
}

// Member identifies the observed event inside a window. Observing the same
// event twice leaves every count unchanged.
func (o RiskObservation) Member() string {
	return string(o.EventType) + ":" + o.UserID + ":" + o.BizID
}

// RiskWindow is the span of the sliding per-minute frequency window
const RiskWindow = time.Minute

// RiskCounterStore keeps rolling observation counts.
//
// Observe records the event in the user's sliding minute window and day window and
// returns the resulting totals. Device and IP totals count the rewarded events of
// the day plus the current one. Rewarded records that the event was awarded points.
// Both are idempotent per observation member.
type RiskCounterStore interface {
	Observe(ctx context.Context, obs RiskObservation) (RiskCounts, error)
	Rewarded(ctx context.Context, obs RiskObservation) error
}

// BlacklistEntry permanently blocks an actor for one event type scope
type BlacklistEntry struct {
	ID         uuid.UUID
	UserID     string
	EventType  EventType
	RiskRuleID uuid.UUID
	Reason     string
	CreatedAt  time.Time
}

// NewBlacklistEntry creates an entry from a risk hit
func NewBlacklistEntry(userID string, rule *PointsRiskRule, reason string) *BlacklistEntry {
	return &BlacklistEntry{
		ID:         uuid.New(),
		UserID:     userID,
		EventType:  rule.EventType,
		RiskRuleID: rule.ID,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
}

// BlacklistRepository stores blacklisted actors
type BlacklistRepository interface {
	// Add is idempotent per user and event type
	Add(ctx context.Context, entry *BlacklistEntry) error
	// IsBlacklisted matches entries for t and for "all"
	IsBlacklisted(ctx context.Context, userID string, t EventType) (bool, error)
	FindByUser(ctx context.Context, userID string) ([]BlacklistEntry, error)
	Remove(ctx context.Context, id uuid.UUID) error
}
