package points

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/shared"
)

// Outcome summarizes what the engine did with an event
type Outcome string

const (
	OutcomeAwarded Outcome = "awarded"
	OutcomeNoAward Outcome = "no_award"
	OutcomeBlocked Outcome = "blocked"
)

// TraceEntry explains one rule's contribution to a decision
type TraceEntry struct {
	RuleID        uuid.UUID  `json:"ruleId"`
	RuleName      string     `json:"ruleName"`
	CampaignID    *uuid.UUID `json:"campaignId,omitempty"`
	ComputedValue int64      `json:"computedAmount"`
	AwardedAmount int64      `json:"awardedAmount"`
	ClippedBy     ClipReason `json:"clippedBy,omitempty"`
	Skipped       string     `json:"skipped,omitempty"`
	Downgraded    bool       `json:"downgraded,omitempty"`
}

// RiskHit records one exceeded risk rule
type RiskHit struct {
	RiskRuleID  uuid.UUID `json:"riskRuleId"`
	Action      HitAction `json:"action"`
	Limit       string    `json:"limit"`
	Blacklisted bool      `json:"blacklisted,omitempty"`
}

// Decision is the stored result of evaluating one event. It doubles as the
// event receipt: a second decision for the same user, event type and bizId is a replay.
type Decision struct {
	ID           uuid.UUID
	BizID        string
	UserID       string
	EventType    EventType
	Outcome      Outcome
	Reason       string
	RiskAction   HitAction
	Review       bool
	Multiplier   float64
	TotalAwarded int64
	Trace        []TraceEntry
	RiskHits     []RiskHit
	OccurredAt   time.Time
	CreatedAt    time.Time
}

// NewDecision starts a decision for an event
func NewDecision(ev *ActivityEvent) *Decision {
	return &Decision{
		ID:         uuid.New(),
		BizID:      ev.BizID,
		UserID:     ev.UserID,
		EventType:  ev.EventType,
		Outcome:    OutcomeNoAward,
		Multiplier: 1,
		OccurredAt: ev.OccurredAt,
		CreatedAt:  time.Now(),
	}
}

// Block marks the event as suppressed by the risk gate
func (d *Decision) Block(reason string) {
	d.Outcome = OutcomeBlocked
	d.Reason = reason
	d.RiskAction = HitActionBlock
}

// Finalize derives the outcome from the awarded trace entries
func (d *Decision) Finalize() {
	if d.Outcome == OutcomeBlocked {
		return
	}
	d.TotalAwarded = 0
	for _, t := range d.Trace {
		d.TotalAwarded += t.AwardedAmount
	}
	if d.TotalAwarded > 0 {
		d.Outcome = OutcomeAwarded
		d.Reason = ""
		return
	}
	d.Outcome = OutcomeNoAward
	if d.Reason == "" {
		d.Reason = "no rule awarded points"
	}
}

// DecisionFilter selects stored decisions
type DecisionFilter struct {
	shared.Filter
	UserID    string
	EventType *EventType
	Outcome   *Outcome
	Review    *bool
	From      *time.Time
	To        *time.Time
}

// EvaluationRepository stores decisions and detects replays
type EvaluationRepository interface {
	// Save inserts the decision. It returns false without error when a decision for the
	// same user, event type and bizId already exists.
	Save(ctx context.Context, d *Decision) (bool, error)
	Find(ctx context.Context, userID string, eventType EventType, bizID string) (*Decision, error)
	FindAll(ctx context.Context, filter DecisionFilter) ([]Decision, int64, error)
	CountByOutcomeSince(ctx context.Context, since time.Time) (map[Outcome]int64, error)
}
