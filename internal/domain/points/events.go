package points

import (
	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/shared"
)

const (
	EventTypePointsAwarded     = "points.awarded"
	EventTypeRiskBlocked       = "points.risk_blocked"
	EventTypeGrantTaskFinished = "points.grant_task_finished"
	EventTypeLedgerReversed    = "points.ledger_reversed"

	AggregateLedger    = "PointsLedger"
	AggregateGrantTask = "PointsGrantTask"
)

// AwardLine is one committed award inside PointsAwarded
type AwardLine struct {
	LedgerRowID uuid.UUID  `json:"ledgerRowId"`
	RuleID      uuid.UUID  `json:"ruleId"`
	CampaignID  *uuid.UUID `json:"campaignId,omitempty"`
	Amount      int64      `json:"amount"`
	ClippedBy   ClipReason `json:"clippedBy,omitempty"`
}

// PointsAwarded is raised when an evaluation commits at least one earn row
type PointsAwarded struct {
	shared.BaseDomainEvent
	DecisionID  uuid.UUID   `json:"decisionId"`
	UserID      string      `json:"userId"`
	BizID       string      `json:"bizId"`
	Activity    EventType   `json:"activity"`
	TotalPoints int64       `json:"totalPoints"`
	Downgraded  bool        `json:"downgraded"`
	Review      bool        `json:"review"`
	Lines       []AwardLine `json:"lines"`
}

// NewPointsAwarded builds the event for a committed decision
func NewPointsAwarded(d *Decision, lines []AwardLine) *PointsAwarded {
	return &PointsAwarded{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePointsAwarded, AggregateLedger, d.ID),
		DecisionID:      d.ID,
		UserID:          d.UserID,
		BizID:           d.BizID,
		Activity:        d.EventType,
		TotalPoints:     d.TotalAwarded,
		Downgraded:      d.RiskAction == HitActionDowngrade,
		Review:          d.Review,
		Lines:           lines,
	}
}

// EventRiskBlocked is raised when the risk gate suppresses an event
type EventRiskBlocked struct {
	shared.BaseDomainEvent
	DecisionID uuid.UUID `json:"decisionId"`
	UserID     string    `json:"userId"`
	BizID      string    `json:"bizId"`
	Activity   EventType `json:"activity"`
	Hits       []RiskHit `json:"hits"`
}

// NewEventRiskBlocked builds the event for a blocked decision
func NewEventRiskBlocked(d *Decision) *EventRiskBlocked {
	return &EventRiskBlocked{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRiskBlocked, AggregateLedger, d.ID),
		DecisionID:      d.ID,
		UserID:          d.UserID,
		BizID:           d.BizID,
		Activity:        d.EventType,
		Hits:            d.RiskHits,
	}
}

// GrantTaskFinished is raised when a grant task reaches a terminal state
type GrantTaskFinished struct {
	shared.BaseDomainEvent
	TaskID       uuid.UUID   `json:"taskId"`
	GrantType    GrantType   `json:"grantType"`
	Status       GrantStatus `json:"status"`
	Points       int64       `json:"points"`
	SuccessCount int64       `json:"successCount"`
	FailureCount int64       `json:"failureCount"`
	Canceled     bool        `json:"canceled"`
}

// NewGrantTaskFinished builds the event for a finished task
func NewGrantTaskFinished(t *GrantTask) *GrantTaskFinished {
	return &GrantTaskFinished{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeGrantTaskFinished, AggregateGrantTask, t.ID),
		TaskID:          t.ID,
		GrantType:       t.GrantType,
		Status:          t.Status,
		Points:          t.Points,
		SuccessCount:    t.SuccessCount,
		FailureCount:    t.FailureCount,
		Canceled:        t.Canceled,
	}
}

// LedgerRowReversed is raised when an earn row is refunded
type LedgerRowReversed struct {
	shared.BaseDomainEvent
	OriginalRowID uuid.UUID `json:"originalRowId"`
	RefundRowID   uuid.UUID `json:"refundRowId"`
	UserID        string    `json:"userId"`
	Amount        int64     `json:"amount"`
	Operator      string    `json:"operator"`
}

// NewLedgerRowReversed builds the event for a reversal
func NewLedgerRowReversed(original, refund *LedgerRow) *LedgerRowReversed {
	return &LedgerRowReversed{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeLedgerReversed, AggregateLedger, original.ID),
		OriginalRowID:   original.ID,
		RefundRowID:     refund.ID,
		UserID:          original.UserID,
		Amount:          -refund.Amount,
		Operator:        refund.Operator,
	}
}
