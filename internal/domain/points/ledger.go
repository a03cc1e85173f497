package points

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/shared"
)

// BizDateLayout formats the business-day bucket stored on every row
const BizDateLayout = "2006-01-02"

// LedgerRow is an immutable point movement. Amount is signed: credits are
// positive. Rows are never updated; corrections are new rows.
type LedgerRow struct {
	ID         uuid.UUID
	UserID     string
	Type       LedgerType
	Amount     int64
	Reason     string
	BizID      string
	RuleID     *uuid.UUID
	CampaignID *uuid.UUID
	EventType  EventType
	Operator   string
	BizDate    string
	CreatedAt  time.Time
}

// NewLedgerRow builds a row of type t moving points (a positive magnitude) for userID.
// The sign is derived from the type.
func NewLedgerRow(userID string, t LedgerType, points int64, reason, bizID string, at time.Time, loc *time.Location) (*LedgerRow, error) {
	var v shared.ValidationError
	if strings.TrimSpace(userID) == "" {
		v.Add("userId", "is required")
	}
	if len(userID) > MaxUserIDLength {
		v.Addf("userId", "must be at most %d characters", MaxUserIDLength)
	}
	if !t.IsValid() {
		v.Addf("type", "unsupported ledger type %q", t)
	}
	if points <= 0 {
		v.Add("points", "must be positive")
	}
	if strings.TrimSpace(bizID) == "" {
		v.Add("bizId", "is required")
	}
	if err := v.ErrOrNil(); err != nil {
		return nil, err
	}
	amount := points
	if !t.IsCredit() {
		amount = -points
	}
	if at.IsZero() {
		at = time.Now()
	}
	if loc == nil {
		loc = time.Local
	}
	return &LedgerRow{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      t,
		Amount:    amount,
		Reason:    reason,
		BizID:     bizID,
		BizDate:   at.In(loc).Format(BizDateLayout),
		CreatedAt: at,
	}, nil
}

// NewEarnRow records an engine award attributed to a rule and optionally a campaign
func NewEarnRow(ev *ActivityEvent, rule *PointsRule, campaign *PointsCampaign, points int64, loc *time.Location) (*LedgerRow, error) {
	row, err := NewLedgerRow(ev.UserID, LedgerEarn, points, rule.Name, ev.BizID, ev.OccurredAt, loc)
	if err != nil {
		return nil, err
	}
	ruleID := rule.ID
	row.RuleID = &ruleID
	row.EventType = ev.EventType
	if campaign != nil {
		cid := campaign.ID
		row.CampaignID = &cid
	}
	return row, nil
}

// NewBonusRow credits points granted by an operator
func NewBonusRow(userID string, points int64, reason, bizID, operator string, loc *time.Location) (*LedgerRow, error) {
	return newOperatorRow(userID, LedgerBonus, points, reason, bizID, operator, loc)
}

// NewRedeemRow spends usable points
func NewRedeemRow(userID string, points int64, reason, bizID, operator string, loc *time.Location) (*LedgerRow, error) {
	return newOperatorRow(userID, LedgerRedeem, points, reason, bizID, operator, loc)
}

// NewFreezeRow moves usable points into frozen
func NewFreezeRow(userID string, points int64, reason, bizID, operator string, loc *time.Location) (*LedgerRow, error) {
	return newOperatorRow(userID, LedgerFreeze, points, reason, bizID, operator, loc)
}

// NewUnfreezeRow moves frozen points back to usable
func NewUnfreezeRow(userID string, points int64, reason, bizID, operator string, loc *time.Location) (*LedgerRow, error) {
	return newOperatorRow(userID, LedgerUnfreeze, points, reason, bizID, operator, loc)
}

func newOperatorRow(userID string, t LedgerType, points int64, reason, bizID, operator string, loc *time.Location) (*LedgerRow, error) {
	row, err := NewLedgerRow(userID, t, points, reason, bizID, time.Now(), loc)
	if err != nil {
		return nil, err
	}
	row.Operator = operator
	return row, nil
}

// NewRefundRow reverses an earn-like row. The refund references the original row id as its bizId.
func NewRefundRow(original *LedgerRow, reason, operator string, loc *time.Location) (*LedgerRow, error) {
	if original.Type != LedgerEarn && original.Type != LedgerBonus && original.Type != LedgerCommission {
		return nil, shared.NewDomainError(shared.CodeInvalidState, "only earn, bonus and commission rows can be reversed")
	}
	row, err := NewLedgerRow(original.UserID, LedgerRefund, original.Amount, reason, original.ID.String(), time.Now(), loc)
	if err != nil {
		return nil, err
	}
	row.RuleID = original.RuleID
	row.CampaignID = original.CampaignID
	row.EventType = original.EventType
	row.Operator = operator
	return row, nil
}

// DedupKey identifies a row for idempotent appends: one row per user, bizId, type and rule
func (r *LedgerRow) DedupKey() string {
	rule := ""
	if r.RuleID != nil {
		rule = r.RuleID.String()
	}
	return r.UserID + "|" + r.BizID + "|" + string(r.Type) + "|" + rule
}

// Balance is the projection of a user's ledger
type Balance struct {
	UserID string `json:"userId"`
	Usable int64  `json:"usable"`
	Frozen int64  `json:"frozen"`
}

// Total is usable plus frozen points
func (b Balance) Total() int64 {
	return b.Usable + b.Frozen
}

// Apply folds one row into the projection. Freeze rows move points out of usable
// into frozen, unfreeze rows move them back, so the total is unchanged by both.
func (b *Balance) Apply(r *LedgerRow) {
	b.Usable += r.Amount
	if r.Type.MovesFrozen() {
		b.Frozen -= r.Amount
	}
}

// CanApply reports whether appending r keeps both totals non-negative
func (b Balance) CanApply(r *LedgerRow) bool {
	next := b
	next.Apply(r)
	if r.Amount < 0 && next.Usable < 0 {
		return false
	}
	return next.Frozen >= 0
}

// AppendResult is the outcome of a ledger append
type AppendResult string

const (
	AppendCommitted AppendResult = "committed"
	AppendDuplicate AppendResult = "duplicate"
	AppendFailed    AppendResult = "failed"
)

// LedgerFilter selects ledger rows
type LedgerFilter struct {
	shared.Filter
	UserID     string
	Type       *LedgerType
	BizID      string
	RuleID     *uuid.UUID
	CampaignID *uuid.UUID
	From       *time.Time
	To         *time.Time
}

// DailyTotal aggregates one business day
type DailyTotal struct {
	BizDate     string `json:"date"`
	Issued      int64  `json:"issued"`
	Redeemed    int64  `json:"redeemed"`
	ActiveUsers int64  `json:"activeUsers"`
}

// LedgerRepository is the append-only store of point movements
type LedgerRepository interface {
	// Append inserts all rows or none. AppendDuplicate means at least one row with the same
	// DedupKey already exists and nothing was written.
	Append(ctx context.Context, rows ...*LedgerRow) (AppendResult, error)
	Balance(ctx context.Context, userID string) (Balance, error)
	FindByID(ctx context.Context, id uuid.UUID) (*LedgerRow, error)
	FindAll(ctx context.Context, filter LedgerFilter) ([]LedgerRow, int64, error)
	// Stream walks every matching row in creation order in batches, for exports
	Stream(ctx context.Context, filter LedgerFilter, batchSize int, fn func([]LedgerRow) error) error
	ExistsByBiz(ctx context.Context, userID, bizID string, t LedgerType) (bool, error)
	CountByRule(ctx context.Context, ruleID uuid.UUID) (int64, error)
	DailyTotals(ctx context.Context, fromDate, toDate string) ([]DailyTotal, error)
}

// BalanceCache caches balance projections. Every append must invalidate the user's entry.
//
// Each user has a generation that Invalidate bumps. A read-through caller passes the
// generation returned by its Get to Set, and Set drops the write when an invalidation
// happened in between, so a projection read before an append never lands after it.
type BalanceCache interface {
	// Get returns the cached balance, nil on a miss, and the user's current generation
	Get(ctx context.Context, userID string) (*Balance, int64, error)
	// Set stores balance if the user's generation still equals gen
	Set(ctx context.Context, balance Balance, gen int64) error
	Invalidate(ctx context.Context, userIDs ...string) error
}
