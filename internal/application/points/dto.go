package points

import (
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/shopspring/decimal"
)

// EvaluateInput is an activity event delivered by an upstream collaborator
type EvaluateInput struct {
	BizID       string
	EventType   points.EventType
	UserID      string
	Channel     string
	DeviceID    string
	IP          string
	OccurredAt  time.Time
	OrderAmount *decimal.Decimal
	ReferrerID  string
	Extra       map[string]any
}

func (in EvaluateInput) toEvent() *points.ActivityEvent {
	return &points.ActivityEvent{
		BizID:       in.BizID,
		EventType:   in.EventType,
		UserID:      in.UserID,
		Channel:     in.Channel,
		DeviceID:    in.DeviceID,
		IP:          in.IP,
		OccurredAt:  in.OccurredAt,
		OrderAmount: in.OrderAmount,
		ReferrerID:  in.ReferrerID,
		Extra:       in.Extra,
	}
}

// EvaluationResult is the decision for one event
type EvaluationResult struct {
	DecisionID   uuid.UUID           `json:"decisionId"`
	BizID        string              `json:"bizId"`
	UserID       string              `json:"userId"`
	EventType    points.EventType    `json:"eventType"`
	Outcome      points.Outcome      `json:"outcome"`
	Reason       string              `json:"reason,omitempty"`
	Duplicate    bool                `json:"duplicate"`
	Review       bool                `json:"review"`
	RiskAction   points.HitAction    `json:"riskAction,omitempty"`
	Multiplier   float64             `json:"multiplier"`
	TotalAwarded int64               `json:"totalAwarded"`
	Trace        []points.TraceEntry `json:"trace"`
	RiskHits     []points.RiskHit    `json:"riskHits,omitempty"`
	OccurredAt   time.Time           `json:"occurredAt"`
	DecidedAt    time.Time           `json:"decidedAt"`
}

// ToEvaluationResult converts a stored decision
func ToEvaluationResult(d *points.Decision, duplicate bool) *EvaluationResult {
	trace := d.Trace
	if trace == nil {
		trace = []points.TraceEntry{}
	}
	return &EvaluationResult{
		DecisionID:   d.ID,
		BizID:        d.BizID,
		UserID:       d.UserID,
		EventType:    d.EventType,
		Outcome:      d.Outcome,
		Reason:       d.Reason,
		Duplicate:    duplicate,
		Review:       d.Review,
		RiskAction:   d.RiskAction,
		Multiplier:   d.Multiplier,
		TotalAwarded: d.TotalAwarded,
		Trace:        trace,
		RiskHits:     d.RiskHits,
		OccurredAt:   d.OccurredAt,
		DecidedAt:    d.CreatedAt,
	}
}

// DecisionListFilter selects stored decisions, e.g. the review queue
type DecisionListFilter struct {
	UserID    string
	EventType *points.EventType
	Outcome   *points.Outcome
	Review    *bool
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// RuleRequest creates or replaces a rule definition
type RuleRequest struct {
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	EventType         points.EventType  `json:"eventType"`
	RewardMode        points.RewardMode `json:"rewardMode"`
	RewardValue       decimal.Decimal   `json:"rewardValue"`
	ScopeType         points.ScopeType  `json:"scopeType"`
	ScopeValue        string            `json:"scopeValue"`
	MinOrderAmount    decimal.Decimal   `json:"minOrderAmount"`
	MaxOrderAmount    decimal.Decimal   `json:"maxOrderAmount"`
	MinUserLevel      int               `json:"minUserLevel"`
	MaxUserLevel      int               `json:"maxUserLevel"`
	NewUserWithinDays int               `json:"newUserWithinDays"`
	RequireReferral   bool              `json:"requireReferral"`
	RequireFirstOrder bool              `json:"requireFirstOrder"`
	Weekdays          []int             `json:"weekdays"`
	AllowedChannels   []string          `json:"allowedChannels"`
	ExtraConditions   string            `json:"extraConditions"`
	MaxPerUserDay     int               `json:"maxPerUserDay"`
	MaxPerUserTotal   int               `json:"maxPerUserTotal"`
	CooldownMinutes   int               `json:"cooldownMinutes"`
	StackMode         points.StackMode  `json:"stackMode"`
	ValidStart        *time.Time        `json:"validStart"`
	ValidEnd          *time.Time        `json:"validEnd"`
	Status            *points.Status    `json:"status"`
	// Version must match the stored version on update
	Version int `json:"version"`
}

func (r RuleRequest) definition() points.RuleDefinition {
	return points.RuleDefinition{
		Name:              r.Name,
		Description:       r.Description,
		EventType:         r.EventType,
		RewardMode:        r.RewardMode,
		RewardValue:       r.RewardValue,
		ScopeType:         r.ScopeType,
		ScopeValue:        r.ScopeValue,
		MinOrderAmount:    r.MinOrderAmount,
		MaxOrderAmount:    r.MaxOrderAmount,
		MinUserLevel:      r.MinUserLevel,
		MaxUserLevel:      r.MaxUserLevel,
		NewUserWithinDays: r.NewUserWithinDays,
		RequireReferral:   r.RequireReferral,
		RequireFirstOrder: r.RequireFirstOrder,
		Weekdays:          r.Weekdays,
		AllowedChannels:   r.AllowedChannels,
		ExtraConditions:   r.ExtraConditions,
		MaxPerUserDay:     r.MaxPerUserDay,
		MaxPerUserTotal:   r.MaxPerUserTotal,
		CooldownMinutes:   r.CooldownMinutes,
		StackMode:         r.StackMode,
		ValidStart:        r.ValidStart,
		ValidEnd:          r.ValidEnd,
	}
}

// RuleResponse is a rule in API responses
type RuleResponse struct {
	ID                uuid.UUID         `json:"id"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	EventType         points.EventType  `json:"eventType"`
	RewardMode        points.RewardMode `json:"rewardMode"`
	RewardValue       decimal.Decimal   `json:"rewardValue"`
	ScopeType         points.ScopeType  `json:"scopeType"`
	ScopeValue        string            `json:"scopeValue"`
	MinOrderAmount    decimal.Decimal   `json:"minOrderAmount"`
	MaxOrderAmount    decimal.Decimal   `json:"maxOrderAmount"`
	MinUserLevel      int               `json:"minUserLevel"`
	MaxUserLevel      int               `json:"maxUserLevel"`
	NewUserWithinDays int               `json:"newUserWithinDays"`
	RequireReferral   bool              `json:"requireReferral"`
	RequireFirstOrder bool              `json:"requireFirstOrder"`
	Weekdays          []int             `json:"weekdays"`
	AllowedChannels   []string          `json:"allowedChannels"`
	ExtraConditions   string            `json:"extraConditions"`
	MaxPerUserDay     int               `json:"maxPerUserDay"`
	MaxPerUserTotal   int               `json:"maxPerUserTotal"`
	CooldownMinutes   int               `json:"cooldownMinutes"`
	StackMode         points.StackMode  `json:"stackMode"`
	ValidStart        *time.Time        `json:"validStart"`
	ValidEnd          *time.Time        `json:"validEnd"`
	Status            points.Status     `json:"status"`
	Version           int               `json:"version"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// ToRuleResponse converts a domain rule
func ToRuleResponse(r *points.PointsRule) RuleResponse {
	return RuleResponse{
		ID:                r.ID,
		Name:              r.Name,
		Description:       r.Description,
		EventType:         r.EventType,
		RewardMode:        r.RewardMode,
		RewardValue:       r.RewardValue,
		ScopeType:         r.ScopeType,
		ScopeValue:        r.ScopeValue,
		MinOrderAmount:    r.MinOrderAmount,
		MaxOrderAmount:    r.MaxOrderAmount,
		MinUserLevel:      r.MinUserLevel,
		MaxUserLevel:      r.MaxUserLevel,
		NewUserWithinDays: r.NewUserWithinDays,
		RequireReferral:   r.RequireReferral,
		RequireFirstOrder: r.RequireFirstOrder,
		Weekdays:          nonNil(r.Weekdays),
		AllowedChannels:   nonNil(r.AllowedChannels),
		ExtraConditions:   r.ExtraConditions,
		MaxPerUserDay:     r.MaxPerUserDay,
		MaxPerUserTotal:   r.MaxPerUserTotal,
		CooldownMinutes:   r.CooldownMinutes,
		StackMode:         r.StackMode,
		ValidStart:        r.ValidStart,
		ValidEnd:          r.ValidEnd,
		Status:            r.Status,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// RuleListFilter selects rules
type RuleListFilter struct {
	Search    string
	EventType *points.EventType
	Status    *points.Status
	StackMode *points.StackMode
	Page      int
	PageSize  int
	OrderBy   string
	OrderDir  string
}

// CampaignRequest creates or replaces a campaign definition
type CampaignRequest struct {
	Name              string              `json:"name"`
	Description       string              `json:"description"`
	RuleIDs           []uuid.UUID         `json:"ruleIds"`
	BudgetTotalPoints int64               `json:"budgetTotalPoints"`
	BudgetDailyPoints int64               `json:"budgetDailyPoints"`
	UserCapPoints     int64               `json:"userCapPoints"`
	AudienceType      points.AudienceType `json:"audienceType"`
	AudienceValue     string              `json:"audienceValue"`
	StartAt           *time.Time          `json:"startAt"`
	EndAt             *time.Time          `json:"endAt"`
	Status            *points.Status      `json:"status"`
	Version           int                 `json:"version"`
}

func (r CampaignRequest) definition() points.CampaignDefinition {
	return points.CampaignDefinition{
		Name:              r.Name,
		Description:       r.Description,
		RuleIDs:           r.RuleIDs,
		BudgetTotalPoints: r.BudgetTotalPoints,
		BudgetDailyPoints: r.BudgetDailyPoints,
		UserCapPoints:     r.UserCapPoints,
		AudienceType:      r.AudienceType,
		AudienceValue:     r.AudienceValue,
		StartAt:           r.StartAt,
		EndAt:             r.EndAt,
	}
}

// CampaignResponse is a campaign in API responses
type CampaignResponse struct {
	ID                uuid.UUID           `json:"id"`
	Name              string              `json:"name"`
	Description       string              `json:"description"`
	RuleIDs           []uuid.UUID         `json:"ruleIds"`
	BudgetTotalPoints int64               `json:"budgetTotalPoints"`
	BudgetDailyPoints int64               `json:"budgetDailyPoints"`
	UserCapPoints     int64               `json:"userCapPoints"`
	SpentPoints       int64               `json:"spentPoints"`
	SpentToday        *int64              `json:"spentToday,omitempty"`
	AudienceType      points.AudienceType `json:"audienceType"`
	AudienceValue     string              `json:"audienceValue"`
	StartAt           *time.Time          `json:"startAt"`
	EndAt             *time.Time          `json:"endAt"`
	Status            points.Status       `json:"status"`
	Version           int                 `json:"version"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// ToCampaignResponse converts a domain campaign
func ToCampaignResponse(c *points.PointsCampaign) CampaignResponse {
	return CampaignResponse{
		ID:                c.ID,
		Name:              c.Name,
		Description:       c.Description,
		RuleIDs:           nonNil(c.RuleIDs),
		BudgetTotalPoints: c.BudgetTotalPoints,
		BudgetDailyPoints: c.BudgetDailyPoints,
		UserCapPoints:     c.UserCapPoints,
		SpentPoints:       c.SpentPoints,
		AudienceType:      c.AudienceType,
		AudienceValue:     c.AudienceValue,
		StartAt:           c.StartAt,
		EndAt:             c.EndAt,
		Status:            c.Status,
		Version:           c.Version,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

// CampaignListFilter selects campaigns
type CampaignListFilter struct {
	Search   string
	Status   *points.Status
	RuleID   *uuid.UUID
	Page     int
	PageSize int
}

// RiskRuleRequest creates or replaces a risk rule
type RiskRuleRequest struct {
	Name             string           `json:"name"`
	EventType        points.EventType `json:"eventType"`
	FreqLimit        int              `json:"freqLimit"`
	DailyLimit       int              `json:"dailyLimit"`
	DeviceLimit      int              `json:"deviceLimit"`
	IPLimit          int              `json:"ipLimit"`
	BlacklistEnabled bool             `json:"blacklistEnabled"`
	HitAction        points.HitAction `json:"hitAction"`
	Status           *points.Status   `json:"status"`
	Version          int              `json:"version"`
}

func (r RiskRuleRequest) definition() points.RiskDefinition {
	return points.RiskDefinition{
		Name:             r.Name,
		EventType:        r.EventType,
		FreqLimit:        r.FreqLimit,
		DailyLimit:       r.DailyLimit,
		DeviceLimit:      r.DeviceLimit,
		IPLimit:          r.IPLimit,
		BlacklistEnabled: r.BlacklistEnabled,
		HitAction:        r.HitAction,
	}
}

// RiskRuleResponse is a risk rule in API responses
type RiskRuleResponse struct {
	ID               uuid.UUID        `json:"id"`
	Name             string           `json:"name"`
	EventType        points.EventType `json:"eventType"`
	FreqLimit        int              `json:"freqLimit"`
	DailyLimit       int              `json:"dailyLimit"`
	DeviceLimit      int              `json:"deviceLimit"`
	IPLimit          int              `json:"ipLimit"`
	BlacklistEnabled bool             `json:"blacklistEnabled"`
	HitAction        points.HitAction `json:"hitAction"`
	Status           points.Status    `json:"status"`
	Version          int              `json:"version"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// ToRiskRuleResponse converts a domain risk rule
func ToRiskRuleResponse(r *points.PointsRiskRule) RiskRuleResponse {
	return RiskRuleResponse{
		ID:               r.ID,
		Name:             r.Name,
		EventType:        r.EventType,
		FreqLimit:        r.FreqLimit,
		DailyLimit:       r.DailyLimit,
		DeviceLimit:      r.DeviceLimit,
		IPLimit:          r.IPLimit,
		BlacklistEnabled: r.BlacklistEnabled,
		HitAction:        r.HitAction,
		Status:           r.Status,
		Version:          r.Version,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// RiskRuleListFilter selects risk rules
type RiskRuleListFilter struct {
	Search    string
	EventType *points.EventType
	Status    *points.Status
	Page      int
	PageSize  int
}

// BlacklistResponse is a blacklist entry
type BlacklistResponse struct {
	ID         uuid.UUID        `json:"id"`
	UserID     string           `json:"userId"`
	EventType  points.EventType `json:"eventType"`
	RiskRuleID uuid.UUID        `json:"riskRuleId"`
	Reason     string           `json:"reason"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// ToBlacklistResponse converts a blacklist entry
func ToBlacklistResponse(e *points.BlacklistEntry) BlacklistResponse {
	return BlacklistResponse{
		ID:         e.ID,
		UserID:     e.UserID,
		EventType:  e.EventType,
		RiskRuleID: e.RiskRuleID,
		Reason:     e.Reason,
		CreatedAt:  e.CreatedAt,
	}
}

// Mutation carries the before and after snapshots of an admin change so the
// caller can write its audit log. Before is nil on create, After is nil on delete.
type Mutation[T any] struct {
	Before *T `json:"before"`
	After  *T `json:"after"`
}

// LedgerRowResponse is a ledger row in API responses
type LedgerRowResponse struct {
	ID         uuid.UUID         `json:"id"`
	UserID     string            `json:"userId"`
	Type       points.LedgerType `json:"type"`
	Amount     int64             `json:"amount"`
	Reason     string            `json:"reason"`
	BizID      string            `json:"bizId"`
	RuleID     *uuid.UUID        `json:"ruleId,omitempty"`
	CampaignID *uuid.UUID        `json:"campaignId,omitempty"`
	EventType  points.EventType  `json:"eventType,omitempty"`
	Operator   string            `json:"operator,omitempty"`
	BizDate    string            `json:"bizDate"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// ToLedgerRowResponse converts a ledger row
func ToLedgerRowResponse(r *points.LedgerRow) LedgerRowResponse {
	return LedgerRowResponse{
		ID:         r.ID,
		UserID:     r.UserID,
		Type:       r.Type,
		Amount:     r.Amount,
		Reason:     r.Reason,
		BizID:      r.BizID,
		RuleID:     r.RuleID,
		CampaignID: r.CampaignID,
		EventType:  r.EventType,
		Operator:   r.Operator,
		BizDate:    r.BizDate,
		CreatedAt:  r.CreatedAt,
	}
}

// LedgerQuery selects ledger rows for the console and exports
type LedgerQuery struct {
	UserID     string
	Type       *points.LedgerType
	BizID      string
	RuleID     *uuid.UUID
	CampaignID *uuid.UUID
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

func (q LedgerQuery) filter() points.LedgerFilter {
	f := points.LedgerFilter{
		UserID:     q.UserID,
		Type:       q.Type,
		BizID:      q.BizID,
		RuleID:     q.RuleID,
		CampaignID: q.CampaignID,
		From:       q.From,
		To:         q.To,
	}
	f.Page = q.Page
	f.PageSize = q.PageSize
	f.Filter = f.Filter.Normalize()
	return f
}

// BalanceResponse is a user's balance
type BalanceResponse struct {
	UserID string `json:"userId"`
	Usable int64  `json:"usable"`
	Frozen int64  `json:"frozen"`
	Total  int64  `json:"total"`
}

func toBalanceResponse(b points.Balance) *BalanceResponse {
	return &BalanceResponse{UserID: b.UserID, Usable: b.Usable, Frozen: b.Frozen, Total: b.Total()}
}

// RedeemInput spends usable points on behalf of the order pipeline
type RedeemInput struct {
	UserID   string `json:"userId"`
	Points   int64  `json:"points"`
	BizID    string `json:"bizId"`
	Reason   string `json:"reason"`
	Operator string `json:"-"`
}

// RedeemResult reports a redeem; Duplicate means the bizId was already redeemed
type RedeemResult struct {
	Row       LedgerRowResponse `json:"row"`
	Duplicate bool              `json:"duplicate"`
	Balance   *BalanceResponse  `json:"balance"`
}

// ReverseInput refunds an earn-like ledger row
type ReverseInput struct {
	RowID    uuid.UUID `json:"-"`
	Reason   string    `json:"reason"`
	Operator string    `json:"-"`
}

// ReverseResult is the refund row written for a reversal
type ReverseResult struct {
	Original LedgerRowResponse `json:"original"`
	Refund   LedgerRowResponse `json:"refund"`
}

// GrantInput submits a bulk operator adjustment
type GrantInput struct {
	GrantType  points.GrantType  `json:"grantType"`
	TargetType points.TargetType `json:"targetType"`
	UserIDs    []string          `json:"userIds"`
	LevelID    *int              `json:"levelId"`
	Points     int64             `json:"points"`
	ReasonCode string            `json:"reasonCode"`
	Remark     string            `json:"remark"`
	Operator   string            `json:"-"`
}

func (in GrantInput) request() points.GrantRequest {
	return points.GrantRequest{
		GrantType:  in.GrantType,
		TargetType: in.TargetType,
		UserIDs:    in.UserIDs,
		LevelID:    in.LevelID,
		Points:     in.Points,
		ReasonCode: in.ReasonCode,
		Remark:     in.Remark,
		Operator:   in.Operator,
	}
}

// GrantTaskResponse is a grant task in API responses
type GrantTaskResponse struct {
	ID            uuid.UUID             `json:"id"`
	GrantType     points.GrantType      `json:"grantType"`
	TargetType    points.TargetType     `json:"targetType"`
	UserIDs       []string              `json:"userIds,omitempty"`
	LevelID       *int                  `json:"levelId,omitempty"`
	Points        int64                 `json:"points"`
	ReasonCode    string                `json:"reasonCode"`
	Remark        string                `json:"remark,omitempty"`
	Operator      string                `json:"operator,omitempty"`
	TargetCount   int64                 `json:"targetCount"`
	Status        points.GrantStatus    `json:"status"`
	SuccessCount  int64                 `json:"successCount"`
	FailureCount  int64                 `json:"failureCount"`
	ResultSummary string                `json:"resultSummary"`
	Failures      []points.GrantFailure `json:"failures,omitempty"`
	Canceled      bool                  `json:"canceled"`
	Running       bool                  `json:"running"`
	FinishedAt    *time.Time            `json:"finishedAt,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
}

// ToGrantTaskResponse converts a grant task
func ToGrantTaskResponse(t *points.GrantTask) GrantTaskResponse {
	return GrantTaskResponse{
		ID:            t.ID,
		GrantType:     t.GrantType,
		TargetType:    t.TargetType,
		UserIDs:       t.UserIDs,
		LevelID:       t.LevelID,
		Points:        t.Points,
		ReasonCode:    t.ReasonCode,
		Remark:        t.Remark,
		Operator:      t.Operator,
		TargetCount:   t.TargetCount,
		Status:        t.Status,
		SuccessCount:  t.SuccessCount,
		FailureCount:  t.FailureCount,
		ResultSummary: t.ResultSummary,
		Failures:      t.Failures,
		Canceled:      t.Canceled,
		FinishedAt:    t.FinishedAt,
		CreatedAt:     t.CreatedAt,
	}
}

// GrantListFilter selects grant tasks
type GrantListFilter struct {
	Status    *points.GrantStatus
	GrantType *points.GrantType
	Operator  string
	Page      int
	PageSize  int
}

// MemberInput is a user snapshot pushed by the user service
type MemberInput struct {
	UserID       string     `json:"-"`
	Level        int        `json:"level"`
	Tags         []string   `json:"tags"`
	RegisteredAt *time.Time `json:"registeredAt"`
	FirstOrderAt *time.Time `json:"firstOrderAt"`
	ReferrerID   string     `json:"referrerId"`
}

// MemberResponse is a member snapshot
type MemberResponse struct {
	UserID          string     `json:"userId"`
	Level           int        `json:"level"`
	Tags            []string   `json:"tags"`
	RegisteredAt    *time.Time `json:"registeredAt"`
	FirstOrderAt    *time.Time `json:"firstOrderAt"`
	FirstOrderBizID string     `json:"firstOrderBizId,omitempty"`
	ReferrerID      string     `json:"referrerId,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// ToMemberResponse converts a member snapshot
func ToMemberResponse(m *points.Member) MemberResponse {
	return MemberResponse{
		UserID:          m.UserID,
		Level:           m.Level,
		Tags:            nonNil(m.Tags),
		RegisteredAt:    m.RegisteredAt,
		FirstOrderAt:    m.FirstOrderAt,
		FirstOrderBizID: m.FirstOrderBizID,
		ReferrerID:      m.ReferrerID,
		UpdatedAt:       m.UpdatedAt,
	}
}

// Overview is the dashboard KPI block
type Overview struct {
	Date            string                   `json:"date"`
	IssuedToday     int64                    `json:"issuedToday"`
	RedeemedToday   int64                    `json:"redeemedToday"`
	ActiveUsers     int64                    `json:"activeUsersToday"`
	ActiveRules     int64                    `json:"activeRules"`
	ActiveCampaigns int64                    `json:"activeCampaigns"`
	Decisions       map[points.Outcome]int64 `json:"decisionsToday"`
	GeneratedAt     time.Time                `json:"generatedAt"`
}

// Trend is a series of daily totals, oldest first, one entry per day
type Trend struct {
	From string              `json:"from"`
	To   string              `json:"to"`
	Days []points.DailyTotal `json:"days"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
