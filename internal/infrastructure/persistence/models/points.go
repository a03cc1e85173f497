package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PointsRuleModel is the persistence model for PointsRule
type PointsRuleModel struct {
	AggregateModel
	Name              string            `gorm:"type:varchar(100);not null"`
	Description       string            `gorm:"type:text"`
	EventType         points.EventType  `gorm:"type:varchar(32);not null;index:idx_rules_event_status,priority:1"`
	RewardMode        points.RewardMode `gorm:"type:varchar(16);not null"`
	RewardValue       decimal.Decimal   `gorm:"type:decimal(18,4);not null"`
	ScopeType         points.ScopeType  `gorm:"type:varchar(16);not null"`
	ScopeValue        string            `gorm:"type:text"`
	MinOrderAmount    decimal.Decimal   `gorm:"type:decimal(18,2);not null;default:0"`
	MaxOrderAmount    decimal.Decimal   `gorm:"type:decimal(18,2);not null;default:0"`
	MinUserLevel      int               `gorm:"not null;default:0"`
	MaxUserLevel      int               `gorm:"not null;default:0"`
	NewUserWithinDays int               `gorm:"not null;default:0"`
	RequireReferral   bool              `gorm:"not null;default:false"`
	RequireFirstOrder bool              `gorm:"not null;default:false"`
	Weekdays          datatypes.JSONSlice[int]
	AllowedChannels   datatypes.JSONSlice[string]
	ExtraConditions   string           `gorm:"type:text"`
	MaxPerUserDay     int              `gorm:"not null;default:0"`
	MaxPerUserTotal   int              `gorm:"not null;default:0"`
	CooldownMinutes   int              `gorm:"not null;default:0"`
	StackMode         points.StackMode `gorm:"type:varchar(16);not null"`
	Status            points.Status    `gorm:"not null;index:idx_rules_event_status,priority:2"`
	ValidStart        *time.Time
	ValidEnd          *time.Time
}

// TableName returns the table name for GORM
func (PointsRuleModel) TableName() string {
	return "points_rules"
}

// ToDomain converts the model to a domain rule
func (m *PointsRuleModel) ToDomain() *points.PointsRule {
	def := points.RuleDefinition{
		Name:              m.Name,
		Description:       m.Description,
		EventType:         m.EventType,
		RewardMode:        m.RewardMode,
		RewardValue:       m.RewardValue,
		ScopeType:         m.ScopeType,
		ScopeValue:        m.ScopeValue,
		MinOrderAmount:    m.MinOrderAmount,
		MaxOrderAmount:    m.MaxOrderAmount,
		MinUserLevel:      m.MinUserLevel,
		MaxUserLevel:      m.MaxUserLevel,
		NewUserWithinDays: m.NewUserWithinDays,
		RequireReferral:   m.RequireReferral,
		RequireFirstOrder: m.RequireFirstOrder,
		Weekdays:          []int(m.Weekdays),
		AllowedChannels:   []string(m.AllowedChannels),
		ExtraConditions:   m.ExtraConditions,
		MaxPerUserDay:     m.MaxPerUserDay,
		MaxPerUserTotal:   m.MaxPerUserTotal,
		CooldownMinutes:   m.CooldownMinutes,
		StackMode:         m.StackMode,
		ValidStart:        m.ValidStart,
		ValidEnd:          m.ValidEnd,
	}
	return points.RestorePointsRule(m.ToAggregateRoot(), def, m.Status)
}

// PointsRuleModelFromDomain creates a model from a domain rule
func PointsRuleModelFromDomain(r *points.PointsRule) *PointsRuleModel {
	m := &PointsRuleModel{
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
		Weekdays:          datatypes.JSONSlice[int](nonNil(r.Weekdays)),
		AllowedChannels:   datatypes.JSONSlice[string](nonNil(r.AllowedChannels)),
		ExtraConditions:   r.ExtraConditions,
		MaxPerUserDay:     r.MaxPerUserDay,
		MaxPerUserTotal:   r.MaxPerUserTotal,
		CooldownMinutes:   r.CooldownMinutes,
		StackMode:         r.StackMode,
		Status:            r.Status,
		ValidStart:        r.ValidStart,
		ValidEnd:          r.ValidEnd,
	}
	m.FromDomainAggregateRoot(r.BaseAggregateRoot)
	return m
}

// PointsCampaignModel is the persistence model for PointsCampaign.
// Rule membership lives in points_campaign_rules.
type PointsCampaignModel struct {
	AggregateModel
	Name              string              `gorm:"type:varchar(100);not null"`
	Description       string              `gorm:"type:text"`
	BudgetTotalPoints int64               `gorm:"not null;default:0"`
	BudgetDailyPoints int64               `gorm:"not null;default:0"`
	UserCapPoints     int64               `gorm:"not null;default:0"`
	SpentPoints       int64               `gorm:"not null;default:0"`
	AudienceType      points.AudienceType `gorm:"type:varchar(16);not null"`
	AudienceValue     string              `gorm:"type:text"`
	Status            points.Status       `gorm:"not null;index"`
	StartAt           *time.Time
	EndAt             *time.Time
}

// TableName returns the table name for GORM
func (PointsCampaignModel) TableName() string {
	return "points_campaigns"
}

// ToDomain converts the model and its rule links to a domain campaign
func (m *PointsCampaignModel) ToDomain(ruleIDs []uuid.UUID) *points.PointsCampaign {
	return &points.PointsCampaign{
		BaseAggregateRoot: m.ToAggregateRoot(),
		CampaignDefinition: points.CampaignDefinition{
			Name:              m.Name,
			Description:       m.Description,
			RuleIDs:           ruleIDs,
			BudgetTotalPoints: m.BudgetTotalPoints,
			BudgetDailyPoints: m.BudgetDailyPoints,
			UserCapPoints:     m.UserCapPoints,
			AudienceType:      m.AudienceType,
			AudienceValue:     m.AudienceValue,
			StartAt:           m.StartAt,
			EndAt:             m.EndAt,
		},
		Status:      m.Status,
		SpentPoints: m.SpentPoints,
	}
}

// PointsCampaignModelFromDomain creates a model from a domain campaign
func PointsCampaignModelFromDomain(c *points.PointsCampaign) *PointsCampaignModel {
	m := &PointsCampaignModel{
		Name:              c.Name,
		Description:       c.Description,
		BudgetTotalPoints: c.BudgetTotalPoints,
		BudgetDailyPoints: c.BudgetDailyPoints,
		UserCapPoints:     c.UserCapPoints,
		SpentPoints:       c.SpentPoints,
		AudienceType:      c.AudienceType,
		AudienceValue:     c.AudienceValue,
		Status:            c.Status,
		StartAt:           c.StartAt,
		EndAt:             c.EndAt,
	}
	m.FromDomainAggregateRoot(c.BaseAggregateRoot)
	return m
}

// CampaignRuleModel links a campaign to one of its rules
type CampaignRuleModel struct {
	CampaignID uuid.UUID `gorm:"type:uuid;primaryKey"`
	RuleID     uuid.UUID `gorm:"type:uuid;primaryKey;index"`
}

// TableName returns the table name for GORM
func (CampaignRuleModel) TableName() string {
	return "points_campaign_rules"
}

// PointsRiskRuleModel is the persistence model for PointsRiskRule
type PointsRiskRuleModel struct {
	AggregateModel
	Name             string           `gorm:"type:varchar(100);not null"`
	EventType        points.EventType `gorm:"type:varchar(32);not null;index"`
	FreqLimit        int              `gorm:"not null;default:0"`
	DailyLimit       int              `gorm:"not null;default:0"`
	DeviceLimit      int              `gorm:"not null;default:0"`
	IPLimit          int              `gorm:"column:ip_limit;not null;default:0"`
	BlacklistEnabled bool             `gorm:"not null;default:false"`
	HitAction        points.HitAction `gorm:"type:varchar(16);not null"`
	Status           points.Status    `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (PointsRiskRuleModel) TableName() string {
	return "points_risk_rules"
}

// ToDomain converts the model to a domain risk rule
func (m *PointsRiskRuleModel) ToDomain() *points.PointsRiskRule {
	return &points.PointsRiskRule{
		BaseAggregateRoot: m.ToAggregateRoot(),
		RiskDefinition: points.RiskDefinition{
			Name:             m.Name,
			EventType:        m.EventType,
			FreqLimit:        m.FreqLimit,
			DailyLimit:       m.DailyLimit,
			DeviceLimit:      m.DeviceLimit,
			IPLimit:          m.IPLimit,
			BlacklistEnabled: m.BlacklistEnabled,
			HitAction:        m.HitAction,
		},
		Status: m.Status,
	}
}

// PointsRiskRuleModelFromDomain creates a model from a domain risk rule
func PointsRiskRuleModelFromDomain(r *points.PointsRiskRule) *PointsRiskRuleModel {
	m := &PointsRiskRuleModel{
		Name:             r.Name,
		EventType:        r.EventType,
		FreqLimit:        r.FreqLimit,
		DailyLimit:       r.DailyLimit,
		DeviceLimit:      r.DeviceLimit,
		IPLimit:          r.IPLimit,
		BlacklistEnabled: r.BlacklistEnabled,
		HitAction:        r.HitAction,
		Status:           r.Status,
	}
	m.FromDomainAggregateRoot(r.BaseAggregateRoot)
	return m
}

// LedgerRowModel is one immutable ledger row. RuleKey repeats the rule id as text
// (empty for rule-less rows) so the dedup index also covers rows without a rule.
type LedgerRowModel struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	UserID     string            `gorm:"type:varchar(64);not null;uniqueIndex:uq_ledger_dedup,priority:1;index:idx_ledger_user_created,priority:1"`
	BizID      string            `gorm:"type:varchar(128);not null;uniqueIndex:uq_ledger_dedup,priority:2"`
	Type       points.LedgerType `gorm:"type:varchar(16);not null;uniqueIndex:uq_ledger_dedup,priority:3"`
	RuleKey    string            `gorm:"type:varchar(36);not null;default:'';uniqueIndex:uq_ledger_dedup,priority:4"`
	Amount     int64             `gorm:"not null"`
	Reason     string            `gorm:"type:varchar(255)"`
	RuleID     *uuid.UUID        `gorm:"type:uuid;index"`
	CampaignID *uuid.UUID        `gorm:"type:uuid;index"`
	EventType  points.EventType  `gorm:"type:varchar(32)"`
	Operator   string            `gorm:"type:varchar(128)"`
	BizDate    string            `gorm:"type:varchar(10);not null;index"`
	CreatedAt  time.Time         `gorm:"not null;index:idx_ledger_user_created,priority:2"`
}

// TableName returns the table name for GORM
func (LedgerRowModel) TableName() string {
	return "points_ledger"
}

// ToDomain converts the model to a ledger row
func (m *LedgerRowModel) ToDomain() *points.LedgerRow {
	return &points.LedgerRow{
		ID:         m.ID,
		UserID:     m.UserID,
		Type:       m.Type,
		Amount:     m.Amount,
		Reason:     m.Reason,
		BizID:      m.BizID,
		RuleID:     m.RuleID,
		CampaignID: m.CampaignID,
		EventType:  m.EventType,
		Operator:   m.Operator,
		BizDate:    m.BizDate,
		CreatedAt:  m.CreatedAt,
	}
}

// LedgerRowModelFromDomain creates a model from a ledger row
func LedgerRowModelFromDomain(r *points.LedgerRow) *LedgerRowModel {
	m := &LedgerRowModel{
		ID:         r.ID,
		UserID:     r.UserID,
		BizID:      r.BizID,
		Type:       r.Type,
		Amount:     r.Amount,
		Reason:     r.Reason,
		RuleID:     r.RuleID,
		CampaignID: r.CampaignID,
		EventType:  r.EventType,
		Operator:   r.Operator,
		BizDate:    r.BizDate,
		CreatedAt:  r.CreatedAt,
	}
	if r.RuleID != nil {
		m.RuleKey = r.RuleID.String()
	}
	return m
}

// MemberModel is the actor snapshot used for scope and audience checks
type MemberModel struct {
	UserID          string `gorm:"type:varchar(64);primaryKey"`
	Level           int    `gorm:"not null;default:0;index"`
	Tags            datatypes.JSONSlice[string]
	RegisteredAt    *time.Time
	FirstOrderAt    *time.Time
	FirstOrderBizID string    `gorm:"type:varchar(128);not null;default:''"`
	ReferrerID      string    `gorm:"type:varchar(64)"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MemberModel) TableName() string {
	return "points_members"
}

// ToDomain converts the model to a member
func (m *MemberModel) ToDomain() *points.Member {
	return &points.Member{
		UserID:          m.UserID,
		Level:           m.Level,
		Tags:            []string(m.Tags),
		RegisteredAt:    m.RegisteredAt,
		FirstOrderAt:    m.FirstOrderAt,
		FirstOrderBizID: m.FirstOrderBizID,
		ReferrerID:      m.ReferrerID,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// MemberModelFromDomain creates a model from a member
func MemberModelFromDomain(mem *points.Member) *MemberModel {
	return &MemberModel{
		UserID:          mem.UserID,
		Level:           mem.Level,
		Tags:            datatypes.JSONSlice[string](nonNil(mem.Tags)),
		RegisteredAt:    mem.RegisteredAt,
		FirstOrderAt:    mem.FirstOrderAt,
		FirstOrderBizID: mem.FirstOrderBizID,
		ReferrerID:      mem.ReferrerID,
		CreatedAt:       mem.CreatedAt,
		UpdatedAt:       mem.UpdatedAt,
	}
}

// CounterModel is one contention key with its running value
type CounterModel struct {
	Key       string `gorm:"column:counter_key;type:varchar(200);primaryKey"`
	Value     int64  `gorm:"not null;default:0"`
	LastAt    *time.Time
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CounterModel) TableName() string {
	return "points_counters"
}

// BlacklistModel is a blocked actor for one event type scope
type BlacklistModel struct {
	ID         uuid.UUID        `gorm:"type:uuid;primaryKey"`
	UserID     string           `gorm:"type:varchar(64);not null;uniqueIndex:uq_blacklist_user_event,priority:1"`
	EventType  points.EventType `gorm:"type:varchar(32);not null;uniqueIndex:uq_blacklist_user_event,priority:2"`
	RiskRuleID uuid.UUID        `gorm:"type:uuid"`
	Reason     string           `gorm:"type:varchar(255)"`
	CreatedAt  time.Time        `gorm:"not null"`
}

// TableName returns the table name for GORM
func (BlacklistModel) TableName() string {
	return "points_blacklist"
}

// ToDomain converts the model to a blacklist entry
func (m *BlacklistModel) ToDomain() *points.BlacklistEntry {
	return &points.BlacklistEntry{
		ID:         m.ID,
		UserID:     m.UserID,
		EventType:  m.EventType,
		RiskRuleID: m.RiskRuleID,
		Reason:     m.Reason,
		CreatedAt:  m.CreatedAt,
	}
}

// GrantTaskModel is the persistence model for GrantTask
type GrantTaskModel struct {
	AggregateModel
	GrantType     points.GrantType  `gorm:"type:varchar(16);not null;index"`
	TargetType    points.TargetType `gorm:"type:varchar(16);not null"`
	UserIDs       datatypes.JSONSlice[string]
	LevelID       *int
	Points        int64              `gorm:"not null"`
	ReasonCode    string             `gorm:"type:varchar(64);not null"`
	Remark        string             `gorm:"type:text"`
	Operator      string             `gorm:"type:varchar(128);index"`
	TargetCount   int64              `gorm:"not null;default:0"`
	SuccessCount  int64              `gorm:"not null;default:0"`
	FailureCount  int64              `gorm:"not null;default:0"`
	Status        points.GrantStatus `gorm:"type:varchar(16);not null;index"`
	ResultSummary string             `gorm:"type:text"`
	Failures      datatypes.JSONSlice[points.GrantFailure]
	Canceled      bool `gorm:"not null;default:false"`
	FinishedAt    *time.Time
}

// TableName returns the table name for GORM
func (GrantTaskModel) TableName() string {
	return "points_grant_tasks"
}

// ToDomain converts the model to a grant task
func (m *GrantTaskModel) ToDomain() *points.GrantTask {
	return &points.GrantTask{
		BaseAggregateRoot: m.ToAggregateRoot(),
		GrantType:         m.GrantType,
		TargetType:        m.TargetType,
		UserIDs:           []string(m.UserIDs),
		LevelID:           m.LevelID,
		Points:            m.Points,
		ReasonCode:        m.ReasonCode,
		Remark:            m.Remark,
		Operator:          m.Operator,
		TargetCount:       m.TargetCount,
		Status:            m.Status,
		SuccessCount:      m.SuccessCount,
		FailureCount:      m.FailureCount,
		ResultSummary:     m.ResultSummary,
		Failures:          []points.GrantFailure(m.Failures),
		Canceled:          m.Canceled,
		FinishedAt:        m.FinishedAt,
	}
}

// GrantTaskModelFromDomain creates a model from a grant task
func GrantTaskModelFromDomain(t *points.GrantTask) *GrantTaskModel {
	m := &GrantTaskModel{
		GrantType:     t.GrantType,
		TargetType:    t.TargetType,
		UserIDs:       datatypes.JSONSlice[string](nonNil(t.UserIDs)),
		LevelID:       t.LevelID,
		Points:        t.Points,
		ReasonCode:    t.ReasonCode,
		Remark:        t.Remark,
		Operator:      t.Operator,
		TargetCount:   t.TargetCount,
		SuccessCount:  t.SuccessCount,
		FailureCount:  t.FailureCount,
		Status:        t.Status,
		ResultSummary: t.ResultSummary,
		Failures:      datatypes.JSONSlice[points.GrantFailure](nonNil(t.Failures)),
		Canceled:      t.Canceled,
		FinishedAt:    t.FinishedAt,
	}
	m.FromDomainAggregateRoot(t.BaseAggregateRoot)
	return m
}

// DecisionModel stores the outcome of one evaluated event
type DecisionModel struct {
	ID           uuid.UUID        `gorm:"type:uuid;primaryKey"`
	UserID       string           `gorm:"type:varchar(64);not null;uniqueIndex:uq_decision_event,priority:1"`
	EventType    points.EventType `gorm:"type:varchar(32);not null;uniqueIndex:uq_decision_event,priority:2"`
	BizID        string           `gorm:"type:varchar(128);not null;uniqueIndex:uq_decision_event,priority:3"`
	Outcome      points.Outcome   `gorm:"type:varchar(16);not null;index"`
	Reason       string           `gorm:"type:varchar(255)"`
	RiskAction   points.HitAction `gorm:"type:varchar(16)"`
	Review       bool             `gorm:"not null;default:false;index"`
	Multiplier   float64          `gorm:"not null;default:1"`
	TotalAwarded int64            `gorm:"not null;default:0"`
	Trace        datatypes.JSONSlice[points.TraceEntry]
	RiskHits     datatypes.JSONSlice[points.RiskHit]
	OccurredAt   time.Time `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (DecisionModel) TableName() string {
	return "points_decisions"
}

// ToDomain converts the model to a decision
func (m *DecisionModel) ToDomain() *points.Decision {
	return &points.Decision{
		ID:           m.ID,
		BizID:        m.BizID,
		UserID:       m.UserID,
		EventType:    m.EventType,
		Outcome:      m.Outcome,
		Reason:       m.Reason,
		RiskAction:   m.RiskAction,
		Review:       m.Review,
		Multiplier:   m.Multiplier,
		TotalAwarded: m.TotalAwarded,
		Trace:        []points.TraceEntry(m.Trace),
		RiskHits:     []points.RiskHit(m.RiskHits),
		OccurredAt:   m.OccurredAt,
		CreatedAt:    m.CreatedAt,
	}
}

// DecisionModelFromDomain creates a model from a decision
func DecisionModelFromDomain(d *points.Decision) *DecisionModel {
	return &DecisionModel{
		ID:           d.ID,
		UserID:       d.UserID,
		EventType:    d.EventType,
		BizID:        d.BizID,
		Outcome:      d.Outcome,
		Reason:       d.Reason,
		RiskAction:   d.RiskAction,
		Review:       d.Review,
		Multiplier:   d.Multiplier,
		TotalAwarded: d.TotalAwarded,
		Trace:        datatypes.JSONSlice[points.TraceEntry](nonNil(d.Trace)),
		RiskHits:     datatypes.JSONSlice[points.RiskHit](nonNil(d.RiskHits)),
		OccurredAt:   d.OccurredAt,
		CreatedAt:    d.CreatedAt,
	}
}

// AllModels lists every model for AutoMigrate in tests and sqlite deployments
func AllModels() []any {
	return []any{
		&PointsRuleModel{},
		&PointsCampaignModel{},
		&CampaignRuleModel{},
		&PointsRiskRuleModel{},
		&LedgerRowModel{},
		&MemberModel{},
		&CounterModel{},
		&BlacklistModel{},
		&GrantTaskModel{},
		&DecisionModel{},
		&OutboxEntryModel{},
	}
}

// nonNil stores empty lists as [] rather than null
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
