package points

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/shared"
)

// RuleFilter selects rules for the admin console
type RuleFilter struct {
	shared.Filter
	EventType *EventType
	Status    *Status
	StackMode *StackMode
}

// RuleRepository is the versioned collection of PointsRule
type RuleRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*PointsRule, error)
	FindAll(ctx context.Context, filter RuleFilter) ([]PointsRule, int64, error)
	// FindActive returns enabled rules for t whose validity window contains at, oldest first
	FindActive(ctx context.Context, t EventType, at time.Time) ([]*PointsRule, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*PointsRule, error)
	Save(ctx context.Context, rule *PointsRule) error
	// Update fails with CONCURRENCY_CONFLICT when the stored version moved on
	Update(ctx context.Context, rule *PointsRule) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountActive(ctx context.Context, at time.Time) (int64, error)
}

// CampaignFilter selects campaigns
type CampaignFilter struct {
	shared.Filter
	Status *Status
	RuleID *uuid.UUID
}

// CampaignRepository is the collection of PointsCampaign
type CampaignRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*PointsCampaign, error)
	FindAll(ctx context.Context, filter CampaignFilter) ([]PointsCampaign, int64, error)
	// FindByRuleIDs returns every campaign, in any status, listing at least one of the rules
	FindByRuleIDs(ctx context.Context, ruleIDs []uuid.UUID) ([]*PointsCampaign, error)
	Save(ctx context.Context, campaign *PointsCampaign) error
	Update(ctx context.Context, campaign *PointsCampaign) error
	Delete(ctx context.Context, id uuid.UUID) error
	// AddSpent moves spent_points without touching the admin version
	AddSpent(ctx context.Context, id uuid.UUID, delta int64) error
	CountActive(ctx context.Context, at time.Time) (int64, error)
}

// RiskRuleFilter selects risk rules
type RiskRuleFilter struct {
	shared.Filter
	EventType *EventType
	Status    *Status
}

// RiskRuleRepository is the collection of PointsRiskRule
type RiskRuleRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*PointsRiskRule, error)
	FindAll(ctx context.Context, filter RiskRuleFilter) ([]PointsRiskRule, int64, error)
	// FindEnabledFor returns enabled rules whose event type is t or "all"
	FindEnabledFor(ctx context.Context, t EventType) ([]*PointsRiskRule, error)
	Save(ctx context.Context, rule *PointsRiskRule) error
	Update(ctx context.Context, rule *PointsRiskRule) error
	Delete(ctx context.Context, id uuid.UUID) error
}
