package points

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/shared"
)

// CampaignDefinition is the administered part of a campaign
type CampaignDefinition struct {
	Name              string
	Description       string
	RuleIDs           []uuid.UUID
	BudgetTotalPoints int64
	BudgetDailyPoints int64
	UserCapPoints     int64
	AudienceType      AudienceType
	AudienceValue     string
	StartAt           *time.Time
	EndAt             *time.Time
}

// PointsCampaign groups rules under a shared budget and audience filter.
// SpentPoints mirrors the lifetime budget counter and is only moved by the engine.
type PointsCampaign struct {
	shared.BaseAggregateRoot
	CampaignDefinition
	Status      Status
	SpentPoints int64
}

// NewPointsCampaign validates def and creates a campaign
func NewPointsCampaign(def CampaignDefinition, status Status) (*PointsCampaign, error) {
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "status must be 0 or 1")
	}
	return &PointsCampaign{
		BaseAggregateRoot:  shared.NewBaseAggregateRoot(),
		CampaignDefinition: def,
		Status:             status,
	}, nil
}

// Update replaces the definition. Lowering the lifetime budget below what was
// already spent is rejected.
func (c *PointsCampaign) Update(def CampaignDefinition) error {
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return err
	}
	if def.BudgetTotalPoints > 0 && def.BudgetTotalPoints < c.SpentPoints {
		var v shared.ValidationError
		v.Addf("budgetTotalPoints", "must not be below the %d points already spent", c.SpentPoints)
		return &v
	}
	c.CampaignDefinition = def
	c.IncrementVersion()
	return nil
}

func (c *PointsCampaign) Enable() {
	if c.Status != StatusEnabled {
		c.Status = StatusEnabled
		c.IncrementVersion()
	}
}

func (c *PointsCampaign) Disable() {
	if c.Status != StatusDisabled {
		c.Status = StatusDisabled
		c.IncrementVersion()
	}
}

func (d *CampaignDefinition) applyDefaults() {
	d.Name = strings.TrimSpace(d.Name)
	if d.AudienceType == "" {
		d.AudienceType = AudienceAll
	}
	d.AudienceValue = strings.TrimSpace(d.AudienceValue)
	if len(d.RuleIDs) > 0 {
		ids := slices.Clone(d.RuleIDs)
		slices.SortFunc(ids, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
		d.RuleIDs = slices.Compact(ids)
	}
}

// Validate rejects negative budgets, inverted windows and empty rule sets
func (d *CampaignDefinition) Validate() error {
	var v shared.ValidationError
	if d.Name == "" {
		v.Add("name", "is required")
	} else if len(d.Name) > 100 {
		v.Add("name", "must be at most 100 characters")
	}
	if len(d.RuleIDs) == 0 {
		v.Add("ruleIds", "must contain at least one rule")
	}
	for _, id := range d.RuleIDs {
		if id == uuid.Nil {
			v.Add("ruleIds", "must not contain empty ids")
			break
		}
	}
	if d.BudgetTotalPoints < 0 {
		v.Add("budgetTotalPoints", "must not be negative")
	}
	if d.BudgetDailyPoints < 0 {
		v.Add("budgetDailyPoints", "must not be negative")
	}
	if d.UserCapPoints < 0 {
		v.Add("userCapPoints", "must not be negative")
	}
	if d.BudgetTotalPoints > 0 && d.BudgetDailyPoints > d.BudgetTotalPoints {
		v.Add("budgetDailyPoints", "must not exceed budgetTotalPoints")
	}
	if d.BudgetTotalPoints > 0 && d.UserCapPoints > d.BudgetTotalPoints {
		v.Add("userCapPoints", "must not exceed budgetTotalPoints")
	}
	if !d.AudienceType.IsValid() {
		v.Addf("audienceType", "unsupported audience type %q", d.AudienceType)
	} else if d.AudienceType != AudienceAll && d.AudienceValue == "" {
		v.Add("audienceValue", "is required for audience "+string(d.AudienceType))
	} else if d.AudienceType == AudienceLevel {
		if _, err := parseLevels(d.AudienceValue); err != nil {
			v.Add("audienceValue", "must be a comma separated list of levels")
		}
	}
	if d.StartAt != nil && d.EndAt != nil && !d.EndAt.After(*d.StartAt) {
		v.Add("endAt", "must be after startAt")
	}
	return v.ErrOrNil()
}

// IsActiveAt reports whether the campaign is enabled and t falls inside its window
func (c *PointsCampaign) IsActiveAt(t time.Time) bool {
	if c.Status != StatusEnabled {
		return false
	}
	if c.StartAt != nil && t.Before(*c.StartAt) {
		return false
	}
	if c.EndAt != nil && t.After(*c.EndAt) {
		return false
	}
	return true
}

// ContainsRule reports whether awards of ruleID count against this campaign
func (c *PointsCampaign) ContainsRule(ruleID uuid.UUID) bool {
	return slices.Contains(c.RuleIDs, ruleID)
}

// AudienceMatches applies the campaign audience filter to an actor
func (c *PointsCampaign) AudienceMatches(userID string, m *Member) bool {
	switch c.AudienceType {
	case AudienceAll, "":
		return true
	case AudienceLevel:
		levels, err := parseLevels(c.AudienceValue)
		return err == nil && slices.Contains(levels, m.Level)
	case AudienceTag:
		for _, tag := range splitList(c.AudienceValue) {
			if m.HasTag(tag) {
				return true
			}
		}
		return false
	case AudienceUser:
		return slices.Contains(splitList(c.AudienceValue), userID)
	}
	return false
}

// CampaignSpend is the consumption observed under lock for one award
type CampaignSpend struct {
	Total int64
	Day   int64
	User  int64
}

// Headroom returns how many points the campaign can still grant to this user today
// and which budget is the tightest. A negative value means unbounded.
func (c *PointsCampaign) Headroom(spent CampaignSpend) (int64, ClipReason) {
	headroom := int64(-1)
	reason := ClipNone
	consider := func(budget, used int64, r ClipReason) {
		if budget <= 0 {
			return
		}
		left := max(budget-used, 0)
		if headroom < 0 || left < headroom {
			headroom = left
			reason = r
		}
	}
	consider(c.BudgetTotalPoints, spent.Total, ClipBudgetTotal)
	consider(c.BudgetDailyPoints, spent.Day, ClipBudgetDaily)
	consider(c.UserCapPoints, spent.User, ClipUserCap)
	return headroom, reason
}

// Clip limits amount to the remaining headroom
func (c *PointsCampaign) Clip(amount int64, spent CampaignSpend) (int64, ClipReason) {
	headroom, reason := c.Headroom(spent)
	if headroom < 0 || amount <= headroom {
		return amount, ClipNone
	}
	return headroom, reason
}

// SelectCampaign picks the campaign an award of ruleID is attributed to: the earliest
// created campaign that lists the rule, is active at t and admits the actor.
// bound reports whether any campaign lists the rule at all.
func SelectCampaign(campaigns []*PointsCampaign, ruleID uuid.UUID, userID string, m *Member, t time.Time) (selected *PointsCampaign, bound bool) {
	for _, c := range campaigns {
		if !c.ContainsRule(ruleID) {
			continue
		}
		bound = true
		if !c.IsActiveAt(t) || !c.AudienceMatches(userID, m) {
			continue
		}
		if selected == nil || c.CreatedAt.Before(selected.CreatedAt) ||
			(c.CreatedAt.Equal(selected.CreatedAt) && c.ID.String() < selected.ID.String()) {
			selected = c
		}
	}
	return selected, bound
}
