package points

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/loyalty/points/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// DefaultNewUserWithinDays applies to new_user scoped rules saved without a window
const DefaultNewUserWithinDays = 7

var hundred = decimal.NewFromInt(100)

// RuleDefinition is the administered part of a PointsRule
type RuleDefinition struct {
	Name        string
	Description string
	EventType   EventType

	RewardMode  RewardMode
	RewardValue decimal.Decimal

	ScopeType         ScopeType
	ScopeValue        string
	MinOrderAmount    decimal.Decimal
	MaxOrderAmount    decimal.Decimal
	MinUserLevel      int
	MaxUserLevel      int
	NewUserWithinDays int
	RequireReferral   bool
	RequireFirstOrder bool
	Weekdays          []int
	AllowedChannels   []string
	ExtraConditions   string

	MaxPerUserDay   int
	MaxPerUserTotal int
	CooldownMinutes int

	StackMode  StackMode
	ValidStart *time.Time
	ValidEnd   *time.Time
}

// PointsRule maps a qualifying event to a reward
type PointsRule struct {
	shared.BaseAggregateRoot
	RuleDefinition
	Status Status

	condition *Condition
}

// NewPointsRule validates def and creates a disabled-or-enabled rule
func NewPointsRule(def RuleDefinition, status Status) (*PointsRule, error) {
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "status must be 0 or 1")
	}
	r := &PointsRule{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		RuleDefinition:    def,
		Status:            status,
	}
	r.condition, _ = ParseCondition(def.ExtraConditions)
	return r, nil
}

// RestorePointsRule rebuilds a rule loaded from storage without re-validating it.
// A stored predicate that no longer parses is kept so Match can fail closed on it.
func RestorePointsRule(base shared.BaseAggregateRoot, def RuleDefinition, status Status) *PointsRule {
	r := &PointsRule{BaseAggregateRoot: base, RuleDefinition: def, Status: status}
	r.condition, _ = ParseCondition(def.ExtraConditions)
	return r
}

// Update replaces the definition; the id, status and creation time are kept
func (r *PointsRule) Update(def RuleDefinition) error {
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return err
	}
	r.RuleDefinition = def
	r.condition, _ = ParseCondition(def.ExtraConditions)
	r.IncrementVersion()
	return nil
}

// Enable turns the rule on
func (r *PointsRule) Enable() {
	if r.Status != StatusEnabled {
		r.Status = StatusEnabled
		r.IncrementVersion()
	}
}

// Disable turns the rule off
func (r *PointsRule) Disable() {
	if r.Status != StatusDisabled {
		r.Status = StatusDisabled
		r.IncrementVersion()
	}
}

func (d *RuleDefinition) applyDefaults() {
	d.Name = strings.TrimSpace(d.Name)
	if d.StackMode == "" {
		d.StackMode = StackModeStack
	}
	if d.ScopeType == "" {
		d.ScopeType = ScopeAll
	}
	if d.ScopeType == ScopeNewUser && d.NewUserWithinDays == 0 {
		d.NewUserWithinDays = DefaultNewUserWithinDays
	}
	d.ScopeValue = strings.TrimSpace(d.ScopeValue)
	d.ExtraConditions = strings.TrimSpace(d.ExtraConditions)
	if len(d.Weekdays) > 0 {
		d.Weekdays = slices.Clone(d.Weekdays)
		slices.Sort(d.Weekdays)
		d.Weekdays = slices.Compact(d.Weekdays)
	}
}

// Validate rejects contradictory or malformed definitions with field-level reasons
func (d *RuleDefinition) Validate() error {
	var v shared.ValidationError
	if d.Name == "" {
		v.Add("name", "is required")
	} else if len(d.Name) > 100 {
		v.Add("name", "must be at most 100 characters")
	}
	if !d.EventType.IsValid() {
		v.Addf("eventType", "unsupported event type %q", d.EventType)
	}
	switch d.RewardMode {
	case RewardFixed:
		if !d.RewardValue.IsPositive() {
			v.Add("rewardValue", "must be positive")
		} else if !d.RewardValue.Equal(d.RewardValue.Truncate(0)) {
			v.Add("rewardValue", "fixed rewards must be whole points")
		}
	case RewardRate:
		if !d.RewardValue.IsPositive() || d.RewardValue.GreaterThan(hundred) {
			v.Add("rewardValue", "rate must be within (0, 100]")
		}
		if d.EventType.IsValid() && !d.EventType.IsOrderEvent() && d.EventType != EventCustom {
			v.Add("rewardMode", "rate rewards need an event that carries an order amount")
		}
	default:
		v.Addf("rewardMode", "unsupported reward mode %q", d.RewardMode)
	}
	if !d.ScopeType.IsValid() {
		v.Addf("scopeType", "unsupported scope type %q", d.ScopeType)
	} else if d.ScopeType.NeedsValue() {
		if d.ScopeValue == "" {
			v.Add("scopeValue", "is required for scope "+string(d.ScopeType))
		} else if d.ScopeType == ScopeLevel {
			if _, err := parseLevels(d.ScopeValue); err != nil {
				v.Add("scopeValue", "must be a comma separated list of levels")
			}
		}
	}
	if d.MinOrderAmount.IsNegative() {
		v.Add("minOrderAmount", "must not be negative")
	}
	if d.MaxOrderAmount.IsNegative() {
		v.Add("maxOrderAmount", "must not be negative")
	}
	if d.MaxOrderAmount.IsPositive() && d.MinOrderAmount.GreaterThan(d.MaxOrderAmount) {
		v.Add("minOrderAmount", "must not exceed maxOrderAmount")
	}
	if d.MinUserLevel < 0 {
		v.Add("minUserLevel", "must not be negative")
	}
	if d.MaxUserLevel < 0 {
		v.Add("maxUserLevel", "must not be negative")
	}
	if d.MaxUserLevel > 0 && d.MinUserLevel > d.MaxUserLevel {
		v.Add("minUserLevel", "must not exceed maxUserLevel")
	}
	if d.NewUserWithinDays < 0 {
		v.Add("newUserWithinDays", "must not be negative")
	}
	for _, wd := range d.Weekdays {
		if wd < 0 || wd > 6 {
			v.Add("weekdays", "values must be within 0 (Sunday) to 6 (Saturday)")
			break
		}
	}
	if d.MaxPerUserDay < 0 {
		v.Add("maxPerUserDay", "must not be negative")
	}
	if d.MaxPerUserTotal < 0 {
		v.Add("maxPerUserTotal", "must not be negative")
	}
	if d.MaxPerUserTotal > 0 && d.MaxPerUserDay > d.MaxPerUserTotal {
		v.Add("maxPerUserDay", "must not exceed maxPerUserTotal")
	}
	if d.CooldownMinutes < 0 {
		v.Add("cooldownMinutes", "must not be negative")
	}
	if !d.StackMode.IsValid() {
		v.Addf("stackMode", "unsupported stack mode %q", d.StackMode)
	}
	if d.ValidStart != nil && d.ValidEnd != nil && !d.ValidEnd.After(*d.ValidStart) {
		v.Add("validEnd", "must be after validStart")
	}
	if _, err := ParseCondition(d.ExtraConditions); err != nil {
		v.Add("extraConditions", err.Error())
	}
	return v.ErrOrNil()
}

// IsActiveAt reports whether the rule is enabled and t falls inside its validity window
func (r *PointsRule) IsActiveAt(t time.Time) bool {
	if r.Status != StatusEnabled {
		return false
	}
	if r.ValidStart != nil && t.Before(*r.ValidStart) {
		return false
	}
	if r.ValidEnd != nil && t.After(*r.ValidEnd) {
		return false
	}
	return true
}

// Skip reasons reported in the decision trace
const (
	SkipInactive         = "inactive"
	SkipEventType        = "event_type"
	SkipWeekday          = "weekday"
	SkipChannel          = "channel"
	SkipScope            = "scope"
	SkipOrderAmount      = "order_amount"
	SkipUserLevel        = "user_level"
	SkipNewUser          = "new_user_window"
	SkipReferral         = "referral_required"
	SkipFirstOrder       = "first_order_required"
	SkipExtraConditions  = "extra_conditions"
	SkipInvalidCondition = "extra_conditions_invalid"
)

// Match runs candidate selection for one rule. Checks run from cheapest to the
// opaque predicate, which always runs last. An empty reason means the rule matches.
// A predicate that cannot be parsed fails closed and returns condErr so the caller can log it.
func (r *PointsRule) Match(ev *ActivityEvent, m *Member, loc *time.Location) (reason string, condErr error) {
	if !r.IsActiveAt(ev.OccurredAt) {
		return SkipInactive, nil
	}
	if r.EventType != ev.EventType {
		return SkipEventType, nil
	}
	local := ev.LocalTime(loc)
	if len(r.Weekdays) > 0 && !slices.Contains(r.Weekdays, int(local.Weekday())) {
		return SkipWeekday, nil
	}
	if len(r.AllowedChannels) > 0 && !slices.Contains(r.AllowedChannels, ev.Channel) {
		return SkipChannel, nil
	}
	if !r.scopeMatches(ev, m) {
		return SkipScope, nil
	}

	amount := ev.Amount()
	if r.MinOrderAmount.IsPositive() && (ev.OrderAmount == nil || amount.LessThan(r.MinOrderAmount)) {
		return SkipOrderAmount, nil
	}
	if r.MaxOrderAmount.IsPositive() && amount.GreaterThan(r.MaxOrderAmount) {
		return SkipOrderAmount, nil
	}
	if r.MinUserLevel > 0 && m.Level < r.MinUserLevel {
		return SkipUserLevel, nil
	}
	if r.MaxUserLevel > 0 && m.Level > r.MaxUserLevel {
		return SkipUserLevel, nil
	}
	if r.NewUserWithinDays > 0 && !m.RegisteredWithin(r.NewUserWithinDays, ev.OccurredAt) {
		return SkipNewUser, nil
	}
	if r.RequireReferral && !m.HasReferrer() && ev.ReferrerID == "" {
		return SkipReferral, nil
	}
	if r.RequireFirstOrder && ev.EventType != EventFirstOrderPaid && !m.IsFirstOrder(ev) {
		return SkipFirstOrder, nil
	}

	if r.ExtraConditions != "" {
		cond := r.condition
		if cond == nil {
			parsed, err := ParseCondition(r.ExtraConditions)
			if err != nil {
				return SkipInvalidCondition, err
			}
			cond = parsed
		}
		if !cond.Evaluate(BuildFacts(ev, m)) {
			return SkipExtraConditions, nil
		}
	}
	return "", nil
}

func (r *PointsRule) scopeMatches(ev *ActivityEvent, m *Member) bool {
	switch r.ScopeType {
	case ScopeAll, "":
		return true
	case ScopeNewUser:
		return m.RegisteredWithin(r.NewUserWithinDays, ev.OccurredAt)
	case ScopeLevel:
		levels, err := parseLevels(r.ScopeValue)
		return err == nil && slices.Contains(levels, m.Level)
	case ScopeTag:
		for _, tag := range splitList(r.ScopeValue) {
			if m.HasTag(tag) {
				return true
			}
		}
		return false
	case ScopeUser:
		return slices.Contains(splitList(r.ScopeValue), ev.UserID)
	}
	return false
}

// ComputeReward returns the raw award before downgrade and clipping.
// Rate rewards are floor(orderAmount * rewardValue / 100).
func (r *PointsRule) ComputeReward(orderAmount decimal.Decimal) int64 {
	switch r.RewardMode {
	case RewardFixed:
		return r.RewardValue.IntPart()
	case RewardRate:
		amt := orderAmount.Mul(r.RewardValue).Div(hundred).Floor()
		if amt.IsNegative() {
			return 0
		}
		return amt.IntPart()
	}
	return 0
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLevels(s string) ([]int, error) {
	items := splitList(s)
	levels := make([]int, 0, len(items))
	for _, item := range items {
		n, err := strconv.Atoi(item)
		if err != nil {
			return nil, err
		}
		levels = append(levels, n)
	}
	if len(levels) == 0 {
		return nil, strconv.ErrSyntax
	}
	return levels, nil
}
