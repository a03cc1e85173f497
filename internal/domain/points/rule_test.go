package points

import (
	"errors"
	"testing"
	"time"

	"github.com/loyalty/points/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedRule(t *testing.T, name string, points int64, mutate ...func(*RuleDefinition)) *PointsRule {
	t.Helper()
	def := RuleDefinition{
		Name:        name,
		EventType:   EventOrderPaid,
		RewardMode:  RewardFixed,
		RewardValue: decimal.NewFromInt(points),
	}
	for _, fn := range mutate {
		fn(&def)
	}
	r, err := NewPointsRule(def, StatusEnabled)
	require.NoError(t, err)
	return r
}

func orderEvent(amount float64, at time.Time) *ActivityEvent {
	a := decimal.NewFromFloat(amount)
	return &ActivityEvent{BizID: "order-1", EventType: EventOrderPaid, UserID: "u1", Channel: "app", OccurredAt: at, OrderAmount: &a}
}

func validationFields(t *testing.T, err error) []string {
	t.Helper()
	var ve *shared.ValidationError
	require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
	fields := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		fields = append(fields, f.Field)
	}
	return fields
}

func TestRuleDefinition_Validate(t *testing.T) {
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	def := RuleDefinition{
		Name:              "broken",
		EventType:         EventOrderPaid,
		RewardMode:        RewardRate,
		RewardValue:       decimal.NewFromInt(150),
		ScopeType:         ScopeTag,
		MinOrderAmount:    decimal.NewFromInt(100),
		MaxOrderAmount:    decimal.NewFromInt(50),
		MinUserLevel:      5,
		MaxUserLevel:      2,
		Weekdays:          []int{1, 9},
		MaxPerUserDay:     -1,
		CooldownMinutes:   -5,
		ValidStart:        &start,
		ValidEnd:          &end,
		ExtraConditions:   `{"field":"nope","operator":"eq","value":1}`,
		StackMode:         StackModeStack,
		NewUserWithinDays: 0,
	}
	_, err := NewPointsRule(def, StatusEnabled)
	require.Error(t, err)
	assert.ElementsMatch(t, []string{
		"rewardValue", "scopeValue", "minOrderAmount", "minUserLevel", "weekdays",
		"maxPerUserDay", "cooldownMinutes", "validEnd", "extraConditions",
	}, validationFields(t, err))
}

func TestRuleDefinition_Defaults(t *testing.T) {
	r := fixedRule(t, "  sign in  ", 10, func(d *RuleDefinition) {
		d.ScopeType = ScopeNewUser
		d.Weekdays = []int{5, 1, 5}
	})
	assert.Equal(t, "sign in", r.Name)
	assert.Equal(t, StackModeStack, r.StackMode)
	assert.Equal(t, DefaultNewUserWithinDays, r.NewUserWithinDays)
	assert.Equal(t, []int{1, 5}, r.Weekdays)
	assert.Equal(t, 1, r.Version)
}

func TestPointsRule_Match(t *testing.T) {
	// 2026-10-12 is a Monday
	at := time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC)
	member := &Member{UserID: "u1", Level: 2, Tags: []string{"vip"}}

	tests := []struct {
		name   string
		mutate func(*RuleDefinition)
		event  func() *ActivityEvent
		reason string
	}{
		{"matches", nil, nil, ""},
		{"other event type", func(d *RuleDefinition) { d.EventType = EventDailySignIn }, nil, SkipEventType},
		{"window not started", func(d *RuleDefinition) { s := at.Add(time.Hour); d.ValidStart = &s }, nil, SkipInactive},
		{"weekday excluded", func(d *RuleDefinition) { d.Weekdays = []int{0, 6} }, nil, SkipWeekday},
		{"weekday included", func(d *RuleDefinition) { d.Weekdays = []int{1} }, nil, ""},
		{"channel excluded", func(d *RuleDefinition) { d.AllowedChannels = []string{"h5"} }, nil, SkipChannel},
		{"level scope", func(d *RuleDefinition) { d.ScopeType = ScopeLevel; d.ScopeValue = "3,4" }, nil, SkipScope},
		{"tag scope", func(d *RuleDefinition) { d.ScopeType = ScopeTag; d.ScopeValue = "new, vip" }, nil, ""},
		{"user scope", func(d *RuleDefinition) { d.ScopeType = ScopeUser; d.ScopeValue = "u2" }, nil, SkipScope},
		{"below min amount", func(d *RuleDefinition) { d.MinOrderAmount = decimal.NewFromInt(200) }, nil, SkipOrderAmount},
		{"above max amount", func(d *RuleDefinition) { d.MaxOrderAmount = decimal.NewFromInt(50) }, nil, SkipOrderAmount},
		{"min amount without order", func(d *RuleDefinition) { d.MinOrderAmount = decimal.NewFromInt(1) }, func() *ActivityEvent {
			ev := orderEvent(0, at)
			ev.OrderAmount = nil
			return ev
		}, SkipOrderAmount},
		{"user level too low", func(d *RuleDefinition) { d.MinUserLevel = 3 }, nil, SkipUserLevel},
		{"new user window", func(d *RuleDefinition) { d.NewUserWithinDays = 3 }, nil, SkipNewUser},
		{"referral required", func(d *RuleDefinition) { d.RequireReferral = true }, nil, SkipReferral},
		{"referral on event", func(d *RuleDefinition) { d.RequireReferral = true }, func() *ActivityEvent {
			ev := orderEvent(100, at)
			ev.ReferrerID = "u9"
			return ev
		}, ""},
		{"extra conditions fail", func(d *RuleDefinition) {
			d.ExtraConditions = `{"field":"event.orderAmount","operator":"gt","value":1000}`
		}, nil, SkipExtraConditions},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var mutators []func(*RuleDefinition)
			if tc.mutate != nil {
				mutators = append(mutators, tc.mutate)
			}
			r := fixedRule(t, "R", 50, mutators...)
			ev := orderEvent(100, at)
			if tc.event != nil {
				ev = tc.event()
			}
			reason, err := r.Match(ev, member, time.UTC)
			assert.NoError(t, err)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestPointsRule_Match_DisabledNeverSelected(t *testing.T) {
	r := fixedRule(t, "R", 50)
	r.Disable()
	reason, err := r.Match(orderEvent(100, time.Now()), &Member{UserID: "u1"}, time.UTC)
	assert.NoError(t, err)
	assert.Equal(t, SkipInactive, reason)
}

func TestPointsRule_Match_BrokenStoredPredicateFailsClosed(t *testing.T) {
	def := RuleDefinition{
		Name: "legacy", EventType: EventOrderPaid, RewardMode: RewardFixed, RewardValue: decimal.NewFromInt(5),
		ScopeType: ScopeAll, StackMode: StackModeStack, ExtraConditions: `amount > 100`,
	}
	r := RestorePointsRule(shared.NewBaseAggregateRoot(), def, StatusEnabled)

	reason, err := r.Match(orderEvent(500, time.Now()), &Member{UserID: "u1"}, time.UTC)
	assert.Equal(t, SkipInvalidCondition, reason)
	assert.Error(t, err)
}

func TestPointsRule_ComputeReward(t *testing.T) {
	fixed := fixedRule(t, "fixed", 50)
	assert.Equal(t, int64(50), fixed.ComputeReward(decimal.NewFromInt(9999)))

	rate, err := NewPointsRule(RuleDefinition{
		Name: "rate", EventType: EventOrderPaid, RewardMode: RewardRate, RewardValue: decimal.NewFromFloat(1.5),
	}, StatusEnabled)
	require.NoError(t, err)
	// floor(199.99 * 1.5 / 100) = floor(2.99985)
	assert.Equal(t, int64(2), rate.ComputeReward(decimal.RequireFromString("199.99")))
	assert.Equal(t, int64(0), rate.ComputeReward(decimal.Zero))
}

func TestPointsRule_UpdateBumpsVersion(t *testing.T) {
	r := fixedRule(t, "R", 50)
	def := r.RuleDefinition
	def.RewardValue = decimal.NewFromInt(80)
	require.NoError(t, r.Update(def))
	assert.Equal(t, 2, r.Version)
	assert.Equal(t, int64(80), r.ComputeReward(decimal.Zero))

	def.RewardValue = decimal.NewFromInt(-1)
	assert.Error(t, r.Update(def))
	assert.Equal(t, 2, r.Version)
}
