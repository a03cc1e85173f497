package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRiskRule(t *testing.T, name string, eventType points.EventType, action points.HitAction) *points.PointsRiskRule {
	t.Helper()
	rule, err := points.NewPointsRiskRule(points.RiskDefinition{
		Name:       name,
		EventType:  eventType,
		FreqLimit:  3,
		DailyLimit: 10,
		HitAction:  action,
	}, points.StatusEnabled)
	require.NoError(t, err)
	return rule
}

func TestGormRiskRuleRepository(t *testing.T) {
	db := setupPointsTestDB(t)
	repo := NewGormRiskRuleRepository(db)
	ctx := context.Background()

	global := newTestRiskRule(t, "global", points.EventAll, points.HitActionReview)
	orders := newTestRiskRule(t, "orders", points.EventOrderPaid, points.HitActionBlock)
	signIn := newTestRiskRule(t, "sign in", points.EventDailySignIn, points.HitActionDowngrade)
	off := newTestRiskRule(t, "off", points.EventOrderPaid, points.HitActionBlock)
	off.Disable()
	for _, r := range []*points.PointsRiskRule{global, orders, signIn, off} {
		require.NoError(t, repo.Save(ctx, r))
	}

	t.Run("enabled rules for an event include the all scope", func(t *testing.T) {
		rules, err := repo.FindEnabledFor(ctx, points.EventOrderPaid)
		require.NoError(t, err)
		names := make([]string, 0, len(rules))
		for _, r := range rules {
			names = append(names, r.Name)
		}
		assert.ElementsMatch(t, []string{"global", "orders"}, names)
	})

	t.Run("update under version check", func(t *testing.T) {
		def := orders.RiskDefinition
		def.DeviceLimit = 2
		require.NoError(t, orders.Update(def))
		require.NoError(t, repo.Update(ctx, orders))

		found, err := repo.FindByID(ctx, orders.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, found.DeviceLimit)

		orders.Version = 1
		assert.ErrorIs(t, repo.Update(ctx, orders), shared.ErrConcurrencyConflict)
	})

	t.Run("filter by status", func(t *testing.T) {
		status := points.StatusDisabled
		rules, total, err := repo.FindAll(ctx, points.RiskRuleFilter{Status: &status})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "off", rules[0].Name)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, off.ID))
		assert.ErrorIs(t, repo.Delete(ctx, off.ID), shared.ErrNotFound)
	})
}

func TestGormBlacklistRepository(t *testing.T) {
	db := setupPointsTestDB(t)
	repo := NewGormBlacklistRepository(db)
	ctx := context.Background()
	rule := newTestRiskRule(t, "signin abuse", points.EventDailySignIn, points.HitActionBlock)

	entry := points.NewBlacklistEntry("u1", rule, "daily limit 10 exceeded")
	require.NoError(t, repo.Add(ctx, entry))
	require.NoError(t, repo.Add(ctx, points.NewBlacklistEntry("u1", rule, "again")), "second entry is ignored")

	listed, err := repo.FindByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "daily limit 10 exceeded", listed[0].Reason)

	blocked, err := repo.IsBlacklisted(ctx, "u1", points.EventDailySignIn)
	require.NoError(t, err)
	assert.True(t, blocked)
	blocked, err = repo.IsBlacklisted(ctx, "u1", points.EventOrderPaid)
	require.NoError(t, err)
	assert.False(t, blocked)

	t.Run("all scope blocks every event type", func(t *testing.T) {
		global := newTestRiskRule(t, "global", points.EventAll, points.HitActionBlock)
		require.NoError(t, repo.Add(ctx, points.NewBlacklistEntry("u2", global, "device farm")))
		blocked, err := repo.IsBlacklisted(ctx, "u2", points.EventOrderPaid)
		require.NoError(t, err)
		assert.True(t, blocked)
	})

	require.NoError(t, repo.Remove(ctx, entry.ID))
	assert.ErrorIs(t, repo.Remove(ctx, entry.ID), shared.ErrNotFound)
	blocked, err = repo.IsBlacklisted(ctx, "u1", points.EventDailySignIn)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestGormDecisionRepository(t *testing.T) {
	db := setupPointsTestDB(t)
	repo := NewGormDecisionRepository(db)
	ctx := context.Background()
	at := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)

	ev := &points.ActivityEvent{BizID: "order-1", EventType: points.EventOrderPaid, UserID: "u1", OccurredAt: at}
	d := points.NewDecision(ev)
	ruleID := uuid.New()
	d.Trace = []points.TraceEntry{{RuleID: ruleID, RuleName: "base", ComputedValue: 10, AwardedAmount: 10}}
	d.Finalize()

	saved, err := repo.Save(ctx, d)
	require.NoError(t, err)
	assert.True(t, saved)

	replay := points.NewDecision(ev)
	saved, err = repo.Save(ctx, replay)
	require.NoError(t, err)
	assert.False(t, saved, "a second decision for the same event is a replay")

	found, err := repo.Find(ctx, "u1", points.EventOrderPaid, "order-1")
	require.NoError(t, err)
	assert.Equal(t, points.OutcomeAwarded, found.Outcome)
	assert.Equal(t, int64(10), found.TotalAwarded)
	require.Len(t, found.Trace, 1)
	assert.Equal(t, ruleID, found.Trace[0].RuleID)

	_, err = repo.Find(ctx, "u1", points.EventDailySignIn, "order-1")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	blocked := points.NewDecision(&points.ActivityEvent{BizID: "s-1", EventType: points.EventDailySignIn, UserID: "u2", OccurredAt: at})
	blocked.Block("blacklisted")
	blocked.Review = true
	_, err = repo.Save(ctx, blocked)
	require.NoError(t, err)

	t.Run("review filter", func(t *testing.T) {
		review := true
		list, total, err := repo.FindAll(ctx, points.DecisionFilter{Review: &review})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "u2", list[0].UserID)
	})

	t.Run("count by outcome", func(t *testing.T) {
		counts, err := repo.CountByOutcomeSince(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[points.OutcomeAwarded])
		assert.Equal(t, int64(1), counts[points.OutcomeBlocked])
	})
}
