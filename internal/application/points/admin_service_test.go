package points

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func validRuleRequest() RuleRequest {
	return RuleRequest{
		Name:        "order bonus",
		EventType:   points.EventOrderPaid,
		RewardMode:  points.RewardFixed,
		RewardValue: decimal.NewFromInt(10),
	}
}

func storedRule(t *testing.T) *points.PointsRule {
	t.Helper()
	req := validRuleRequest()
	rule, err := points.NewPointsRule(req.definition(), points.StatusEnabled)
	require.NoError(t, err)
	return rule
}

func TestRuleService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to enabled", func(t *testing.T) {
		rules := new(MockRuleRepository)
		rules.On("Save", ctx, mock.AnythingOfType("*points.PointsRule")).Return(nil)
		service := NewRuleService(rules, new(MockLedgerRepository))

		m, err := service.Create(ctx, validRuleRequest())
		require.NoError(t, err)
		assert.Nil(t, m.Before)
		require.NotNil(t, m.After)
		assert.Equal(t, points.StatusEnabled, m.After.Status)
		assert.Equal(t, "order bonus", m.After.Name)
		rules.AssertExpectations(t)
	})

	t.Run("invalid definition is not saved", func(t *testing.T) {
		rules := new(MockRuleRepository)
		service := NewRuleService(rules, new(MockLedgerRepository))

		req := validRuleRequest()
		req.Name = ""
		_, err := service.Create(ctx, req)
		var ve *shared.ValidationError
		require.ErrorAs(t, err, &ve)
		rules.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("storage failure is retryable", func(t *testing.T) {
		rules := new(MockRuleRepository)
		rules.On("Save", ctx, mock.Anything).Return(errors.New("connection reset"))
		service := NewRuleService(rules, new(MockLedgerRepository))

		_, err := service.Create(ctx, validRuleRequest())
		assert.True(t, shared.IsPersistenceFailure(err))
	})
}

func TestRuleService_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("stale version", func(t *testing.T) {
		rule := storedRule(t)
		rules := new(MockRuleRepository)
		rules.On("FindByID", ctx, rule.ID).Return(rule, nil)
		service := NewRuleService(rules, new(MockLedgerRepository))

		req := validRuleRequest()
		req.Version = rule.Version + 3
		_, err := service.Update(ctx, rule.ID, req)
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
		rules.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("status and definition bump the version once", func(t *testing.T) {
		rule := storedRule(t)
		rules := new(MockRuleRepository)
		rules.On("FindByID", ctx, rule.ID).Return(rule, nil)
		rules.On("Update", ctx, rule).Return(nil)
		service := NewRuleService(rules, new(MockLedgerRepository))

		req := validRuleRequest()
		req.RewardValue = decimal.NewFromInt(25)
		disabled := points.StatusDisabled
		req.Status = &disabled
		req.Version = rule.Version

		m, err := service.Update(ctx, rule.ID, req)
		require.NoError(t, err)
		assert.Equal(t, 1, m.Before.Version)
		assert.Equal(t, 2, m.After.Version)
		assert.Equal(t, points.StatusDisabled, m.After.Status)
		assert.True(t, m.After.RewardValue.Equal(decimal.NewFromInt(25)))
	})

	t.Run("missing rule", func(t *testing.T) {
		rules := new(MockRuleRepository)
		id := uuid.New()
		rules.On("FindByID", ctx, id).Return(nil, shared.ErrNotFound)
		service := NewRuleService(rules, new(MockLedgerRepository))

		_, err := service.Update(ctx, id, validRuleRequest())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestRuleService_SetEnabled(t *testing.T) {
	ctx := context.Background()

	t.Run("same status writes nothing", func(t *testing.T) {
		rule := storedRule(t)
		rules := new(MockRuleRepository)
		rules.On("FindByID", ctx, rule.ID).Return(rule, nil)
		service := NewRuleService(rules, new(MockLedgerRepository))

		m, err := service.SetEnabled(ctx, rule.ID, true)
		require.NoError(t, err)
		assert.Equal(t, m.Before.Version, m.After.Version)
		rules.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("disable", func(t *testing.T) {
		rule := storedRule(t)
		rules := new(MockRuleRepository)
		rules.On("FindByID", ctx, rule.ID).Return(rule, nil)
		rules.On("Update", ctx, rule).Return(nil)
		service := NewRuleService(rules, new(MockLedgerRepository))

		m, err := service.SetEnabled(ctx, rule.ID, false)
		require.NoError(t, err)
		assert.Equal(t, points.StatusEnabled, m.Before.Status)
		assert.Equal(t, points.StatusDisabled, m.After.Status)
		rules.AssertExpectations(t)
	})
}

func TestRuleService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("referenced rule is kept", func(t *testing.T) {
		rule := storedRule(t)
		rules := new(MockRuleRepository)
		ledger := new(MockLedgerRepository)
		rules.On("FindByID", ctx, rule.ID).Return(rule, nil)
		ledger.On("CountByRule", ctx, rule.ID).Return(int64(3), nil)
		service := NewRuleService(rules, ledger)

		_, err := service.Delete(ctx, rule.ID)
		var de *shared.DomainError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, shared.CodeInvalidState, de.Code)
		rules.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("unused rule", func(t *testing.T) {
		rule := storedRule(t)
		rules := new(MockRuleRepository)
		ledger := new(MockLedgerRepository)
		rules.On("FindByID", ctx, rule.ID).Return(rule, nil)
		rules.On("Delete", ctx, rule.ID).Return(nil)
		ledger.On("CountByRule", ctx, rule.ID).Return(int64(0), nil)
		service := NewRuleService(rules, ledger)

		m, err := service.Delete(ctx, rule.ID)
		require.NoError(t, err)
		assert.NotNil(t, m.Before)
		assert.Nil(t, m.After)
		rules.AssertExpectations(t)
	})
}

func TestCampaignService_Create(t *testing.T) {
	ctx := context.Background()
	rule := storedRule(t)

	t.Run("unknown rule", func(t *testing.T) {
		campaigns := new(MockCampaignRepository)
		rules := new(MockRuleRepository)
		missing := uuid.New()
		rules.On("FindByIDs", ctx, mock.Anything).Return([]*points.PointsRule{rule}, nil)
		service := NewCampaignService(campaigns, rules, new(MockLedgerRepository))

		_, err := service.Create(ctx, CampaignRequest{Name: "spring", RuleIDs: []uuid.UUID{rule.ID, missing}})
		var ve *shared.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Contains(t, ve.Error(), missing.String())
		campaigns.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("saved", func(t *testing.T) {
		campaigns := new(MockCampaignRepository)
		rules := new(MockRuleRepository)
		rules.On("FindByIDs", ctx, []uuid.UUID{rule.ID}).Return([]*points.PointsRule{rule}, nil)
		campaigns.On("Save", ctx, mock.AnythingOfType("*points.PointsCampaign")).Return(nil)
		service := NewCampaignService(campaigns, rules, new(MockLedgerRepository))

		m, err := service.Create(ctx, CampaignRequest{
			Name:              "spring",
			RuleIDs:           []uuid.UUID{rule.ID},
			BudgetTotalPoints: 1000,
			BudgetDailyPoints: 100,
		})
		require.NoError(t, err)
		assert.Equal(t, points.AudienceAll, m.After.AudienceType)
		assert.Equal(t, int64(1000), m.After.BudgetTotalPoints)
	})
}

func TestCampaignService_Get_SpentToday(t *testing.T) {
	ctx := context.Background()
	campaign, err := points.NewPointsCampaign(points.CampaignDefinition{
		Name:              "spring",
		RuleIDs:           []uuid.UUID{uuid.New()},
		BudgetDailyPoints: 500,
	}, points.StatusEnabled)
	require.NoError(t, err)
	shanghai := time.FixedZone("CST", 8*3600)
	// 20:00 UTC is already the next business day in Shanghai
	now := time.Date(2026, 5, 6, 20, 0, 0, 0, time.UTC)
	dayKey := points.CampaignDayKey(campaign.ID, "2026-05-07")

	newService := func(counters *MockCounterStore) *CampaignService {
		campaigns := new(MockCampaignRepository)
		campaigns.On("FindByID", ctx, campaign.ID).Return(campaign, nil)
		service := NewCampaignService(campaigns, new(MockRuleRepository), new(MockLedgerRepository))
		service.SetSpendCounters(counters, shanghai)
		service.now = func() time.Time { return now }
		return service
	}

	t.Run("day counter is reported", func(t *testing.T) {
		counters := new(MockCounterStore)
		counters.On("Get", ctx, []points.CounterKey{dayKey}).
			Return(map[points.CounterKey]*points.Counter{dayKey: {Key: dayKey, Value: 120}}, nil)

		resp, err := newService(counters).Get(ctx, campaign.ID)
		require.NoError(t, err)
		require.NotNil(t, resp.SpentToday)
		assert.Equal(t, int64(120), *resp.SpentToday)
	})

	t.Run("no spend yet reads as zero", func(t *testing.T) {
		counters := new(MockCounterStore)
		counters.On("Get", ctx, []points.CounterKey{dayKey}).Return(map[points.CounterKey]*points.Counter{}, nil)

		resp, err := newService(counters).Get(ctx, campaign.ID)
		require.NoError(t, err)
		require.NotNil(t, resp.SpentToday)
		assert.Equal(t, int64(0), *resp.SpentToday)
	})

	t.Run("unreadable counter is left out", func(t *testing.T) {
		counters := new(MockCounterStore)
		counters.On("Get", ctx, []points.CounterKey{dayKey}).Return(nil, errors.New("connection refused"))

		resp, err := newService(counters).Get(ctx, campaign.ID)
		require.NoError(t, err)
		assert.Nil(t, resp.SpentToday)
	})
}

func TestCampaignService_Delete_Referenced(t *testing.T) {
	ctx := context.Background()
	campaign, err := points.NewPointsCampaign(points.CampaignDefinition{
		Name:    "spring",
		RuleIDs: []uuid.UUID{uuid.New()},
	}, points.StatusEnabled)
	require.NoError(t, err)

	campaigns := new(MockCampaignRepository)
	ledger := new(MockLedgerRepository)
	campaigns.On("FindByID", ctx, campaign.ID).Return(campaign, nil)
	ledger.On("FindAll", ctx, mock.MatchedBy(func(f points.LedgerFilter) bool {
		return f.CampaignID != nil && *f.CampaignID == campaign.ID
	})).Return([]points.LedgerRow{{}}, int64(12), nil)
	service := NewCampaignService(campaigns, new(MockRuleRepository), ledger)

	_, err = service.Delete(ctx, campaign.ID)
	var de *shared.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, shared.CodeInvalidState, de.Code)
	campaigns.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestMemberService_Upsert_KeepsObservedFacts(t *testing.T) {
	ctx := context.Background()
	registered := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	existing := points.NewMember("u-1")
	existing.RegisteredAt = &registered

	members := new(MockMemberRepository)
	members.On("FindByUserID", ctx, "u-1").Return(existing, nil)
	members.On("Save", ctx, existing).Return(nil)
	service := NewMemberService(members)

	resp, err := service.Upsert(ctx, MemberInput{UserID: "u-1", Level: 3, Tags: []string{"vip"}})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Level)
	assert.Equal(t, []string{"vip"}, resp.Tags)
	require.NotNil(t, resp.RegisteredAt)
	assert.True(t, resp.RegisteredAt.Equal(registered))
	members.AssertExpectations(t)
}

func TestMemberService_Upsert_NewMember(t *testing.T) {
	ctx := context.Background()
	members := new(MockMemberRepository)
	members.On("FindByUserID", ctx, "u-2").Return(nil, shared.ErrNotFound)
	members.On("Save", ctx, mock.MatchedBy(func(m *points.Member) bool { return m.UserID == "u-2" })).Return(nil)
	service := NewMemberService(members)

	resp, err := service.Upsert(ctx, MemberInput{UserID: "u-2", Level: 1})
	require.NoError(t, err)
	assert.Equal(t, "u-2", resp.UserID)
	assert.Empty(t, resp.Tags)

	_, err = service.Upsert(ctx, MemberInput{UserID: "u-2", Level: -1})
	var ve *shared.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestDashboardService_Trend(t *testing.T) {
	ctx := context.Background()
	ledger := new(MockLedgerRepository)
	ledger.On("DailyTotals", ctx, "2026-03-08", "2026-03-10").Return([]points.DailyTotal{
		{BizDate: "2026-03-09", Issued: 120, Redeemed: 30, ActiveUsers: 4},
	}, nil)
	service := NewDashboardService(ledger, nil, nil, nil, time.UTC)
	service.now = func() time.Time { return time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC) }

	trend, err := service.Trend(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-08", trend.From)
	assert.Equal(t, "2026-03-10", trend.To)
	require.Len(t, trend.Days, 3)
	assert.Equal(t, points.DailyTotal{BizDate: "2026-03-08"}, trend.Days[0])
	assert.Equal(t, int64(120), trend.Days[1].Issued)
	assert.Equal(t, points.DailyTotal{BizDate: "2026-03-10"}, trend.Days[2])
}

func TestDashboardService_Overview(t *testing.T) {
	ctx := context.Background()
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	now := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC) // 04:00 on the 11th in Shanghai

	ledger := new(MockLedgerRepository)
	rules := new(MockRuleRepository)
	campaigns := new(MockCampaignRepository)
	decisions := new(MockEvaluationRepository)
	ledger.On("DailyTotals", mock.Anything, "2026-03-11", "2026-03-11").Return([]points.DailyTotal{
		{BizDate: "2026-03-11", Issued: 500, Redeemed: 80, ActiveUsers: 9},
	}, nil)
	rules.On("CountActive", mock.Anything, mock.Anything).Return(int64(4), nil)
	campaigns.On("CountActive", mock.Anything, mock.Anything).Return(int64(2), nil)
	decisions.On("CountByOutcomeSince", mock.Anything, mock.MatchedBy(func(since time.Time) bool {
		return since.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, shanghai))
	})).Return(map[points.Outcome]int64{points.OutcomeAwarded: 7, points.OutcomeBlocked: 1}, nil)

	service := NewDashboardService(ledger, rules, campaigns, decisions, shanghai)
	service.now = func() time.Time { return now }

	o, err := service.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-11", o.Date)
	assert.Equal(t, int64(500), o.IssuedToday)
	assert.Equal(t, int64(80), o.RedeemedToday)
	assert.Equal(t, int64(9), o.ActiveUsers)
	assert.Equal(t, int64(4), o.ActiveRules)
	assert.Equal(t, int64(2), o.ActiveCampaigns)
	assert.Equal(t, int64(7), o.Decisions[points.OutcomeAwarded])
}

func TestEventHandlers_RejectUnexpectedEvents(t *testing.T) {
	ctx := context.Background()
	task := &points.GrantTask{GrantType: points.GrantAdd}
	task.ID = uuid.New()
	other := points.NewGrantTaskFinished(task)

	err := NewRiskAlertHandler(nil).Handle(ctx, other)
	assert.Error(t, err)

	// without a recorder the flow handler accepts everything
	assert.NoError(t, NewPointsFlowHandler(nil, nil).Handle(ctx, other))
	assert.ElementsMatch(t, []string{
		points.EventTypePointsAwarded,
		points.EventTypeLedgerReversed,
		points.EventTypeGrantTaskFinished,
	}, NewPointsFlowHandler(nil, nil).EventTypes())
}
