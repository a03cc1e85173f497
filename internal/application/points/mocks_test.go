package points

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/stretchr/testify/mock"
)

// MockRuleRepository is a mock implementation of RuleRepository
type MockRuleRepository struct {
	mock.Mock
}

func (m *MockRuleRepository) FindByID(ctx context.Context, id uuid.UUID) (*points.PointsRule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*points.PointsRule), args.Error(1)
}

func (m *MockRuleRepository) FindAll(ctx context.Context, filter points.RuleFilter) ([]points.PointsRule, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]points.PointsRule), args.Get(1).(int64), args.Error(2)
}

func (m *MockRuleRepository) FindActive(ctx context.Context, t points.EventType, at time.Time) ([]*points.PointsRule, error) {
	args := m.Called(ctx, t, at)
	return args.Get(0).([]*points.PointsRule), args.Error(1)
}

func (m *MockRuleRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*points.PointsRule, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]*points.PointsRule), args.Error(1)
}

func (m *MockRuleRepository) Save(ctx context.Context, rule *points.PointsRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockRuleRepository) Update(ctx context.Context, rule *points.PointsRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockRuleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRuleRepository) CountActive(ctx context.Context, at time.Time) (int64, error) {
	args := m.Called(ctx, at)
	return args.Get(0).(int64), args.Error(1)
}

// MockCampaignRepository is a mock implementation of CampaignRepository
type MockCampaignRepository struct {
	mock.Mock
}

func (m *MockCampaignRepository) FindByID(ctx context.Context, id uuid.UUID) (*points.PointsCampaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*points.PointsCampaign), args.Error(1)
}

func (m *MockCampaignRepository) FindAll(ctx context.Context, filter points.CampaignFilter) ([]points.PointsCampaign, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]points.PointsCampaign), args.Get(1).(int64), args.Error(2)
}

func (m *MockCampaignRepository) FindByRuleIDs(ctx context.Context, ruleIDs []uuid.UUID) ([]*points.PointsCampaign, error) {
	args := m.Called(ctx, ruleIDs)
	return args.Get(0).([]*points.PointsCampaign), args.Error(1)
}

func (m *MockCampaignRepository) Save(ctx context.Context, campaign *points.PointsCampaign) error {
	args := m.Called(ctx, campaign)
	return args.Error(0)
}

func (m *MockCampaignRepository) Update(ctx context.Context, campaign *points.PointsCampaign) error {
	args := m.Called(ctx, campaign)
	return args.Error(0)
}

func (m *MockCampaignRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCampaignRepository) AddSpent(ctx context.Context, id uuid.UUID, delta int64) error {
	args := m.Called(ctx, id, delta)
	return args.Error(0)
}

func (m *MockCampaignRepository) CountActive(ctx context.Context, at time.Time) (int64, error) {
	args := m.Called(ctx, at)
	return args.Get(0).(int64), args.Error(1)
}

// MockLedgerRepository is a mock implementation of LedgerRepository
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) Append(ctx context.Context, rows ...*points.LedgerRow) (points.AppendResult, error) {
	args := m.Called(ctx, rows)
	return args.Get(0).(points.AppendResult), args.Error(1)
}

func (m *MockLedgerRepository) Balance(ctx context.Context, userID string) (points.Balance, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(points.Balance), args.Error(1)
}

func (m *MockLedgerRepository) FindByID(ctx context.Context, id uuid.UUID) (*points.LedgerRow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*points.LedgerRow), args.Error(1)
}

func (m *MockLedgerRepository) FindAll(ctx context.Context, filter points.LedgerFilter) ([]points.LedgerRow, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]points.LedgerRow), args.Get(1).(int64), args.Error(2)
}

func (m *MockLedgerRepository) Stream(ctx context.Context, filter points.LedgerFilter, batchSize int, fn func([]points.LedgerRow) error) error {
	args := m.Called(ctx, filter, batchSize)
	if batches, ok := args.Get(0).([][]points.LedgerRow); ok {
		for _, b := range batches {
			if err := fn(b); err != nil {
				return err
			}
		}
	}
	return args.Error(1)
}

func (m *MockLedgerRepository) ExistsByBiz(ctx context.Context, userID, bizID string, t points.LedgerType) (bool, error) {
	args := m.Called(ctx, userID, bizID, t)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedgerRepository) CountByRule(ctx context.Context, ruleID uuid.UUID) (int64, error) {
	args := m.Called(ctx, ruleID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerRepository) DailyTotals(ctx context.Context, fromDate, toDate string) ([]points.DailyTotal, error) {
	args := m.Called(ctx, fromDate, toDate)
	return args.Get(0).([]points.DailyTotal), args.Error(1)
}

// MockEvaluationRepository is a mock implementation of EvaluationRepository
type MockEvaluationRepository struct {
	mock.Mock
}

func (m *MockEvaluationRepository) Save(ctx context.Context, d *points.Decision) (bool, error) {
	args := m.Called(ctx, d)
	return args.Bool(0), args.Error(1)
}

func (m *MockEvaluationRepository) Find(ctx context.Context, userID string, eventType points.EventType, bizID string) (*points.Decision, error) {
	args := m.Called(ctx, userID, eventType, bizID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*points.Decision), args.Error(1)
}

func (m *MockEvaluationRepository) FindAll(ctx context.Context, filter points.DecisionFilter) ([]points.Decision, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]points.Decision), args.Get(1).(int64), args.Error(2)
}

func (m *MockEvaluationRepository) CountByOutcomeSince(ctx context.Context, since time.Time) (map[points.Outcome]int64, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[points.Outcome]int64), args.Error(1)
}

// MockMemberRepository is a mock implementation of MemberRepository
type MockMemberRepository struct {
	mock.Mock
}

func (m *MockMemberRepository) FindByUserID(ctx context.Context, userID string) (*points.Member, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*points.Member), args.Error(1)
}

func (m *MockMemberRepository) Save(ctx context.Context, member *points.Member) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *MockMemberRepository) CountAudience(ctx context.Context, minLevel *int) (int64, error) {
	args := m.Called(ctx, minLevel)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMemberRepository) ListUserIDs(ctx context.Context, minLevel *int, afterUserID string, limit int) ([]string, error) {
	args := m.Called(ctx, minLevel, afterUserID, limit)
	return args.Get(0).([]string), args.Error(1)
}

var (
	_ points.RuleRepository       = (*MockRuleRepository)(nil)
	_ points.CampaignRepository   = (*MockCampaignRepository)(nil)
	_ points.LedgerRepository     = (*MockLedgerRepository)(nil)
	_ points.EvaluationRepository = (*MockEvaluationRepository)(nil)
	_ points.MemberRepository     = (*MockMemberRepository)(nil)
)

// MockCounterStore is a mock implementation of CounterStore
type MockCounterStore struct {
	mock.Mock
}

func (m *MockCounterStore) Lock(ctx context.Context, keys []points.CounterKey) (map[points.CounterKey]*points.Counter, error) {
	args := m.Called(ctx, keys)
	return args.Get(0).(map[points.CounterKey]*points.Counter), args.Error(1)
}

func (m *MockCounterStore) Add(ctx context.Context, key points.CounterKey, delta int64, at time.Time) error {
	args := m.Called(ctx, key, delta, at)
	return args.Error(0)
}

func (m *MockCounterStore) Get(ctx context.Context, keys []points.CounterKey) (map[points.CounterKey]*points.Counter, error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[points.CounterKey]*points.Counter), args.Error(1)
}
