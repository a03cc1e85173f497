package handler

import (
	"context"
	"io"

	"github.com/google/uuid"
	pointsapp "github.com/loyalty/points/internal/application/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/storage"
	"github.com/stretchr/testify/mock"
)

// MockEngineService is a mock implementation of EngineService
type MockEngineService struct {
	mock.Mock
}

func (m *MockEngineService) Evaluate(ctx context.Context, in pointsapp.EvaluateInput) (*pointsapp.EvaluationResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pointsapp.EvaluationResult), args.Error(1)
}

func (m *MockEngineService) ListDecisions(ctx context.Context, f pointsapp.DecisionListFilter) (shared.Paginated[pointsapp.EvaluationResult], error) {
	args := m.Called(ctx, f)
	return args.Get(0).(shared.Paginated[pointsapp.EvaluationResult]), args.Error(1)
}

// MockLedgerService is a mock implementation of LedgerService
type MockLedgerService struct {
	mock.Mock
}

func (m *MockLedgerService) Balance(ctx context.Context, userID string) (*pointsapp.BalanceResponse, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pointsapp.BalanceResponse), args.Error(1)
}

func (m *MockLedgerService) Query(ctx context.Context, q pointsapp.LedgerQuery) (shared.Paginated[pointsapp.LedgerRowResponse], error) {
	args := m.Called(ctx, q)
	return args.Get(0).(shared.Paginated[pointsapp.LedgerRowResponse]), args.Error(1)
}

func (m *MockLedgerService) GetRow(ctx context.Context, id uuid.UUID) (*pointsapp.LedgerRowResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pointsapp.LedgerRowResponse), args.Error(1)
}

func (m *MockLedgerService) ExportCSV(ctx context.Context, w io.Writer, q pointsapp.LedgerQuery) (int, error) {
	args := m.Called(ctx, w, q)
	if body := args.String(2); body != "" {
		_, _ = io.WriteString(w, body)
	}
	return args.Int(0), args.Error(1)
}

func (m *MockLedgerService) ExportArchive(ctx context.Context, q pointsapp.LedgerQuery) (*storage.Archive, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Archive), args.Error(1)
}

func (m *MockLedgerService) Redeem(ctx context.Context, in pointsapp.RedeemInput) (*pointsapp.RedeemResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pointsapp.RedeemResult), args.Error(1)
}

func (m *MockLedgerService) Reverse(ctx context.Context, in pointsapp.ReverseInput) (*pointsapp.ReverseResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pointsapp.ReverseResult), args.Error(1)
}

// MockGrantService is a mock implementation of GrantService
type MockGrantService struct {
	mock.Mock
}

func (m *MockGrantService) task(args mock.Arguments) (*pointsapp.GrantTaskResponse, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pointsapp.GrantTaskResponse), args.Error(1)
}

func (m *MockGrantService) Submit(ctx context.Context, in pointsapp.GrantInput) (*pointsapp.GrantTaskResponse, error) {
	return m.task(m.Called(ctx, in))
}

func (m *MockGrantService) SubmitAsync(ctx context.Context, in pointsapp.GrantInput) (*pointsapp.GrantTaskResponse, error) {
	return m.task(m.Called(ctx, in))
}

func (m *MockGrantService) Cancel(ctx context.Context, id uuid.UUID) (*pointsapp.GrantTaskResponse, error) {
	return m.task(m.Called(ctx, id))
}

func (m *MockGrantService) Resume(ctx context.Context, id uuid.UUID, async bool) (*pointsapp.GrantTaskResponse, error) {
	return m.task(m.Called(ctx, id, async))
}

func (m *MockGrantService) Get(ctx context.Context, id uuid.UUID) (*pointsapp.GrantTaskResponse, error) {
	return m.task(m.Called(ctx, id))
}

func (m *MockGrantService) List(ctx context.Context, f pointsapp.GrantListFilter) (shared.Paginated[pointsapp.GrantTaskResponse], error) {
	args := m.Called(ctx, f)
	return args.Get(0).(shared.Paginated[pointsapp.GrantTaskResponse]), args.Error(1)
}

// MockRuleService is a mock implementation of RuleService
type MockRuleService struct {
	mock.Mock
}

func (m *MockRuleService) mutation(args mock.Arguments) (*pointsapp.Mutation[pointsapp.RuleResponse], error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pointsapp.Mutation[pointsapp.RuleResponse]), args.Error(1)
}

func (m *MockRuleService) Create(ctx context.Context, req pointsapp.RuleRequest) (*pointsapp.Mutation[pointsapp.RuleResponse], error) {
	return m.mutation(m.Called(ctx, req))
}

func (m *MockRuleService) Update(ctx context.Context, id uuid.UUID, req pointsapp.RuleRequest) (*pointsapp.Mutation[pointsapp.RuleResponse], error) {
	return m.mutation(m.Called(ctx, id, req))
}

func (m *MockRuleService) Get(ctx context.Context, id uuid.UUID) (*pointsapp.RuleResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pointsapp.RuleResponse), args.Error(1)
}

func (m *MockRuleService) List(ctx context.Context, f pointsapp.RuleListFilter) (shared.Paginated[pointsapp.RuleResponse], error) {
	args := m.Called(ctx, f)
	return args.Get(0).(shared.Paginated[pointsapp.RuleResponse]), args.Error(1)
}

func (m *MockRuleService) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*pointsapp.Mutation[pointsapp.RuleResponse], error) {
	return m.mutation(m.Called(ctx, id, enabled))
}

func (m *MockRuleService) Delete(ctx context.Context, id uuid.UUID) (*pointsapp.Mutation[pointsapp.RuleResponse], error) {
	return m.mutation(m.Called(ctx, id))
}
