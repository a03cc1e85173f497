package points

import (
	"context"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"go.uber.org/zap"
)

// RuleService administers reward rules
type RuleService struct {
	rules  points.RuleRepository
	ledger points.LedgerRepository
	logger *zap.Logger
}

// NewRuleService creates a RuleService
func NewRuleService(rules points.RuleRepository, ledger points.LedgerRepository) *RuleService {
	return &RuleService{rules: rules, ledger: ledger, logger: zap.NewNop()}
}

// SetLogger sets the logger
func (s *RuleService) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Create validates and stores a rule. A missing status creates it enabled.
func (s *RuleService) Create(ctx context.Context, req RuleRequest) (*Mutation[RuleResponse], error) {
	status := points.StatusEnabled
	if req.Status != nil {
		status = *req.Status
	}
	rule, err := points.NewPointsRule(req.definition(), status)
	if err != nil {
		return nil, err
	}
	if err := s.rules.Save(ctx, rule); err != nil {
		return nil, failure("save rule", err)
	}
	s.logger.Info("Rule created", zap.String("rule_id", rule.ID.String()), zap.String("name", rule.Name))
	after := ToRuleResponse(rule)
	return &Mutation[RuleResponse]{After: &after}, nil
}

// Update replaces a rule's definition. A non-zero version must match the stored one.
func (s *RuleService) Update(ctx context.Context, id uuid.UUID, req RuleRequest) (*Mutation[RuleResponse], error) {
	rule, err := s.rules.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(req.Version, rule.Version); err != nil {
		return nil, err
	}
	before := ToRuleResponse(rule)

	if req.Status != nil {
		if !req.Status.IsValid() {
			return nil, shared.NewDomainError(shared.CodeInvalidInput, "status must be 0 or 1")
		}
		rule.Status = *req.Status
	}
	if err := rule.Update(req.definition()); err != nil {
		return nil, err
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, failure("update rule", err)
	}
	after := ToRuleResponse(rule)
	return &Mutation[RuleResponse]{Before: &before, After: &after}, nil
}

// Get returns one rule
func (s *RuleService) Get(ctx context.Context, id uuid.UUID) (*RuleResponse, error) {
	rule, err := s.rules.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToRuleResponse(rule)
	return &resp, nil
}

// List pages through rules
func (s *RuleService) List(ctx context.Context, f RuleListFilter) (shared.Paginated[RuleResponse], error) {
	filter := points.RuleFilter{EventType: f.EventType, Status: f.Status, StackMode: f.StackMode}
	filter.Filter = shared.Filter{
		Page:     f.Page,
		PageSize: f.PageSize,
		OrderBy:  f.OrderBy,
		OrderDir: f.OrderDir,
		Search:   f.Search,
	}.Normalize()

	rules, total, err := s.rules.FindAll(ctx, filter)
	if err != nil {
		return shared.Paginated[RuleResponse]{}, failure("list rules", err)
	}
	items := make([]RuleResponse, len(rules))
	for i := range rules {
		items[i] = ToRuleResponse(&rules[i])
	}
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}

// SetEnabled toggles a rule. Toggling to the current status changes nothing.
func (s *RuleService) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*Mutation[RuleResponse], error) {
	rule, err := s.rules.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := ToRuleResponse(rule)
	if enabled {
		rule.Enable()
	} else {
		rule.Disable()
	}
	if rule.Version != before.Version {
		if err := s.rules.Update(ctx, rule); err != nil {
			return nil, failure("update rule", err)
		}
	}
	after := ToRuleResponse(rule)
	return &Mutation[RuleResponse]{Before: &before, After: &after}, nil
}

// Delete removes a rule that never awarded anything; referenced rules must be disabled instead
func (s *RuleService) Delete(ctx context.Context, id uuid.UUID) (*Mutation[RuleResponse], error) {
	rule, err := s.rules.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	used, err := s.ledger.CountByRule(ctx, id)
	if err != nil {
		return nil, failure("count rule awards", err)
	}
	if used > 0 {
		return nil, shared.NewDomainError(shared.CodeInvalidState, "rule is referenced by ledger rows; disable it instead")
	}
	if err := s.rules.Delete(ctx, id); err != nil {
		return nil, failure("delete rule", err)
	}
	s.logger.Info("Rule deleted", zap.String("rule_id", id.String()))
	before := ToRuleResponse(rule)
	return &Mutation[RuleResponse]{Before: &before}, nil
}

// checkVersion rejects an update made against a stale copy; zero skips the check
func checkVersion(expected, actual int) error {
	if expected > 0 && expected != actual {
		return shared.ErrConcurrencyConflict
	}
	return nil
}
