package points

import (
	"context"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"go.uber.org/zap"
)

// RiskRuleService administers risk rules and the blacklist they feed
type RiskRuleService struct {
	riskRules points.RiskRuleRepository
	blacklist points.BlacklistRepository
	logger    *zap.Logger
}

// NewRiskRuleService creates a RiskRuleService
func NewRiskRuleService(riskRules points.RiskRuleRepository, blacklist points.BlacklistRepository) *RiskRuleService {
	return &RiskRuleService{riskRules: riskRules, blacklist: blacklist, logger: zap.NewNop()}
}

// SetLogger sets the logger
func (s *RiskRuleService) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *RiskRuleService) Create(ctx context.Context, req RiskRuleRequest) (*Mutation[RiskRuleResponse], error) {
	status := points.StatusEnabled
	if req.Status != nil {
		status = *req.Status
	}
	rule, err := points.NewPointsRiskRule(req.definition(), status)
	if err != nil {
		return nil, err
	}
	if err := s.riskRules.Save(ctx, rule); err != nil {
		return nil, failure("save risk rule", err)
	}
	after := ToRiskRuleResponse(rule)
	return &Mutation[RiskRuleResponse]{After: &after}, nil
}

func (s *RiskRuleService) Update(ctx context.Context, id uuid.UUID, req RiskRuleRequest) (*Mutation[RiskRuleResponse], error) {
	rule, err := s.riskRules.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(req.Version, rule.Version); err != nil {
		return nil, err
	}
	before := ToRiskRuleResponse(rule)

	if req.Status != nil {
		if !req.Status.IsValid() {
			return nil, shared.NewDomainError(shared.CodeInvalidInput, "status must be 0 or 1")
		}
		rule.Status = *req.Status
	}
	if err := rule.Update(req.definition()); err != nil {
		return nil, err
	}
	if err := s.riskRules.Update(ctx, rule); err != nil {
		return nil, failure("update risk rule", err)
	}
	after := ToRiskRuleResponse(rule)
	return &Mutation[RiskRuleResponse]{Before: &before, After: &after}, nil
}

func (s *RiskRuleService) Get(ctx context.Context, id uuid.UUID) (*RiskRuleResponse, error) {
	rule, err := s.riskRules.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToRiskRuleResponse(rule)
	return &resp, nil
}

func (s *RiskRuleService) List(ctx context.Context, f RiskRuleListFilter) (shared.Paginated[RiskRuleResponse], error) {
	filter := points.RiskRuleFilter{EventType: f.EventType, Status: f.Status}
	filter.Filter = shared.Filter{Page: f.Page, PageSize: f.PageSize, Search: f.Search}.Normalize()

	rules, total, err := s.riskRules.FindAll(ctx, filter)
	if err != nil {
		return shared.Paginated[RiskRuleResponse]{}, failure("list risk rules", err)
	}
	items := make([]RiskRuleResponse, len(rules))
	for i := range rules {
		items[i] = ToRiskRuleResponse(&rules[i])
	}
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}

func (s *RiskRuleService) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*Mutation[RiskRuleResponse], error) {
	rule, err := s.riskRules.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := ToRiskRuleResponse(rule)
	if enabled {
		rule.Enable()
	} else {
		rule.Disable()
	}
	if rule.Version != before.Version {
		if err := s.riskRules.Update(ctx, rule); err != nil {
			return nil, failure("update risk rule", err)
		}
	}
	after := ToRiskRuleResponse(rule)
	return &Mutation[RiskRuleResponse]{Before: &before, After: &after}, nil
}

// Delete removes a risk rule. Blacklist entries it created stay until lifted.
func (s *RiskRuleService) Delete(ctx context.Context, id uuid.UUID) (*Mutation[RiskRuleResponse], error) {
	rule, err := s.riskRules.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.riskRules.Delete(ctx, id); err != nil {
		return nil, failure("delete risk rule", err)
	}
	before := ToRiskRuleResponse(rule)
	return &Mutation[RiskRuleResponse]{Before: &before}, nil
}

// Blacklist returns the active blacklist entries of a user
func (s *RiskRuleService) Blacklist(ctx context.Context, userID string) ([]BlacklistResponse, error) {
	if userID == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "userId is required")
	}
	entries, err := s.blacklist.FindByUser(ctx, userID)
	if err != nil {
		return nil, failure("load blacklist", err)
	}
	out := make([]BlacklistResponse, len(entries))
	for i := range entries {
		out[i] = ToBlacklistResponse(&entries[i])
	}
	return out, nil
}

// LiftBlacklist removes one blacklist entry
func (s *RiskRuleService) LiftBlacklist(ctx context.Context, entryID uuid.UUID, operator string) error {
	if err := s.blacklist.Remove(ctx, entryID); err != nil {
		return failure("lift blacklist entry", err)
	}
	s.logger.Info("Blacklist entry lifted", zap.String("entry_id", entryID.String()), zap.String("operator", operator))
	return nil
}
