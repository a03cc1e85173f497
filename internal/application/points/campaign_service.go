package points

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"go.uber.org/zap"
)

// CampaignService administers campaigns
type CampaignService struct {
	campaigns points.CampaignRepository
	rules     points.RuleRepository
	ledger    points.LedgerRepository
	counters  points.CounterStore
	location  *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

// NewCampaignService creates a CampaignService
func NewCampaignService(campaigns points.CampaignRepository, rules points.RuleRepository, ledger points.LedgerRepository) *CampaignService {
	return &CampaignService{campaigns: campaigns, rules: rules, ledger: ledger, now: time.Now, logger: zap.NewNop()}
}

// SetSpendCounters enables today's spend on campaign reads. Days are cut in loc.
func (s *CampaignService) SetSpendCounters(counters points.CounterStore, loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	s.counters = counters
	s.location = loc
}

// SetLogger sets the logger
func (s *CampaignService) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Create validates and stores a campaign
func (s *CampaignService) Create(ctx context.Context, req CampaignRequest) (*Mutation[CampaignResponse], error) {
	status := points.StatusEnabled
	if req.Status != nil {
		status = *req.Status
	}
	def := req.definition()
	campaign, err := points.NewPointsCampaign(def, status)
	if err != nil {
		return nil, err
	}
	if err := s.checkRules(ctx, campaign.RuleIDs); err != nil {
		return nil, err
	}
	if err := s.campaigns.Save(ctx, campaign); err != nil {
		return nil, failure("save campaign", err)
	}
	s.logger.Info("Campaign created",
		zap.String("campaign_id", campaign.ID.String()),
		zap.Int("rules", len(campaign.RuleIDs)),
	)
	after := ToCampaignResponse(campaign)
	return &Mutation[CampaignResponse]{After: &after}, nil
}

// Update replaces a campaign's definition; spent points are kept
func (s *CampaignService) Update(ctx context.Context, id uuid.UUID, req CampaignRequest) (*Mutation[CampaignResponse], error) {
	campaign, err := s.campaigns.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(req.Version, campaign.Version); err != nil {
		return nil, err
	}
	before := ToCampaignResponse(campaign)

	if req.Status != nil {
		if !req.Status.IsValid() {
			return nil, shared.NewDomainError(shared.CodeInvalidInput, "status must be 0 or 1")
		}
		campaign.Status = *req.Status
	}
	if err := campaign.Update(req.definition()); err != nil {
		return nil, err
	}
	if err := s.checkRules(ctx, campaign.RuleIDs); err != nil {
		return nil, err
	}
	if err := s.campaigns.Update(ctx, campaign); err != nil {
		return nil, failure("update campaign", err)
	}
	after := ToCampaignResponse(campaign)
	return &Mutation[CampaignResponse]{Before: &before, After: &after}, nil
}

// Get returns one campaign
func (s *CampaignService) Get(ctx context.Context, id uuid.UUID) (*CampaignResponse, error) {
	campaign, err := s.campaigns.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToCampaignResponse(campaign)
	if s.counters != nil {
		resp.SpentToday = s.spentToday(ctx, campaign.ID)
	}
	return &resp, nil
}

// spentToday reads the campaign's day counter; nil when it cannot be read
func (s *CampaignService) spentToday(ctx context.Context, id uuid.UUID) *int64 {
	key := points.CampaignDayKey(id, s.now().In(s.location).Format(points.BizDateLayout))
	counters, err := s.counters.Get(ctx, []points.CounterKey{key})
	if err != nil {
		s.logger.Warn("Failed to read campaign day spend", zap.String("campaign_id", id.String()), zap.Error(err))
		return nil
	}
	var spent int64
	if c, ok := counters[key]; ok {
		spent = c.Value
	}
	return &spent
}

// List pages through campaigns
func (s *CampaignService) List(ctx context.Context, f CampaignListFilter) (shared.Paginated[CampaignResponse], error) {
	filter := points.CampaignFilter{Status: f.Status, RuleID: f.RuleID}
	filter.Filter = shared.Filter{Page: f.Page, PageSize: f.PageSize, Search: f.Search}.Normalize()

	campaigns, total, err := s.campaigns.FindAll(ctx, filter)
	if err != nil {
		return shared.Paginated[CampaignResponse]{}, failure("list campaigns", err)
	}
	items := make([]CampaignResponse, len(campaigns))
	for i := range campaigns {
		items[i] = ToCampaignResponse(&campaigns[i])
	}
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}

// SetEnabled toggles a campaign
func (s *CampaignService) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*Mutation[CampaignResponse], error) {
	campaign, err := s.campaigns.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := ToCampaignResponse(campaign)
	if enabled {
		campaign.Enable()
	} else {
		campaign.Disable()
	}
	if campaign.Version != before.Version {
		if err := s.campaigns.Update(ctx, campaign); err != nil {
			return nil, failure("update campaign", err)
		}
	}
	after := ToCampaignResponse(campaign)
	return &Mutation[CampaignResponse]{Before: &before, After: &after}, nil
}

// Delete removes a campaign that no ledger row references
func (s *CampaignService) Delete(ctx context.Context, id uuid.UUID) (*Mutation[CampaignResponse], error) {
	campaign, err := s.campaigns.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	filter := points.LedgerFilter{CampaignID: &id}
	filter.Filter = shared.Filter{Page: 1, PageSize: 1}.Normalize()
	_, used, err := s.ledger.FindAll(ctx, filter)
	if err != nil {
		return nil, failure("count campaign awards", err)
	}
	if used > 0 {
		return nil, shared.NewDomainError(shared.CodeInvalidState, "campaign is referenced by ledger rows; disable it instead")
	}
	if err := s.campaigns.Delete(ctx, id); err != nil {
		return nil, failure("delete campaign", err)
	}
	s.logger.Info("Campaign deleted", zap.String("campaign_id", id.String()))
	before := ToCampaignResponse(campaign)
	return &Mutation[CampaignResponse]{Before: &before}, nil
}

// checkRules rejects rule ids that do not exist
func (s *CampaignService) checkRules(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := s.rules.FindByIDs(ctx, ids)
	if err != nil {
		return failure("load campaign rules", err)
	}
	known := make(map[uuid.UUID]struct{}, len(found))
	for _, r := range found {
		known[r.ID] = struct{}{}
	}
	var v shared.ValidationError
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			v.Addf("ruleIds", "unknown rule %s", id)
		}
	}
	return v.ErrOrNil()
}
