package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCampaignRepository implements points.CampaignRepository using GORM.
// Rule membership is kept in points_campaign_rules and rewritten on every save.
type GormCampaignRepository struct {
	db *gorm.DB
}

// NewGormCampaignRepository creates a new GormCampaignRepository
func NewGormCampaignRepository(db *gorm.DB) *GormCampaignRepository {
	return &GormCampaignRepository{db: db}
}

// FindByID finds a campaign with its rule ids
func (r *GormCampaignRepository) FindByID(ctx context.Context, id uuid.UUID) (*points.PointsCampaign, error) {
	var model models.PointsCampaignModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	campaigns, err := r.withRules(ctx, []models.PointsCampaignModel{model})
	if err != nil {
		return nil, err
	}
	return campaigns[0], nil
}

// FindAll lists campaigns matching the filter with the total count
func (r *GormCampaignRepository) FindAll(ctx context.Context, filter points.CampaignFilter) ([]points.PointsCampaign, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.PointsCampaignModel{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.RuleID != nil {
		query = query.Where("id IN (?)",
			r.db.Model(&models.CampaignRuleModel{}).Select("campaign_id").Where("rule_id = ?", *filter.RuleID))
	}
	if filter.Search != "" {
		query = query.Where(`name LIKE ? ESCAPE '\'`, "%"+escapeLike(filter.Search)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.PointsCampaignModel
	if err := applyPage(query, filter.Filter, CampaignSortFields, "created_at").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	campaigns, err := r.withRules(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	out := make([]points.PointsCampaign, len(campaigns))
	for i, c := range campaigns {
		out[i] = *c
	}
	return out, total, nil
}

// FindByRuleIDs returns every campaign listing at least one of the rules, oldest first
func (r *GormCampaignRepository) FindByRuleIDs(ctx context.Context, ruleIDs []uuid.UUID) ([]*points.PointsCampaign, error) {
	if len(ruleIDs) == 0 {
		return []*points.PointsCampaign{}, nil
	}
	var rows []models.PointsCampaignModel
	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&models.CampaignRuleModel{}).Select("campaign_id").Where("rule_id IN ?", ruleIDs)).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return r.withRules(ctx, rows)
}

// Save inserts a campaign and its rule links
func (r *GormCampaignRepository) Save(ctx context.Context, campaign *points.PointsCampaign) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(models.PointsCampaignModelFromDomain(campaign)).Error; err != nil {
			return err
		}
		return replaceCampaignRules(tx, campaign.ID, campaign.RuleIDs)
	})
}

// Update writes the definition under optimistic locking. spent_points is left alone:
// only AddSpent moves it.
func (r *GormCampaignRepository) Update(ctx context.Context, campaign *points.PointsCampaign) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := models.PointsCampaignModelFromDomain(campaign)
		result := tx.Model(&models.PointsCampaignModel{}).
			Where("id = ? AND version = ?", campaign.ID, campaign.Version-1).
			Select("*").Omit("id", "created_at", "spent_points").
			Updates(model)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.PointsCampaignModel{}).Where("id = ?", campaign.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return shared.ErrNotFound
			}
			return shared.ErrConcurrencyConflict
		}
		return replaceCampaignRules(tx, campaign.ID, campaign.RuleIDs)
	})
}

// Delete removes a campaign and its rule links
func (r *GormCampaignRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("campaign_id = ?", id).Delete(&models.CampaignRuleModel{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.PointsCampaignModel{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// AddSpent moves the lifetime spend mirror. The authoritative counter is the
// campaign total key in the counter store; this keeps the admin view in step.
func (r *GormCampaignRepository) AddSpent(ctx context.Context, id uuid.UUID, delta int64) error {
	result := r.db.WithContext(ctx).Model(&models.PointsCampaignModel{}).
		Where("id = ?", id).
		UpdateColumn("spent_points", gorm.Expr("spent_points + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CountActive counts enabled campaigns whose window contains at
func (r *GormCampaignRepository) CountActive(ctx context.Context, at time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PointsCampaignModel{}).
		Where("status = ?", points.StatusEnabled).
		Scopes(activeWindow("start_at", "end_at", at)).
		Count(&count).Error
	return count, err
}

// withRules loads rule links for the given campaigns in one query
func (r *GormCampaignRepository) withRules(ctx context.Context, rows []models.PointsCampaignModel) ([]*points.PointsCampaign, error) {
	if len(rows) == 0 {
		return []*points.PointsCampaign{}, nil
	}
	ids := make([]uuid.UUID, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	var links []models.CampaignRuleModel
	if err := r.db.WithContext(ctx).Where("campaign_id IN ?", ids).Order("rule_id").Find(&links).Error; err != nil {
		return nil, err
	}
	byCampaign := make(map[uuid.UUID][]uuid.UUID, len(rows))
	for _, l := range links {
		byCampaign[l.CampaignID] = append(byCampaign[l.CampaignID], l.RuleID)
	}
	out := make([]*points.PointsCampaign, len(rows))
	for i := range rows {
		ruleIDs := byCampaign[rows[i].ID]
		if ruleIDs == nil {
			ruleIDs = []uuid.UUID{}
		}
		out[i] = rows[i].ToDomain(ruleIDs)
	}
	return out, nil
}

func replaceCampaignRules(tx *gorm.DB, campaignID uuid.UUID, ruleIDs []uuid.UUID) error {
	if err := tx.Where("campaign_id = ?", campaignID).Delete(&models.CampaignRuleModel{}).Error; err != nil {
		return err
	}
	if len(ruleIDs) == 0 {
		return nil
	}
	links := make([]models.CampaignRuleModel, len(ruleIDs))
	for i, id := range ruleIDs {
		links[i] = models.CampaignRuleModel{CampaignID: campaignID, RuleID: id}
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
}

var _ points.CampaignRepository = (*GormCampaignRepository)(nil)
