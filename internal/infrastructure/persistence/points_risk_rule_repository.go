package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormRiskRuleRepository implements points.RiskRuleRepository using GORM
type GormRiskRuleRepository struct {
	db *gorm.DB
}

// NewGormRiskRuleRepository creates a new GormRiskRuleRepository
func NewGormRiskRuleRepository(db *gorm.DB) *GormRiskRuleRepository {
	return &GormRiskRuleRepository{db: db}
}

// FindByID finds a risk rule by its ID
func (r *GormRiskRuleRepository) FindByID(ctx context.Context, id uuid.UUID) (*points.PointsRiskRule, error) {
	var model models.PointsRiskRuleModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists risk rules matching the filter with the total count
func (r *GormRiskRuleRepository) FindAll(ctx context.Context, filter points.RiskRuleFilter) ([]points.PointsRiskRule, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.PointsRiskRuleModel{})
	if filter.EventType != nil {
		query = query.Where("event_type = ?", *filter.EventType)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Search != "" {
		query = query.Where(`name LIKE ? ESCAPE '\'`, "%"+escapeLike(filter.Search)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.PointsRiskRuleModel
	if err := applyPage(query, filter.Filter, RiskRuleSortFields, "created_at").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]points.PointsRiskRule, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, total, nil
}

// FindEnabledFor returns enabled rules scoped to t or to every event type
func (r *GormRiskRuleRepository) FindEnabledFor(ctx context.Context, t points.EventType) ([]*points.PointsRiskRule, error) {
	var rows []models.PointsRiskRuleModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND event_type IN ?", points.StatusEnabled, []points.EventType{t, points.EventAll}).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*points.PointsRiskRule, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// Save inserts a new risk rule
func (r *GormRiskRuleRepository) Save(ctx context.Context, rule *points.PointsRiskRule) error {
	return r.db.WithContext(ctx).Create(models.PointsRiskRuleModelFromDomain(rule)).Error
}

// Update writes the risk rule under optimistic locking
func (r *GormRiskRuleRepository) Update(ctx context.Context, rule *points.PointsRiskRule) error {
	result := r.db.WithContext(ctx).
		Model(&models.PointsRiskRuleModel{}).
		Where("id = ? AND version = ?", rule.ID, rule.Version-1).
		Select("*").Omit("id", "created_at").
		Updates(models.PointsRiskRuleModelFromDomain(rule))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.PointsRiskRuleModel{}).Where("id = ?", rule.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return shared.ErrNotFound
		}
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// Delete removes a risk rule
func (r *GormRiskRuleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.PointsRiskRuleModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ points.RiskRuleRepository = (*GormRiskRuleRepository)(nil)
