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
)

// GormRuleRepository implements points.RuleRepository using GORM
type GormRuleRepository struct {
	db *gorm.DB
}

// NewGormRuleRepository creates a new GormRuleRepository
func NewGormRuleRepository(db *gorm.DB) *GormRuleRepository {
	return &GormRuleRepository{db: db}
}

// FindByID finds a rule by its ID
func (r *GormRuleRepository) FindByID(ctx context.Context, id uuid.UUID) (*points.PointsRule, error) {
	var model models.PointsRuleModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists rules matching the filter with the total count
func (r *GormRuleRepository) FindAll(ctx context.Context, filter points.RuleFilter) ([]points.PointsRule, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.PointsRuleModel{})
	if filter.EventType != nil {
		query = query.Where("event_type = ?", *filter.EventType)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.StackMode != nil {
		query = query.Where("stack_mode = ?", *filter.StackMode)
	}
	if filter.Search != "" {
		query = query.Where(`name LIKE ? ESCAPE '\'`, "%"+escapeLike(filter.Search)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.PointsRuleModel
	if err := applyPage(query, filter.Filter, RuleSortFields, "created_at").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	rules := make([]points.PointsRule, len(rows))
	for i := range rows {
		rules[i] = *rows[i].ToDomain()
	}
	return rules, total, nil
}

// FindActive returns enabled rules for an event type whose validity window contains at.
// Oldest first, so callers see rules in creation order.
func (r *GormRuleRepository) FindActive(ctx context.Context, t points.EventType, at time.Time) ([]*points.PointsRule, error) {
	var rows []models.PointsRuleModel
	err := r.db.WithContext(ctx).
		Where("event_type = ? AND status = ?", t, points.StatusEnabled).
		Scopes(activeWindow("valid_start", "valid_end", at)).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	rules := make([]*points.PointsRule, len(rows))
	for i := range rows {
		rules[i] = rows[i].ToDomain()
	}
	return rules, nil
}

// FindByIDs finds several rules at once; unknown ids are skipped
func (r *GormRuleRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*points.PointsRule, error) {
	if len(ids) == 0 {
		return []*points.PointsRule{}, nil
	}
	var rows []models.PointsRuleModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	rules := make([]*points.PointsRule, len(rows))
	for i := range rows {
		rules[i] = rows[i].ToDomain()
	}
	return rules, nil
}

// Save inserts a new rule
func (r *GormRuleRepository) Save(ctx context.Context, rule *points.PointsRule) error {
	return r.db.WithContext(ctx).Create(models.PointsRuleModelFromDomain(rule)).Error
}

// Update writes the rule if nobody else changed it since it was loaded
func (r *GormRuleRepository) Update(ctx context.Context, rule *points.PointsRule) error {
	model := models.PointsRuleModelFromDomain(rule)
	result := r.db.WithContext(ctx).
		Model(&models.PointsRuleModel{}).
		Where("id = ? AND version = ?", rule.ID, rule.Version-1).
		Select("*").Omit("id", "created_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.conflictOrMissing(ctx, rule.ID)
	}
	return nil
}

// Delete removes a rule. Rules referenced by ledger rows are kept by the caller.
func (r *GormRuleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.PointsRuleModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CountActive counts enabled rules whose window contains at
func (r *GormRuleRepository) CountActive(ctx context.Context, at time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PointsRuleModel{}).
		Where("status = ?", points.StatusEnabled).
		Scopes(activeWindow("valid_start", "valid_end", at)).
		Count(&count).Error
	return count, err
}

func (r *GormRuleRepository) conflictOrMissing(ctx context.Context, id uuid.UUID) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.PointsRuleModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return shared.ErrNotFound
	}
	return shared.ErrConcurrencyConflict
}

// activeWindow keeps rows whose nullable [start, end] window contains at
func activeWindow(startCol, endCol string, at time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.
			Where("("+startCol+" IS NULL OR "+startCol+" <= ?)", at).
			Where("("+endCol+" IS NULL OR "+endCol+" >= ?)", at)
	}
}

var _ points.RuleRepository = (*GormRuleRepository)(nil)
