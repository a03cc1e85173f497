package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormDecisionRepository implements points.EvaluationRepository using GORM.
// The unique index on (user_id, event_type, biz_id) is the replay guard.
type GormDecisionRepository struct {
	db *gorm.DB
}

// NewGormDecisionRepository creates a new GormDecisionRepository
func NewGormDecisionRepository(db *gorm.DB) *GormDecisionRepository {
	return &GormDecisionRepository{db: db}
}

// Save inserts the decision and reports false when the event was already decided
func (r *GormDecisionRepository) Save(ctx context.Context, d *points.Decision) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(models.DecisionModelFromDomain(d))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Find loads the stored decision for an event
func (r *GormDecisionRepository) Find(ctx context.Context, userID string, eventType points.EventType, bizID string) (*points.Decision, error) {
	var model models.DecisionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND event_type = ? AND biz_id = ?", userID, eventType, bizID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll pages through decisions matching the filter
func (r *GormDecisionRepository) FindAll(ctx context.Context, filter points.DecisionFilter) ([]points.Decision, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.DecisionModel{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.EventType != nil {
		query = query.Where("event_type = ?", *filter.EventType)
	}
	if filter.Outcome != nil {
		query = query.Where("outcome = ?", *filter.Outcome)
	}
	if filter.Review != nil {
		query = query.Where("review = ?", *filter.Review)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at < ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.DecisionModel
	if err := applyPage(query, filter.Filter, DecisionSortFields, "created_at").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]points.Decision, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, total, nil
}

// CountByOutcomeSince groups decisions created at or after since by outcome
func (r *GormDecisionRepository) CountByOutcomeSince(ctx context.Context, since time.Time) (map[points.Outcome]int64, error) {
	var rows []struct {
		Outcome points.Outcome
		Total   int64
	}
	err := r.db.WithContext(ctx).Model(&models.DecisionModel{}).
		Select("outcome, COUNT(*) AS total").
		Where("created_at >= ?", since).
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[points.Outcome]int64, len(rows))
	for _, row := range rows {
		out[row.Outcome] = row.Total
	}
	return out, nil
}

var _ points.EvaluationRepository = (*GormDecisionRepository)(nil)
