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

// GormGrantTaskRepository implements points.GrantTaskRepository using GORM
type GormGrantTaskRepository struct {
	db *gorm.DB
}

// NewGormGrantTaskRepository creates a new GormGrantTaskRepository
func NewGormGrantTaskRepository(db *gorm.DB) *GormGrantTaskRepository {
	return &GormGrantTaskRepository{db: db}
}

// Create stores a new task before any of its ledger rows
func (r *GormGrantTaskRepository) Create(ctx context.Context, task *points.GrantTask) error {
	return r.db.WithContext(ctx).Create(models.GrantTaskModelFromDomain(task)).Error
}

// FindByID finds a task by its ID
func (r *GormGrantTaskRepository) FindByID(ctx context.Context, id uuid.UUID) (*points.GrantTask, error) {
	var model models.GrantTaskModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists tasks matching the filter with the total count
func (r *GormGrantTaskRepository) FindAll(ctx context.Context, filter points.GrantTaskFilter) ([]points.GrantTask, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.GrantTaskModel{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.GrantType != nil {
		query = query.Where("grant_type = ?", *filter.GrantType)
	}
	if filter.Operator != "" {
		query = query.Where("operator = ?", filter.Operator)
	}
	if filter.Search != "" {
		like := "%" + escapeLike(filter.Search) + "%"
		query = query.Where(`(reason_code LIKE ? ESCAPE '\' OR remark LIKE ? ESCAPE '\')`, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.GrantTaskModel
	if err := applyPage(query, filter.Filter, GrantTaskSortFields, "created_at").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]points.GrantTask, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, total, nil
}

// IncrementSuccess bumps success_count. Run it in the transaction that appends the
// target's ledger row so the count never drifts from the committed rows.
func (r *GormGrantTaskRepository) IncrementSuccess(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Model(&models.GrantTaskModel{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"success_count": gorm.Expr("success_count + 1"),
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SaveProgress persists everything but success_count
func (r *GormGrantTaskRepository) SaveProgress(ctx context.Context, task *points.GrantTask) error {
	model := models.GrantTaskModelFromDomain(task)
	result := r.db.WithContext(ctx).Model(&models.GrantTaskModel{}).
		Where("id = ?", task.ID).
		Select("*").Omit("id", "created_at", "success_count").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindUnfinished lists tasks that never reached a terminal state, oldest first
func (r *GormGrantTaskRepository) FindUnfinished(ctx context.Context, limit int) ([]points.GrantTask, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.GrantTaskModel
	err := r.db.WithContext(ctx).
		Where("finished_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]points.GrantTask, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

var _ points.GrantTaskRepository = (*GormGrantTaskRepository)(nil)
