package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBlacklistRepository implements points.BlacklistRepository using GORM
type GormBlacklistRepository struct {
	db *gorm.DB
}

// NewGormBlacklistRepository creates a new GormBlacklistRepository
func NewGormBlacklistRepository(db *gorm.DB) *GormBlacklistRepository {
	return &GormBlacklistRepository{db: db}
}

// Add stores an entry; a second entry for the same user and event type is ignored
func (r *GormBlacklistRepository) Add(ctx context.Context, entry *points.BlacklistEntry) error {
	model := models.BlacklistModel{
		ID:         entry.ID,
		UserID:     entry.UserID,
		EventType:  entry.EventType,
		RiskRuleID: entry.RiskRuleID,
		Reason:     entry.Reason,
		CreatedAt:  entry.CreatedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// IsBlacklisted matches entries for t and for every event type
func (r *GormBlacklistRepository) IsBlacklisted(ctx context.Context, userID string, t points.EventType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.BlacklistModel{}).
		Where("user_id = ? AND event_type IN ?", userID, []points.EventType{t, points.EventAll}).
		Count(&count).Error
	return count > 0, err
}

// FindByUser lists a user's entries, newest first
func (r *GormBlacklistRepository) FindByUser(ctx context.Context, userID string) ([]points.BlacklistEntry, error) {
	var rows []models.BlacklistModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]points.BlacklistEntry, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

// Remove deletes an entry
func (r *GormBlacklistRepository) Remove(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.BlacklistModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ points.BlacklistRepository = (*GormBlacklistRepository)(nil)
