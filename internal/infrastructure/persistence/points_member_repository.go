package persistence

import (
	"context"
	"errors"

	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormMemberRepository implements points.MemberRepository using GORM
type GormMemberRepository struct {
	db *gorm.DB
}

// NewGormMemberRepository creates a new GormMemberRepository
func NewGormMemberRepository(db *gorm.DB) *GormMemberRepository {
	return &GormMemberRepository{db: db}
}

// FindByUserID finds a member snapshot
func (r *GormMemberRepository) FindByUserID(ctx context.Context, userID string) (*points.Member, error) {
	var model models.MemberModel
	if err := r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save upserts a member snapshot by user id
func (r *GormMemberRepository) Save(ctx context.Context, member *points.Member) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"level", "tags", "registered_at", "first_order_at", "referrer_id", "updated_at",
		}),
	}).Create(models.MemberModelFromDomain(member)).Error
}

// CountAudience counts members at or above minLevel; nil counts everyone
func (r *GormMemberRepository) CountAudience(ctx context.Context, minLevel *int) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.MemberModel{}).Scopes(atLeastLevel(minLevel)).Count(&count).Error
	return count, err
}

// ListUserIDs pages through the audience in user id order, starting after afterUserID
func (r *GormMemberRepository) ListUserIDs(ctx context.Context, minLevel *int, afterUserID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	query := r.db.WithContext(ctx).Model(&models.MemberModel{}).Scopes(atLeastLevel(minLevel))
	if afterUserID != "" {
		query = query.Where("user_id > ?", afterUserID)
	}
	var ids []string
	if err := query.Order("user_id ASC").Limit(limit).Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func atLeastLevel(minLevel *int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if minLevel == nil {
			return db
		}
		return db.Where("level >= ?", *minLevel)
	}
}

var _ points.MemberRepository = (*GormMemberRepository)(nil)
