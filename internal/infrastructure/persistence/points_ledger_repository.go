package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errDuplicateAppend rolls back the append savepoint when a row was already present
var errDuplicateAppend = errors.New("ledger append hit an existing row")

// GormLedgerRepository implements points.LedgerRepository using GORM.
// Rows are only ever inserted.
type GormLedgerRepository struct {
	db *gorm.DB
}

// NewGormLedgerRepository creates a new GormLedgerRepository
func NewGormLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

// Append inserts all rows or none. Existing rows are detected through the dedup
// unique index, so concurrent replays of the same event cannot both commit.
func (r *GormLedgerRepository) Append(ctx context.Context, rows ...*points.LedgerRow) (points.AppendResult, error) {
	if len(rows) == 0 {
		return points.AppendCommitted, nil
	}
	batch := make([]*models.LedgerRowModel, len(rows))
	for i, row := range rows {
		batch[i] = models.LedgerRowModelFromDomain(row)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&batch)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected < int64(len(batch)) {
			return errDuplicateAppend
		}
		return nil
	})
	switch {
	case errors.Is(err, errDuplicateAppend):
		return points.AppendDuplicate, nil
	case err != nil:
		return points.AppendFailed, err
	}
	return points.AppendCommitted, nil
}

// Balance projects the user's rows into usable and frozen totals
func (r *GormLedgerRepository) Balance(ctx context.Context, userID string) (points.Balance, error) {
	var totals struct {
		Usable int64
		Frozen int64
	}
	err := r.db.WithContext(ctx).Model(&models.LedgerRowModel{}).
		Select("CAST(COALESCE(SUM(amount), 0) AS BIGINT) AS usable, "+
			"CAST(COALESCE(SUM(CASE WHEN type IN (?) THEN -amount ELSE 0 END), 0) AS BIGINT) AS frozen",
			[]points.LedgerType{points.LedgerFreeze, points.LedgerUnfreeze}).
		Where("user_id = ?", userID).
		Scan(&totals).Error
	if err != nil {
		return points.Balance{}, err
	}
	return points.Balance{UserID: userID, Usable: totals.Usable, Frozen: totals.Frozen}, nil
}

// FindByID finds a ledger row by its ID
func (r *GormLedgerRepository) FindByID(ctx context.Context, id uuid.UUID) (*points.LedgerRow, error) {
	var model models.LedgerRowModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll pages through rows matching the filter
func (r *GormLedgerRepository) FindAll(ctx context.Context, filter points.LedgerFilter) ([]points.LedgerRow, int64, error) {
	query := r.filtered(r.db.WithContext(ctx).Model(&models.LedgerRowModel{}), filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.LedgerRowModel
	if err := applyPage(query, filter.Filter, LedgerSortFields, "created_at").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]points.LedgerRow, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, total, nil
}

// Stream walks every matching row in creation order using keyset pagination,
// so large exports never hold more than one batch in memory.
func (r *GormLedgerRepository) Stream(ctx context.Context, filter points.LedgerFilter, batchSize int, fn func([]points.LedgerRow) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	var last *models.LedgerRowModel
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		query := r.filtered(r.db.WithContext(ctx).Model(&models.LedgerRowModel{}), filter)
		if last != nil {
			query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", last.CreatedAt, last.CreatedAt, last.ID)
		}
		var rows []models.LedgerRowModel
		if err := query.Order("created_at ASC").Order("id ASC").Limit(batchSize).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		batch := make([]points.LedgerRow, len(rows))
		for i := range rows {
			batch[i] = *rows[i].ToDomain()
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(rows) < batchSize {
			return nil
		}
		last = &rows[len(rows)-1]
	}
}

// ExistsByBiz reports whether the user already has a row of type t for bizID
func (r *GormLedgerRepository) ExistsByBiz(ctx context.Context, userID, bizID string, t points.LedgerType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LedgerRowModel{}).
		Where("user_id = ? AND biz_id = ? AND type = ?", userID, bizID, t).
		Limit(1).Count(&count).Error
	return count > 0, err
}

// CountByRule counts rows attributed to a rule
func (r *GormLedgerRepository) CountByRule(ctx context.Context, ruleID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LedgerRowModel{}).Where("rule_id = ?", ruleID).Count(&count).Error
	return count, err
}

// DailyTotals aggregates issued and redeemed points per business day, both bounds inclusive
func (r *GormLedgerRepository) DailyTotals(ctx context.Context, fromDate, toDate string) ([]points.DailyTotal, error) {
	var rows []struct {
		BizDate     string
		Issued      int64
		Redeemed    int64
		ActiveUsers int64
	}
	err := r.db.WithContext(ctx).Model(&models.LedgerRowModel{}).
		Select("biz_date, "+
			"CAST(COALESCE(SUM(CASE WHEN type IN (?) THEN amount ELSE 0 END), 0) AS BIGINT) AS issued, "+
			"CAST(COALESCE(SUM(CASE WHEN type = ? THEN -amount ELSE 0 END), 0) AS BIGINT) AS redeemed, "+
			"COUNT(DISTINCT user_id) AS active_users",
			[]points.LedgerType{points.LedgerEarn, points.LedgerBonus, points.LedgerCommission},
			points.LedgerRedeem).
		Where("biz_date BETWEEN ? AND ?", fromDate, toDate).
		Group("biz_date").
		Order("biz_date ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]points.DailyTotal, len(rows))
	for i, row := range rows {
		out[i] = points.DailyTotal{
			BizDate:     row.BizDate,
			Issued:      row.Issued,
			Redeemed:    row.Redeemed,
			ActiveUsers: row.ActiveUsers,
		}
	}
	return out, nil
}

func (r *GormLedgerRepository) filtered(query *gorm.DB, filter points.LedgerFilter) *gorm.DB {
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.BizID != "" {
		query = query.Where("biz_id = ?", filter.BizID)
	}
	if filter.RuleID != nil {
		query = query.Where("rule_id = ?", *filter.RuleID)
	}
	if filter.CampaignID != nil {
		query = query.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at < ?", *filter.To)
	}
	return query
}

var _ points.LedgerRepository = (*GormLedgerRepository)(nil)
