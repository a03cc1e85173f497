package event

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultClaimLease is how long a delivering entry belongs to the processor that claimed it
const DefaultClaimLease = 5 * time.Minute

// GormOutboxRepository stores outbox entries in outbox_events
type GormOutboxRepository struct {
	db    *gorm.DB
	lease time.Duration
}

func NewGormOutboxRepository(db *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: db, lease: DefaultClaimLease}
}

// WithTx binds the repository to a transaction
func (r *GormOutboxRepository) WithTx(tx *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: tx, lease: r.lease}
}

// WithLease changes when abandoned deliveries become claimable again
func (r *GormOutboxRepository) WithLease(d time.Duration) *GormOutboxRepository {
	return &GormOutboxRepository{db: r.db, lease: d}
}

func (r *GormOutboxRepository) Save(ctx context.Context, entries ...*shared.OutboxEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]*models.OutboxEntryModel, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, models.OutboxEntryModelFromDomain(e))
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// ClaimDue locks deliverable rows with SKIP LOCKED, so concurrent processors
// split the backlog instead of waiting on each other
func (r *GormOutboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*shared.OutboxEntry, error) {
	var claimed []*shared.OutboxEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.OutboxEntryModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(status IN ? AND available_at <= ?) OR (status = ? AND updated_at <= ?)",
				[]shared.OutboxStatus{shared.OutboxPending, shared.OutboxRetrying}, now,
				shared.OutboxDelivering, now.Add(-r.lease)).
			Order("available_at").Order("created_at").
			Limit(limit).
			Find(&rows).Error
		if err != nil || len(rows) == 0 {
			return err
		}

		ids := make([]uuid.UUID, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		if err := tx.Model(&models.OutboxEntryModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{"status": shared.OutboxDelivering, "updated_at": now}).Error; err != nil {
			return err
		}

		claimed = make([]*shared.OutboxEntry, len(rows))
		for i := range rows {
			e := rows[i].ToDomain()
			e.Status = shared.OutboxDelivering
			e.UpdatedAt = now
			claimed[i] = e
		}
		return nil
	})
	return claimed, err
}

// Update writes the delivery state of an entry back
func (r *GormOutboxRepository) Update(ctx context.Context, entry *shared.OutboxEntry) error {
	return r.db.WithContext(ctx).Save(models.OutboxEntryModelFromDomain(entry)).Error
}

// PurgeDelivered removes entries delivered before the cutoff
func (r *GormOutboxRepository) PurgeDelivered(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND delivered_at < ?", shared.OutboxDelivered, before).
		Delete(&models.OutboxEntryModel{})
	return res.RowsAffected, res.Error
}

// FindParked pages through parked entries, most recently parked first
func (r *GormOutboxRepository) FindParked(ctx context.Context, page, pageSize int) ([]*shared.OutboxEntry, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.OutboxEntryModel{}).
		Where("status = ?", shared.OutboxParked).
		Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.OutboxEntryModel
	if err := q.Order("updated_at DESC").Order("id").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*shared.OutboxEntry, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, total, nil
}

func (r *GormOutboxRepository) FindByID(ctx context.Context, id uuid.UUID) (*shared.OutboxEntry, error) {
	var row models.OutboxEntryModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// RequeueParked moves every parked entry back to pending in one statement
func (r *GormOutboxRepository) RequeueParked(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxEntryModel{}).
		Where("status = ?", shared.OutboxParked).
		Updates(map[string]any{
			"status":       shared.OutboxPending,
			"attempts":     0,
			"last_error":   "",
			"available_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

// CountByStatus counts entries per status; statuses without rows are absent
func (r *GormOutboxRepository) CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error) {
	var rows []struct {
		Status shared.OutboxStatus
		N      int64
	}
	if err := r.db.WithContext(ctx).Model(&models.OutboxEntryModel{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[shared.OutboxStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}

var _ shared.OutboxRepository = (*GormOutboxRepository)(nil)
