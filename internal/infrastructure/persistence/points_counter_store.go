package persistence

import (
	"context"
	"slices"
	"time"

	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCounterStore implements points.CounterStore on points_counters.
// Each contention key is one row; locking a key is a row lock, so events that
// share no key never wait on each other.
type GormCounterStore struct {
	db *gorm.DB
}

// NewGormCounterStore creates a new GormCounterStore
func NewGormCounterStore(db *gorm.DB) *GormCounterStore {
	return &GormCounterStore{db: db}
}

// Lock seeds missing keys at zero and takes row locks in sorted key order.
// Sorting keeps two transactions that need overlapping keys from deadlocking.
func (s *GormCounterStore) Lock(ctx context.Context, keys []points.CounterKey) (map[points.CounterKey]*points.Counter, error) {
	sorted := sortedKeys(keys)
	if len(sorted) == 0 {
		return map[points.CounterKey]*points.Counter{}, nil
	}
	db := s.db.WithContext(ctx)

	now := time.Now()
	seed := make([]models.CounterModel, len(sorted))
	for i, k := range sorted {
		seed[i] = models.CounterModel{Key: k, UpdatedAt: now}
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}

	var rows []models.CounterModel
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("counter_key IN ?", sorted).
		Order("counter_key ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toCounters(rows), nil
}

// Add increments a counter, creating it when missing, and stamps LastAt
func (s *GormCounterStore) Add(ctx context.Context, key points.CounterKey, delta int64, at time.Time) error {
	row := models.CounterModel{Key: string(key), Value: delta, LastAt: &at, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "counter_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      gorm.Expr("points_counters.value + excluded.value"),
			"last_at":    gorm.Expr("excluded.last_at"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&row).Error
}

// Get reads counters without locking
func (s *GormCounterStore) Get(ctx context.Context, keys []points.CounterKey) (map[points.CounterKey]*points.Counter, error) {
	sorted := sortedKeys(keys)
	if len(sorted) == 0 {
		return map[points.CounterKey]*points.Counter{}, nil
	}
	var rows []models.CounterModel
	if err := s.db.WithContext(ctx).Where("counter_key IN ?", sorted).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toCounters(rows), nil
}

// PruneDayScoped deletes day-scoped counters untouched since before
func (s *GormCounterStore) PruneDayScoped(ctx context.Context, before time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Where("updated_at < ?", before)
	cond := s.db.Where("1 = 0")
	for _, prefix := range points.DayScopedKeyPrefixes() {
		cond = cond.Or("counter_key LIKE ?", prefix+"%")
	}
	result := q.Where(cond).Delete(&models.CounterModel{})
	return result.RowsAffected, result.Error
}

func sortedKeys(keys []points.CounterKey) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, string(k))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func toCounters(rows []models.CounterModel) map[points.CounterKey]*points.Counter {
	out := make(map[points.CounterKey]*points.Counter, len(rows))
	for _, row := range rows {
		out[points.CounterKey(row.Key)] = &points.Counter{
			Key:    points.CounterKey(row.Key),
			Value:  row.Value,
			LastAt: row.LastAt,
		}
	}
	return out
}

var _ points.CounterStore = (*GormCounterStore)(nil)
