package persistence

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupPointsTestDB opens a private in-memory sqlite database with every points table.
// One connection keeps the memory database alive and mirrors a single writer.
func setupPointsTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

func newTestRule(t *testing.T, name string, reward int64, mutate ...func(*points.RuleDefinition)) *points.PointsRule {
	t.Helper()
	def := points.RuleDefinition{
		Name:        name,
		EventType:   points.EventOrderPaid,
		RewardMode:  points.RewardFixed,
		RewardValue: decimal.NewFromInt(reward),
	}
	for _, fn := range mutate {
		fn(&def)
	}
	rule, err := points.NewPointsRule(def, points.StatusEnabled)
	require.NoError(t, err)
	return rule
}

func newTestLedgerRow(t *testing.T, userID string, typ points.LedgerType, amount int64, bizID string, at time.Time) *points.LedgerRow {
	t.Helper()
	row, err := points.NewLedgerRow(userID, typ, amount, "test", bizID, at, time.UTC)
	require.NoError(t, err)
	return row
}
