package points_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	app "github.com/loyalty/points/internal/application/points"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/infrastructure/cache"
	"github.com/loyalty/points/internal/infrastructure/persistence"
	"github.com/loyalty/points/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// harness wires the services to real repositories on a private sqlite database
type harness struct {
	db        *gorm.DB
	rules     *persistence.GormRuleRepository
	campaigns *persistence.GormCampaignRepository
	riskRules *persistence.GormRiskRuleRepository
	ledgerDB  *persistence.GormLedgerRepository
	decisions *persistence.GormDecisionRepository
	blacklist *persistence.GormBlacklistRepository
	members   *persistence.GormMemberRepository
	tasks     *persistence.GormGrantTaskRepository

	txScope      app.TransactionScope
	riskCounters *cache.InMemoryRiskCounterStore

	engine *app.EngineService
	ledger *app.LedgerService
	grants *app.GrantService
}

func newHarness(t *testing.T) *harness {
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

	h := &harness{
		db:        db,
		rules:     persistence.NewGormRuleRepository(db),
		campaigns: persistence.NewGormCampaignRepository(db),
		riskRules: persistence.NewGormRiskRuleRepository(db),
		ledgerDB:  persistence.NewGormLedgerRepository(db),
		decisions: persistence.NewGormDecisionRepository(db),
		blacklist: persistence.NewGormBlacklistRepository(db),
		members:   persistence.NewGormMemberRepository(db),
		tasks:     persistence.NewGormGrantTaskRepository(db),
	}
	txScope := persistence.NewGormTransactionScope(db, nil)
	h.txScope = txScope
	h.riskCounters = cache.NewInMemoryRiskCounterStore()
	t.Cleanup(func() { _ = h.riskCounters.Close() })

	h.engine = h.newEngine(txScope)
	h.ledger = app.NewLedgerService(h.ledgerDB, txScope, time.UTC)
	h.grants = app.NewGrantService(h.tasks, h.members, txScope, app.GrantConfig{BatchSize: 2, MaxConcurrent: 1, Location: time.UTC})
	t.Cleanup(func() { _ = h.grants.Stop(context.Background()) })
	return h
}

// newEngine builds an engine on the harness stores with its own transaction scope
func (h *harness) newEngine(txScope app.TransactionScope) *app.EngineService {
	return app.NewEngineService(h.rules, h.campaigns, h.riskRules, h.members, h.decisions,
		h.blacklist, h.riskCounters, txScope, app.EngineConfig{Location: time.UTC})
}

func (h *harness) rule(t *testing.T, name string, reward int64, mutate ...func(*points.RuleDefinition)) *points.PointsRule {
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
	require.NoError(t, h.rules.Save(context.Background(), rule))
	return rule
}

func (h *harness) campaign(t *testing.T, def points.CampaignDefinition) *points.PointsCampaign {
	t.Helper()
	campaign, err := points.NewPointsCampaign(def, points.StatusEnabled)
	require.NoError(t, err)
	require.NoError(t, h.campaigns.Save(context.Background(), campaign))
	return campaign
}

func (h *harness) riskRule(t *testing.T, def points.RiskDefinition) *points.PointsRiskRule {
	t.Helper()
	rule, err := points.NewPointsRiskRule(def, points.StatusEnabled)
	require.NoError(t, err)
	require.NoError(t, h.riskRules.Save(context.Background(), rule))
	return rule
}

// credit writes an earn row directly so a user has a usable balance
func (h *harness) credit(t *testing.T, userID string, amount int64) {
	t.Helper()
	row, err := points.NewLedgerRow(userID, points.LedgerEarn, amount, "seed", "seed-"+uuid.NewString(), time.Now(), time.UTC)
	require.NoError(t, err)
	res, err := h.ledgerDB.Append(context.Background(), row)
	require.NoError(t, err)
	require.Equal(t, points.AppendCommitted, res)
}

func (h *harness) rows(t *testing.T, filter points.LedgerFilter) []points.LedgerRow {
	t.Helper()
	filter.Filter.Page = 1
	filter.Filter.PageSize = 100
	rows, _, err := h.ledgerDB.FindAll(context.Background(), filter)
	require.NoError(t, err)
	return rows
}

func sumAmounts(rows []points.LedgerRow) int64 {
	var total int64
	for _, r := range rows {
		total += r.Amount
	}
	return total
}

var baseTime = time.Date(2026, 5, 6, 10, 0, 0, 0, time.UTC)

func orderPaid(userID, bizID string, at time.Time) app.EvaluateInput {
	amount := decimal.NewFromInt(199)
	return app.EvaluateInput{
		BizID:       bizID,
		EventType:   points.EventOrderPaid,
		UserID:      userID,
		Channel:     "app",
		DeviceID:    "device-" + userID,
		IP:          "10.0.0.1",
		OccurredAt:  at,
		OrderAmount: &amount,
	}
}
