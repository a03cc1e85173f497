package persistence

import (
	"context"

	apppoints "github.com/loyalty/points/internal/application/points"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"gorm.io/gorm"
)

// GormTransactionScope implements TransactionScope using GORM transactions.
// It provides atomic execution of multiple repository operations.
type GormTransactionScope struct {
	db          *gorm.DB
	outboxSaver shared.OutboxEventSaver
}

// NewGormTransactionScope creates a new GormTransactionScope. outboxSaver may be nil,
// in which case domain events are dropped.
func NewGormTransactionScope(db *gorm.DB, outboxSaver shared.OutboxEventSaver) *GormTransactionScope {
	return &GormTransactionScope{db: db, outboxSaver: outboxSaver}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// If the function succeeds, the transaction is committed.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos apppoints.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx, outboxSaver: s.outboxSaver})
	})
}

// gormTransactionalRepositories provides access to all repositories within a transaction.
type gormTransactionalRepositories struct {
	tx          *gorm.DB
	outboxSaver shared.OutboxEventSaver
}

func (r *gormTransactionalRepositories) LedgerRepo() points.LedgerRepository {
	return NewGormLedgerRepository(r.tx)
}

func (r *gormTransactionalRepositories) CounterStore() points.CounterStore {
	return NewGormCounterStore(r.tx)
}

func (r *gormTransactionalRepositories) CampaignRepo() points.CampaignRepository {
	return NewGormCampaignRepository(r.tx)
}

func (r *gormTransactionalRepositories) DecisionRepo() points.EvaluationRepository {
	return NewGormDecisionRepository(r.tx)
}

func (r *gormTransactionalRepositories) GrantTaskRepo() points.GrantTaskRepository {
	return NewGormGrantTaskRepository(r.tx)
}

func (r *gormTransactionalRepositories) MemberRepo() points.MemberRepository {
	return NewGormMemberRepository(r.tx)
}

func (r *gormTransactionalRepositories) BlacklistRepo() points.BlacklistRepository {
	return NewGormBlacklistRepository(r.tx)
}

// SaveEvents writes the events to the outbox with the transaction handle
func (r *gormTransactionalRepositories) SaveEvents(ctx context.Context, events ...shared.DomainEvent) error {
	if r.outboxSaver == nil || len(events) == 0 {
		return nil
	}
	return r.outboxSaver.SaveEvents(ctx, r.tx, events...)
}

// Ensure GormTransactionScope implements TransactionScope
var _ apppoints.TransactionScope = (*GormTransactionScope)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ apppoints.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
