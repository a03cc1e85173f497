package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	apppoints "github.com/loyalty/points/internal/application/points"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingOutboxSaver struct {
	saved []shared.DomainEvent
	tx    any
}

func (s *recordingOutboxSaver) SaveEvents(_ context.Context, txProvider any, events ...shared.DomainEvent) error {
	s.tx = txProvider
	s.saved = append(s.saved, events...)
	return nil
}

func TestGormTransactionScope_CommitsTogether(t *testing.T) {
	db := setupPointsTestDB(t)
	saver := &recordingOutboxSaver{}
	scope := NewGormTransactionScope(db, saver)
	ctx := context.Background()
	at := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)

	task := newTestGrantTask(t, points.GrantAdd, "u1")
	event := shared.NewBaseDomainEvent(points.EventTypeGrantTaskFinished, points.AggregateGrantTask, task.ID)

	err := scope.Execute(ctx, func(repos apppoints.TransactionalRepositories) error {
		if err := repos.GrantTaskRepo().Create(ctx, task); err != nil {
			return err
		}
		row := newTestLedgerRow(t, "u1", points.LedgerBonus, 50, task.BizID(), at)
		if _, err := repos.LedgerRepo().Append(ctx, row); err != nil {
			return err
		}
		if err := repos.GrantTaskRepo().IncrementSuccess(ctx, task.ID); err != nil {
			return err
		}
		return repos.SaveEvents(ctx, &event)
	})
	require.NoError(t, err)

	stored, err := NewGormGrantTaskRepository(db).FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.SuccessCount)
	balance, err := NewGormLedgerRepository(db).Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Usable)

	require.Len(t, saver.saved, 1)
	_, isTx := saver.tx.(*gorm.DB)
	assert.True(t, isTx, "events are written with the transaction handle")
}

func TestGormTransactionScope_RollsBackEverything(t *testing.T) {
	db := setupPointsTestDB(t)
	scope := NewGormTransactionScope(db, nil)
	ctx := context.Background()
	campaignID := uuid.New()

	err := scope.Execute(ctx, func(repos apppoints.TransactionalRepositories) error {
		if err := repos.CounterStore().Add(ctx, points.CampaignTotalKey(campaignID), 30, time.Now()); err != nil {
			return err
		}
		row := newTestLedgerRow(t, "u1", points.LedgerEarn, 30, "order-1", time.Now())
		if _, err := repos.LedgerRepo().Append(ctx, row); err != nil {
			return err
		}
		return shared.ErrInsufficientBalance
	})
	assert.ErrorIs(t, err, shared.ErrInsufficientBalance)

	balance, err := NewGormLedgerRepository(db).Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, balance.Usable)
	counters, err := NewGormCounterStore(db).Get(ctx, []points.CounterKey{points.CampaignTotalKey(campaignID)})
	require.NoError(t, err)
	assert.Empty(t, counters)
}

func TestGormTransactionScope_NilSaverDropsEvents(t *testing.T) {
	db := setupPointsTestDB(t)
	scope := NewGormTransactionScope(db, nil)
	event := shared.NewBaseDomainEvent(points.EventTypeGrantTaskFinished, points.AggregateGrantTask, uuid.New())

	err := scope.Execute(context.Background(), func(repos apppoints.TransactionalRepositories) error {
		return repos.SaveEvents(context.Background(), &event)
	})
	assert.NoError(t, err)
}
