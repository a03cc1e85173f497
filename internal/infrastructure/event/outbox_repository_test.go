package event

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.OutboxEntryModel{}))
	return db
}

func newTestEntry(eventType string, maxAttempts int) *shared.OutboxEntry {
	return shared.NewOutboxEntry(newTestEvent(eventType), []byte(`{"data":"x"}`), maxAttempts)
}

func TestGormOutboxRepository_ClaimDueOrdersAndClaimsOnce(t *testing.T) {
	repo := NewGormOutboxRepository(setupOutboxDB(t))
	ctx := context.Background()
	now := time.Now().Add(time.Second)

	later := newTestEntry("points.awarded", 0)
	earlier := newTestEntry("points.risk_blocked", 0)
	earlier.AvailableAt = time.Now().Add(-time.Minute)
	future := newTestEntry("points.awarded", 0)
	future.AvailableAt = now.Add(time.Hour)
	require.NoError(t, repo.Save(ctx, later, earlier, future))
	require.NoError(t, repo.Save(ctx))

	claimed, err := repo.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, earlier.ID, claimed[0].ID, "earliest available first")
	assert.Equal(t, later.ID, claimed[1].ID)
	assert.Equal(t, shared.OutboxDelivering, claimed[0].Status)
	assert.Equal(t, []byte(`{"data":"x"}`), claimed[0].Payload)

	again, err := repo.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed entries are leased")

	stored, err := repo.FindByID(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.OutboxDelivering, stored.Status)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormOutboxRepository_ExpiredLeaseIsReclaimed(t *testing.T) {
	repo := NewGormOutboxRepository(setupOutboxDB(t)).WithLease(time.Minute)
	ctx := context.Background()
	now := time.Now().Add(time.Second)

	entry := newTestEntry("points.awarded", 0)
	require.NoError(t, repo.Save(ctx, entry))
	claimed, err := repo.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	held, err := repo.ClaimDue(ctx, now.Add(30*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, held)

	reclaimed, err := repo.ClaimDue(ctx, now.Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, entry.ID, reclaimed[0].ID)
}

func TestGormOutboxRepository_ParkAndRequeue(t *testing.T) {
	repo := NewGormOutboxRepository(setupOutboxDB(t))
	ctx := context.Background()
	now := time.Now().Add(time.Second)
	policy := shared.RetryPolicy{BaseDelay: time.Minute}

	parked := make([]*shared.OutboxEntry, 3)
	for i := range parked {
		parked[i] = newTestEntry("points.awarded", 1)
	}
	retrying := newTestEntry("points.awarded", 3)
	require.NoError(t, repo.Save(ctx, append(parked, retrying)...))

	claimed, err := repo.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 4)
	for _, e := range claimed {
		e.Failed(now, errors.New("bus down"), policy)
		require.NoError(t, repo.Update(ctx, e))
	}

	page, total, err := repo.FindParked(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, page, 2)
	assert.Equal(t, "bus down", page[0].LastError)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[shared.OutboxParked])
	assert.Equal(t, int64(1), counts[shared.OutboxRetrying])

	n, err := repo.RequeueParked(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	requeued, err := repo.FindByID(ctx, parked[0].ID)
	require.NoError(t, err)
	assert.Equal(t, shared.OutboxPending, requeued.Status)
	assert.Zero(t, requeued.Attempts)
	assert.Empty(t, requeued.LastError)

	due, err := repo.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Len(t, due, 3, "the retrying entry waits for its backoff")
}

func TestGormOutboxRepository_PurgeDelivered(t *testing.T) {
	repo := NewGormOutboxRepository(setupOutboxDB(t))
	ctx := context.Background()

	old := newTestEntry("points.awarded", 0)
	old.Delivered(time.Now().Add(-48 * time.Hour))
	fresh := newTestEntry("points.awarded", 0)
	fresh.Delivered(time.Now())
	pending := newTestEntry("points.awarded", 0)
	require.NoError(t, repo.Save(ctx, old, fresh, pending))

	purged, err := repo.PurgeDelivered(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = repo.FindByID(ctx, old.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormOutboxRepository_SaveUsesPostgresInsert(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO "outbox_events"`).WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewGormOutboxRepository(db).WithTx(db)
	require.NoError(t, repo.Save(context.Background(), newTestEntry("points.awarded", 0)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
