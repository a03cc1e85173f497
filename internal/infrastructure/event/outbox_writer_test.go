package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loyalty/points/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestWriter(maxAttempts int) *OutboxWriter {
	s := NewEventSerializer()
	s.Register("points.awarded", &testEvent{})
	return NewOutboxWriter(s, maxAttempts)
}

func claimAll(t *testing.T, db *gorm.DB) []*shared.OutboxEntry {
	t.Helper()
	entries, err := NewGormOutboxRepository(db).ClaimDue(context.Background(), time.Now().Add(time.Second), 100)
	require.NoError(t, err)
	return entries
}

func TestOutboxWriter_WritesWithTransaction(t *testing.T) {
	db := setupOutboxDB(t)
	w := newTestWriter(3)
	ctx := context.Background()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return w.Write(ctx, tx, newTestEvent("points.awarded"), newTestEvent("points.awarded"))
	}))

	entries := claimAll(t, db)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, 3, e.MaxAttempts)
		assert.Equal(t, "TestAggregate", e.AggregateType)
		assert.Contains(t, string(e.Payload), `"data":"test data"`)
	}
}

func TestOutboxWriter_RollbackDiscardsEvents(t *testing.T) {
	db := setupOutboxDB(t)
	w := newTestWriter(0)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := w.Write(ctx, tx, newTestEvent("points.awarded")); err != nil {
			return err
		}
		return errors.New("ledger append failed")
	})
	require.Error(t, err)
	assert.Empty(t, claimAll(t, db))
}

func TestOutboxWriter_SaveEvents(t *testing.T) {
	db := setupOutboxDB(t)
	w := newTestWriter(0)
	ctx := context.Background()

	t.Run("requires a gorm transaction", func(t *testing.T) {
		err := w.SaveEvents(ctx, "not a tx", newTestEvent("points.awarded"))
		assert.ErrorContains(t, err, "*gorm.DB")
	})

	t.Run("no events is a no-op", func(t *testing.T) {
		assert.NoError(t, w.SaveEvents(ctx, nil))
	})

	t.Run("unregistered events still serialize", func(t *testing.T) {
		require.NoError(t, w.SaveEvents(ctx, db, newTestEvent("points.other")))
		entries := claimAll(t, db)
		require.Len(t, entries, 1)
		assert.Equal(t, shared.DefaultRetryPolicy.MaxAttempts, entries[0].MaxAttempts)
	})
}
