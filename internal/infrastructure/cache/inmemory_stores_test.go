package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/loyalty/points/internal/domain/points"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyStore(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()
	ctx := context.Background()

	isNew, err := store.MarkProcessed(ctx, "points.awarded:1", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = store.MarkProcessed(ctx, "points.awarded:1", time.Hour)
	require.NoError(t, err)
	assert.False(t, isNew)

	processed, err := store.IsProcessed(ctx, "points.awarded:1")
	require.NoError(t, err)
	assert.True(t, processed)
	processed, err = store.IsProcessed(ctx, "points.awarded:2")
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Equal(t, 1, store.Size())
}

func TestInMemoryIdempotencyStore_ConcurrentMarks(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := store.MarkProcessed(context.Background(), "same", time.Hour)
			if ok {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fresh)
}

func TestInMemoryBalanceCache(t *testing.T) {
	c := NewInMemoryBalanceCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	got, gen, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, int64(0), gen)

	require.NoError(t, c.Set(ctx, points.Balance{UserID: "u1", Usable: 10, Frozen: 5}, gen))
	require.NoError(t, c.Set(ctx, points.Balance{UserID: "u2", Usable: 1}, 0))
	got, _, err = c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, &points.Balance{UserID: "u1", Usable: 10, Frozen: 5}, got)

	require.NoError(t, c.Invalidate(ctx, "u1", "u2"))
	got, gen, err = c.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, int64(1), gen)

	t.Run("write read before an invalidation is dropped", func(t *testing.T) {
		_, readGen, err := c.Get(ctx, "u3")
		require.NoError(t, err)
		require.NoError(t, c.Invalidate(ctx, "u3"))
		require.NoError(t, c.Set(ctx, points.Balance{UserID: "u3", Usable: 1}, readGen))

		got, gen, err := c.Get(ctx, "u3")
		require.NoError(t, err)
		assert.Nil(t, got)
		require.NoError(t, c.Set(ctx, points.Balance{UserID: "u3", Usable: 2}, gen))
		got, _, err = c.Get(ctx, "u3")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Usable)
	})
}

func TestInMemoryRiskCounterStore(t *testing.T) {
	s := NewInMemoryRiskCounterStore()
	defer s.Close()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)

	obs := points.RiskObservation{
		Scope:     points.EventDailySignIn,
		EventType: points.EventDailySignIn,
		BizID:     "sign-1",
		UserID:    "u1",
		DeviceID:  "d1",
		IP:        "10.0.0.1",
		At:        at,
		Day:       "2026-03-01",
	}
	counts, err := s.Observe(ctx, obs)
	require.NoError(t, err)
	assert.Equal(t, points.RiskCounts{PerMinute: 1, PerDay: 1, Device: 1, IP: 1}, counts)

	t.Run("observing the same event again changes nothing", func(t *testing.T) {
		counts, err := s.Observe(ctx, obs)
		require.NoError(t, err)
		assert.Equal(t, points.RiskCounts{PerMinute: 1, PerDay: 1, Device: 1, IP: 1}, counts)
	})

	t.Run("device and address count rewarded events only", func(t *testing.T) {
		other := obs
		other.UserID = "u2"
		other.BizID = "sign-2"
		other.IP = ""
		counts, err := s.Observe(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, points.RiskCounts{PerMinute: 1, PerDay: 1, Device: 1}, counts)

		require.NoError(t, s.Rewarded(ctx, obs))
		require.NoError(t, s.Rewarded(ctx, obs))
		counts, err = s.Observe(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts.Device)
	})

	t.Run("minute window slides across the minute boundary", func(t *testing.T) {
		w := obs
		w.UserID = "u9"
		w.DeviceID, w.IP = "", ""
		for i, at := range []time.Time{
			time.Date(2026, 3, 1, 10, 0, 59, 0, time.UTC),
			time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC),
			time.Date(2026, 3, 1, 10, 1, 1, 0, time.UTC),
		} {
			w.BizID = fmt.Sprintf("w-%d", i)
			w.At = at
			counts, err := s.Observe(ctx, w)
			require.NoError(t, err)
			assert.Equal(t, int64(i+1), counts.PerMinute)
		}

		w.BizID = "w-late"
		w.At = time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
		counts, err := s.Observe(ctx, w)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts.PerMinute, "events 60s or older fall out")
		assert.Equal(t, int64(4), counts.PerDay)
	})

	t.Run("scopes are counted apart", func(t *testing.T) {
		scoped := obs
		scoped.Scope = points.EventShareSuccess
		counts, err := s.Observe(ctx, scoped)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts.PerDay)
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.Observe(cctx, obs)
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, s.Rewarded(cctx, obs), context.Canceled)
	})
}
