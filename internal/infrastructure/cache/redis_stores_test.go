package cache

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisIdempotencyStore(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisIdempotencyStore(client)
	ctx := context.Background()

	mock.ExpectSetNX("points:idem:points.awarded:e1", "1", time.Hour).SetVal(true)
	mock.ExpectSetNX("points:idem:points.awarded:e1", "1", time.Hour).SetVal(false)
	mock.ExpectExists("points:idem:points.awarded:e1").SetVal(1)
	mock.ExpectSetNX("points:idem:x", "1", time.Hour).SetErr(errors.New("connection refused"))

	isNew, err := store.MarkProcessed(ctx, "points.awarded:e1", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew)
	isNew, err = store.MarkProcessed(ctx, "points.awarded:e1", time.Hour)
	require.NoError(t, err)
	assert.False(t, isNew)
	processed, err := store.IsProcessed(ctx, "points.awarded:e1")
	require.NoError(t, err)
	assert.True(t, processed)
	_, err = store.MarkProcessed(ctx, "x", time.Hour)
	assert.ErrorContains(t, err, "connection refused")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBalanceCache(t *testing.T) {
	const (
		key    = "points:balance:u1"
		genKey = "points:balance-gen:u1"
	)
	tests := []struct {
		name      string
		setupMock func(redismock.ClientMock)
		run       func(t *testing.T, c *RedisBalanceCache)
	}{
		{
			name: "miss on a user never invalidated",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectMGet(key, genKey).SetVal([]interface{}{nil, nil})
			},
			run: func(t *testing.T, c *RedisBalanceCache) {
				b, gen, err := c.Get(context.Background(), "u1")
				require.NoError(t, err)
				assert.Nil(t, b)
				assert.Equal(t, int64(0), gen)
			},
		},
		{
			name: "hit",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectMGet(key, genKey).SetVal([]interface{}{`{"userId":"u1","usable":75,"frozen":20}`, "4"})
			},
			run: func(t *testing.T, c *RedisBalanceCache) {
				b, gen, err := c.Get(context.Background(), "u1")
				require.NoError(t, err)
				assert.Equal(t, &points.Balance{UserID: "u1", Usable: 75, Frozen: 20}, b)
				assert.Equal(t, int64(4), gen)
			},
		},
		{
			name: "corrupted entry is dropped",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectMGet(key, genKey).SetVal([]interface{}{`{broken`, "2"})
				mock.ExpectDel(key).SetVal(1)
			},
			run: func(t *testing.T, c *RedisBalanceCache) {
				b, gen, err := c.Get(context.Background(), "u1")
				require.NoError(t, err)
				assert.Nil(t, b)
				assert.Equal(t, int64(2), gen)
			},
		},
		{
			name: "set passes the read generation to the guarded write",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectEvalSha(setBalanceIfCurrent.Hash(), []string{key, genKey},
					"3", `{"userId":"u1","usable":10,"frozen":0}`, int64(60000)).SetVal(int64(1))
			},
			run: func(t *testing.T, c *RedisBalanceCache) {
				require.NoError(t, c.Set(context.Background(), points.Balance{UserID: "u1", Usable: 10}, 3))
			},
		},
		{
			name: "set after an invalidation is skipped",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectEvalSha(setBalanceIfCurrent.Hash(), []string{key, genKey},
					"0", `{"userId":"u1","usable":10,"frozen":0}`, int64(60000)).SetVal(int64(0))
			},
			run: func(t *testing.T, c *RedisBalanceCache) {
				assert.NoError(t, c.Set(context.Background(), points.Balance{UserID: "u1", Usable: 10}, 0))
			},
		},
		{
			name: "invalidate bumps every generation",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectIncr(genKey).SetVal(1)
				mock.ExpectExpire(genKey, 24*time.Hour).SetVal(true)
				mock.ExpectIncr("points:balance-gen:u2").SetVal(5)
				mock.ExpectExpire("points:balance-gen:u2", 24*time.Hour).SetVal(true)
				mock.ExpectDel(key, "points:balance:u2").SetVal(2)
			},
			run: func(t *testing.T, c *RedisBalanceCache) {
				require.NoError(t, c.Invalidate(context.Background(), "u1", "u2"))
				require.NoError(t, c.Invalidate(context.Background()))
			},
		},
		{
			name: "get error",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectMGet(key, genKey).SetErr(errors.New("timeout"))
			},
			run: func(t *testing.T, c *RedisBalanceCache) {
				_, _, err := c.Get(context.Background(), "u1")
				assert.ErrorContains(t, err, "timeout")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := redismock.NewClientMock()
			tt.setupMock(mock)
			tt.run(t, NewRedisBalanceCache(client, time.Minute, zap.NewNop()))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRedisRiskCounterStore_Observe(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisRiskCounterStore(client)
	at := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)

	obs := points.RiskObservation{
		Scope:     points.EventOrderPaid,
		EventType: points.EventOrderPaid,
		BizID:     "order-1",
		UserID:    "u1",
		DeviceID:  "d1",
		IP:        "10.0.0.1",
		At:        at,
		Day:       "2026-03-01",
	}
	entry := redis.Z{Score: float64(at.UnixMilli()), Member: "order_paid:u1:order-1"}

	minKey := "points:risk:order_paid:min:u1"
	dayKey := "points:risk:order_paid:day:u1:2026-03-01"
	mock.ExpectZAdd(minKey, entry).SetVal(1)
	mock.ExpectZRemRangeByScore(minKey, "-inf", itoa(at.Add(-time.Minute).UnixMilli())).SetVal(2)
	mock.ExpectZCard(minKey).SetVal(3)
	mock.ExpectExpire(minKey, 2*time.Minute).SetVal(true)
	mock.ExpectZAdd(dayKey, entry).SetVal(1)
	mock.ExpectZCard(dayKey).SetVal(7)
	mock.ExpectExpire(dayKey, 48*time.Hour).SetVal(true)
	mock.ExpectZCard("points:risk:order_paid:dev:d1:2026-03-01").SetVal(1)
	mock.ExpectZCard("points:risk:order_paid:ip:10.0.0.1:2026-03-01").SetVal(8)

	counts, err := store.Observe(context.Background(), obs)
	require.NoError(t, err)
	assert.Equal(t, points.RiskCounts{PerMinute: 3, PerDay: 7, Device: 2, IP: 9}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRiskCounterStore_Rewarded(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisRiskCounterStore(client)
	at := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	obs := points.RiskObservation{
		Scope:     points.EventAll,
		EventType: points.EventOrderPaid,
		BizID:     "order-1",
		UserID:    "u1",
		DeviceID:  "d1",
		At:        at,
		Day:       "2026-03-01",
	}

	devKey := "points:risk:all:dev:d1:2026-03-01"
	mock.ExpectZAdd(devKey, redis.Z{Score: float64(at.UnixMilli()), Member: "order_paid:u1:order-1"}).SetVal(1)
	mock.ExpectExpire(devKey, 48*time.Hour).SetVal(true)

	require.NoError(t, store.Rewarded(context.Background(), obs))

	t.Run("nothing to record without device or address", func(t *testing.T) {
		bare := obs
		bare.DeviceID = ""
		require.NoError(t, store.Rewarded(context.Background(), bare))
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRiskCounterStore_ObserveError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisRiskCounterStore(client)
	obs := points.RiskObservation{Scope: points.EventDailySignIn, EventType: points.EventDailySignIn, BizID: "s1", UserID: "u1", At: time.Unix(0, 0), Day: "1970-01-01"}

	mock.ExpectZAdd("points:risk:daily_sign_in:min:u1", redis.Z{Score: 0, Member: "daily_sign_in:u1:s1"}).SetErr(errors.New("READONLY"))

	_, err := store.Observe(context.Background(), obs)
	assert.ErrorContains(t, err, "observe risk counters")
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
