package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/loyalty/points/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableRedis() config.RedisConfig {
	return config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1, DialTimeout: 200 * time.Millisecond}
}

func TestRedisOptions(t *testing.T) {
	opts := redisOptions(config.RedisConfig{
		Host: "::1", Port: 6380, DB: 2, PoolSize: 32,
		OpTimeout: 150 * time.Millisecond, DialTimeout: time.Second,
	})
	assert.Equal(t, "[::1]:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 32, opts.PoolSize)
	assert.Equal(t, 150*time.Millisecond, opts.ReadTimeout)
	assert.Equal(t, 150*time.Millisecond, opts.WriteTimeout)
	assert.Equal(t, time.Second, opts.DialTimeout)
}

func TestStoreFactory_CreateStores(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled redis uses memory", func(t *testing.T) {
		stores, err := NewStoreFactory(config.RedisConfig{}, time.Minute).CreateStores(ctx)
		require.NoError(t, err)
		defer stores.Close()
		assert.Equal(t, "memory", stores.Backend)
		assert.IsType(t, &InMemoryRiskCounterStore{}, stores.RiskCounters)
		assert.NoError(t, stores.Ping(ctx))
	})

	t.Run("unreachable redis falls back", func(t *testing.T) {
		stores, err := NewStoreFactory(unreachableRedis(), time.Minute).CreateStores(ctx)
		require.NoError(t, err)
		defer stores.Close()
		assert.Equal(t, "memory", stores.Backend)
	})

	t.Run("fallback can be refused", func(t *testing.T) {
		_, err := NewStoreFactory(unreachableRedis(), time.Minute, WithInMemoryFallback(false)).CreateStores(ctx)
		assert.ErrorContains(t, err, "redis required")
	})
}

func TestStoreFactory_CreateRedisStores(t *testing.T) {
	client, mock := redismock.NewClientMock()
	stores := NewStoreFactory(config.RedisConfig{}, time.Minute).CreateRedisStores(client)
	assert.Equal(t, "redis", stores.Backend)

	mock.ExpectPing().SetVal("PONG")
	assert.NoError(t, stores.Ping(context.Background()))
	assert.IsType(t, &RedisBalanceCache{}, stores.Balances)
	assert.IsType(t, &RedisIdempotencyStore{}, stores.Idempotency)
	assert.NoError(t, stores.Close())
}
