package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "points:idem:"
	balanceKeyPrefix     = "points:balance:"
	balanceGenKeyPrefix  = "points:balance-gen:"
)

// RedisIdempotencyStore implements IdempotencyStore with SETNX so replicas share state
type RedisIdempotencyStore struct {
	client *redis.Client
}

// NewRedisIdempotencyStore creates a store on a shared client; the caller owns the client
func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// MarkProcessed returns true if key was newly marked, false if it is already marked
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, idempotencyKeyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event as processed: %w", err)
	}
	return ok, nil
}

// IsProcessed checks if key is marked
func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, idempotencyKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if event is processed: %w", err)
	}
	return n > 0, nil
}

// Close is a no-op; the client is closed by its owner
func (s *RedisIdempotencyStore) Close() error {
	return nil
}

// setBalanceIfCurrent writes KEYS[1] only while the generation in KEYS[2] equals ARGV[1]
var setBalanceIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisBalanceCache implements points.BalanceCache as JSON values with a TTL.
// Generations live next to the entries under points:balance-gen:.
type RedisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisBalanceCache creates a balance cache on a shared client
func NewRedisBalanceCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisBalanceCache {
	return &RedisBalanceCache{client: client, ttl: ttl, logger: logger}
}

func balanceGenKey(userID string) string {
	return balanceGenKeyPrefix + userID
}

// Get returns nil on a miss. A corrupted entry is deleted and reported as a miss.
func (c *RedisBalanceCache) Get(ctx context.Context, userID string) (*points.Balance, int64, error) {
	key := balanceKeyPrefix + userID
	vals, err := c.client.MGet(ctx, key, balanceGenKey(userID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get balance from cache: %w", err)
	}

	var gen int64
	if raw, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, 0, fmt.Errorf("failed to parse balance generation: %w", err)
		}
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, gen, nil
	}

	var b points.Balance
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		c.logger.Warn("dropping corrupted balance cache entry",
			zap.String("user_id", userID),
			zap.Error(err))
		_ = c.client.Del(ctx, key)
		return nil, gen, nil
	}
	return &b, gen, nil
}

func (c *RedisBalanceCache) Set(ctx context.Context, balance points.Balance, gen int64) error {
	data, err := json.Marshal(balance)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	keys := []string{balanceKeyPrefix + balance.UserID, balanceGenKey(balance.UserID)}
	written, err := setBalanceIfCurrent.Run(ctx, c.client, keys,
		strconv.FormatInt(gen, 10), string(data), c.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to cache balance: %w", err)
	}
	if written == 0 {
		c.logger.Debug("skipped stale balance cache write", zap.String("user_id", balance.UserID))
	}
	return nil
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = balanceKeyPrefix + id
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			pipe.Incr(ctx, balanceGenKey(id))
			pipe.Expire(ctx, balanceGenKey(id), balanceGenerationTTL)
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate balances: %w", err)
	}
	return nil
}

// RedisRiskCounterStore implements points.RiskCounterStore with one sorted set per
// window, scored by occurrence time. Each call is a single pipeline.
type RedisRiskCounterStore struct {
	client *redis.Client
}

// NewRedisRiskCounterStore creates a risk counter store on a shared client
func NewRedisRiskCounterStore(client *redis.Client) *RedisRiskCounterStore {
	return &RedisRiskCounterStore{client: client}
}

// Observe records obs in the user windows and returns the totals
func (s *RedisRiskCounterStore) Observe(ctx context.Context, obs points.RiskObservation) (points.RiskCounts, error) {
	keys := riskKeysFor(obs)
	entry := redis.Z{Score: float64(scoreOf(obs.At)), Member: obs.Member()}

	var perMinute, perDay, device, ip *redis.IntCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, keys.minute, entry)
		pipe.ZRemRangeByScore(ctx, keys.minute, "-inf", strconv.FormatInt(windowStart(obs.At), 10))
		perMinute = pipe.ZCard(ctx, keys.minute)
		pipe.Expire(ctx, keys.minute, minuteWindowTTL)

		pipe.ZAdd(ctx, keys.day, entry)
		perDay = pipe.ZCard(ctx, keys.day)
		pipe.Expire(ctx, keys.day, dayWindowTTL)

		if keys.device != "" {
			device = pipe.ZCard(ctx, keys.device)
		}
		if keys.ip != "" {
			ip = pipe.ZCard(ctx, keys.ip)
		}
		return nil
	})
	if err != nil {
		return points.RiskCounts{}, fmt.Errorf("observe risk counters: %w", err)
	}

	out := points.RiskCounts{PerMinute: perMinute.Val(), PerDay: perDay.Val()}
	if device != nil {
		out.Device = device.Val() + 1
	}
	if ip != nil {
		out.IP = ip.Val() + 1
	}
	return out, nil
}

// Rewarded adds obs to its device and ip windows
func (s *RedisRiskCounterStore) Rewarded(ctx context.Context, obs points.RiskObservation) error {
	keys := riskKeysFor(obs).rewardedKeys()
	if len(keys) == 0 {
		return nil
	}
	entry := redis.Z{Score: float64(scoreOf(obs.At)), Member: obs.Member()}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.ZAdd(ctx, key, entry)
			pipe.Expire(ctx, key, dayWindowTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record rewarded risk event: %w", err)
	}
	return nil
}

var (
	_ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
	_ points.BalanceCache     = (*RedisBalanceCache)(nil)
	_ points.RiskCounterStore = (*RedisRiskCounterStore)(nil)
)
