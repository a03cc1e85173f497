package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateKeyPrefix = "points:rate:"

// RequestLimiter counts requests per key in fixed windows
type RequestLimiter interface {
	// Allow counts one request for key and reports whether it is within limit,
	// plus how many requests remain in the current window
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

func windowKey(key string, window time.Duration, now time.Time) string {
	slot := now.UnixNano() / int64(window)
	return rateKeyPrefix + key + ":" + strconv.FormatInt(slot, 10)
}

func allowance(count int64, limit int) (bool, int) {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(limit), remaining
}

// RedisRequestLimiter shares request windows between replicas with INCR + EXPIRE
type RedisRequestLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisRequestLimiter creates a limiter on a shared client
func NewRedisRequestLimiter(client *redis.Client) *RedisRequestLimiter {
	return &RedisRequestLimiter{client: client, now: time.Now}
}

// Allow implements RequestLimiter
func (l *RedisRequestLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	k := windowKey(key, window, l.now())
	var incr *redis.IntCmd
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("count request: %w", err)
	}
	ok, remaining := allowance(incr.Val(), limit)
	return ok, remaining, nil
}

// InMemoryRequestLimiter keeps windows per process
type InMemoryRequestLimiter struct {
	counts *ttlStore[int64]
}

// NewInMemoryRequestLimiter creates a process-local limiter
func NewInMemoryRequestLimiter() *InMemoryRequestLimiter {
	return &InMemoryRequestLimiter{counts: newTTLStore[int64](time.Minute)}
}

// Allow implements RequestLimiter
func (l *InMemoryRequestLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	count := l.counts.update(windowKey(key, window, l.counts.now()), window, func(v int64) int64 { return v + 1 })
	ok, remaining := allowance(count, limit)
	return ok, remaining, nil
}

// Close stops the background sweeper
func (l *InMemoryRequestLimiter) Close() error {
	l.counts.close()
	return nil
}

var (
	_ RequestLimiter = (*RedisRequestLimiter)(nil)
	_ RequestLimiter = (*InMemoryRequestLimiter)(nil)
)
