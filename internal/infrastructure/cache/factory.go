package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stores bundles the cache-backed stores the application needs
type Stores struct {
	Idempotency  shared.IdempotencyStore
	Balances     points.BalanceCache
	RiskCounters points.RiskCounterStore
	RateLimiter  RequestLimiter
	Backend      string
	// Ping reports backend reachability; in-memory stores are always up
	Ping func(ctx context.Context) error

	closers []func() error
}

// Close releases the stores and the Redis client, if any
func (s *Stores) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StoreFactory creates stores based on configuration
type StoreFactory struct {
	redisConfig           config.RedisConfig
	balanceTTL            time.Duration
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// StoreFactoryOption is a functional option for configuring the factory
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory stores when Redis is unavailable.
// Default is true.
func WithInMemoryFallback(allow bool) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewStoreFactory creates a new factory
func NewStoreFactory(cfg config.RedisConfig, balanceTTL time.Duration, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		redisConfig:           cfg,
		balanceTTL:            balanceTTL,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateRedisStores builds every store on one client
func (f *StoreFactory) CreateRedisStores(client *redis.Client) *Stores {
	return &Stores{
		Idempotency:  NewRedisIdempotencyStore(client),
		Balances:     NewRedisBalanceCache(client, f.balanceTTL, f.logger),
		RiskCounters: NewRedisRiskCounterStore(client),
		RateLimiter:  NewRedisRequestLimiter(client),
		Backend:      "redis",
		Ping:         func(ctx context.Context) error { return client.Ping(ctx).Err() },
		closers:      []func() error{client.Close},
	}
}

// CreateInMemoryStores builds process-local stores.
// Risk counters are then per instance, so limits are enforced per replica.
func (f *StoreFactory) CreateInMemoryStores() *Stores {
	idem := NewInMemoryIdempotencyStore()
	balances := NewInMemoryBalanceCache(f.balanceTTL)
	risk := NewInMemoryRiskCounterStore()
	limiter := NewInMemoryRequestLimiter()
	return &Stores{
		Idempotency:  idem,
		Balances:     balances,
		RiskCounters: risk,
		RateLimiter:  limiter,
		Backend:      "memory",
		Ping:         func(context.Context) error { return nil },
		closers:      []func() error{idem.Close, balances.Close, risk.Close, limiter.Close},
	}
}

// CreateStores uses Redis when it is enabled and reachable. Otherwise it falls back
// to in-memory stores unless the fallback was disabled.
func (f *StoreFactory) CreateStores(ctx context.Context) (*Stores, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("redis disabled, using in-memory stores")
		return f.CreateInMemoryStores(), nil
	}

	client, err := NewRedisClient(ctx, f.redisConfig)
	if err == nil {
		f.logger.Info("using Redis stores",
			zap.String("host", f.redisConfig.Host),
			zap.Int("port", f.redisConfig.Port))
		return f.CreateRedisStores(client), nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required but unavailable: %w", err)
	}
	f.logger.Warn("Redis unavailable, falling back to in-memory stores. "+
		"Risk counters and idempotency keys will not be shared between instances.",
		zap.Error(err),
	)
	return f.CreateInMemoryStores(), nil
}
