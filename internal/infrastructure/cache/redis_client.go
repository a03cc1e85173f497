package cache

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/loyalty/points/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
)

const defaultPingTimeout = 5 * time.Second

func redisOptions(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
	}
}

// NewRedisClient returns a client that answered PING within the dial timeout
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts := redisOptions(cfg)
	client := redis.NewClient(opts)

	wait := opts.DialTimeout
	if wait <= 0 {
		wait = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", opts.Addr, err)
	}
	return client, nil
}
