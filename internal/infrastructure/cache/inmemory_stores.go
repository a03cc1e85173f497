package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
)

// InMemoryIdempotencyStore implements IdempotencyStore for single-instance deployments and tests.
// Instances do not share state, so a second replica may handle a redelivered event again.
type InMemoryIdempotencyStore struct {
	keys *ttlStore[struct{}]
}

// NewInMemoryIdempotencyStore creates a new in-memory idempotency store
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{keys: newTTLStore[struct{}](defaultSweepInterval)}
}

// MarkProcessed returns true if key was newly marked, false if it is already marked
func (s *InMemoryIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.keys.setNX(key, struct{}{}, ttl), nil
}

// IsProcessed checks if key is marked and not expired
func (s *InMemoryIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	_, ok := s.keys.get(key)
	return ok, nil
}

// Close stops the background sweeper
func (s *InMemoryIdempotencyStore) Close() error {
	s.keys.close()
	return nil
}

// Size returns the number of stored keys, expired ones included until the next sweep
func (s *InMemoryIdempotencyStore) Size() int {
	return s.keys.size()
}

// balanceGenerationTTL outlives any read-through window
const balanceGenerationTTL = 24 * time.Hour

// InMemoryBalanceCache implements points.BalanceCache inside the process
type InMemoryBalanceCache struct {
	mu       sync.Mutex
	balances *ttlStore[points.Balance]
	gens     *ttlStore[int64]
	ttl      time.Duration
}

// NewInMemoryBalanceCache creates a balance cache whose entries live for ttl
func NewInMemoryBalanceCache(ttl time.Duration) *InMemoryBalanceCache {
	return &InMemoryBalanceCache{
		balances: newTTLStore[points.Balance](defaultSweepInterval),
		gens:     newTTLStore[int64](defaultSweepInterval),
		ttl:      ttl,
	}
}

// Get returns nil on a miss
func (c *InMemoryBalanceCache) Get(ctx context.Context, userID string) (*points.Balance, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen, _ := c.gens.get(userID)
	b, ok := c.balances.get(userID)
	if !ok {
		return nil, gen, nil
	}
	return &b, gen, nil
}

func (c *InMemoryBalanceCache) Set(ctx context.Context, balance points.Balance, gen int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, _ := c.gens.get(balance.UserID); current != gen {
		return nil
	}
	c.balances.set(balance.UserID, balance, c.ttl)
	return nil
}

func (c *InMemoryBalanceCache) Invalidate(ctx context.Context, userIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances.delete(userIDs...)
	for _, id := range userIDs {
		c.gens.touch(id, balanceGenerationTTL, func(v int64) int64 { return v + 1 })
	}
	return nil
}

// Close stops the background sweepers
func (c *InMemoryBalanceCache) Close() error {
	c.balances.close()
	c.gens.close()
	return nil
}

// InMemoryRiskCounterStore implements points.RiskCounterStore with the same
// window layout as the Redis store. Each window maps observation members to
// their score in milliseconds.
type InMemoryRiskCounterStore struct {
	windows *ttlStore[map[string]int64]
}

// NewInMemoryRiskCounterStore creates a new in-memory risk counter store
func NewInMemoryRiskCounterStore() *InMemoryRiskCounterStore {
	return &InMemoryRiskCounterStore{windows: newTTLStore[map[string]int64](time.Minute)}
}

// Observe records obs in the user windows and returns the totals
func (s *InMemoryRiskCounterStore) Observe(ctx context.Context, obs points.RiskObservation) (points.RiskCounts, error) {
	if err := ctx.Err(); err != nil {
		return points.RiskCounts{}, fmt.Errorf("observe risk counters: %w", err)
	}
	keys := riskKeysFor(obs)
	member, score := obs.Member(), scoreOf(obs.At)
	cutoff := windowStart(obs.At)

	var out points.RiskCounts
	s.windows.touch(keys.minute, minuteWindowTTL, func(w map[string]int64) map[string]int64 {
		w = addMember(w, member, score)
		for m, sc := range w {
			if sc <= cutoff {
				delete(w, m)
			}
		}
		out.PerMinute = int64(len(w))
		return w
	})
	s.windows.touch(keys.day, dayWindowTTL, func(w map[string]int64) map[string]int64 {
		w = addMember(w, member, score)
		out.PerDay = int64(len(w))
		return w
	})
	if keys.device != "" {
		out.Device = s.rewardedCount(keys.device) + 1
	}
	if keys.ip != "" {
		out.IP = s.rewardedCount(keys.ip) + 1
	}
	return out, nil
}

// Rewarded adds obs to its device and ip windows
func (s *InMemoryRiskCounterStore) Rewarded(ctx context.Context, obs points.RiskObservation) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("record rewarded risk event: %w", err)
	}
	member, score := obs.Member(), scoreOf(obs.At)
	for _, key := range riskKeysFor(obs).rewardedKeys() {
		s.windows.touch(key, dayWindowTTL, func(w map[string]int64) map[string]int64 {
			return addMember(w, member, score)
		})
	}
	return nil
}

func (s *InMemoryRiskCounterStore) rewardedCount(key string) int64 {
	var n int64
	s.windows.view(key, func(w map[string]int64, _ bool) { n = int64(len(w)) })
	return n
}

// Close stops the background sweeper
func (s *InMemoryRiskCounterStore) Close() error {
	s.windows.close()
	return nil
}

func addMember(w map[string]int64, member string, score int64) map[string]int64 {
	if w == nil {
		w = make(map[string]int64)
	}
	w[member] = score
	return w
}

var (
	_ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
	_ points.BalanceCache     = (*InMemoryBalanceCache)(nil)
	_ points.RiskCounterStore = (*InMemoryRiskCounterStore)(nil)
)
