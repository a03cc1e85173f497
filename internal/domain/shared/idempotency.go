package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers keys of work already applied
type IdempotencyStore interface {
	// MarkProcessed records key for ttl and reports whether it was new
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, key string) (bool, error)
	Close() error
}
