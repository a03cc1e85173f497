package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseAggregateRoot is the identity and optimistic-locking state shared by
// rules, campaigns, risk rules and grant tasks. Every mutation bumps Version;
// repositories update with "WHERE version = Version-1" and report a conflict
// when no row matches.
type BaseAggregateRoot struct {
	ID        uuid.UUID
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBaseAggregateRoot starts a fresh aggregate at version 1
func NewBaseAggregateRoot() BaseAggregateRoot {
	now := time.Now()
	return BaseAggregateRoot{ID: uuid.New(), Version: 1, CreatedAt: now, UpdatedAt: now}
}

// IncrementVersion marks one committed mutation
func (a *BaseAggregateRoot) IncrementVersion() {
	a.Version++
	a.UpdatedAt = time.Now()
}
