package points

import (
	"context"

	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
)

// TransactionScope provides transactional access to the points repositories.
// Everything done through the repositories handed to fn commits or rolls back together.
type TransactionScope interface {
	// Execute runs fn within a database transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories are the repositories bound to one transaction.
//
// Only the write paths need them: the engine's commit step (decision, ledger rows,
// counters, campaign spend, outbox) and one grant target (ledger row plus the
// task's success counter). Reads that feed those writes happen outside.
type TransactionalRepositories interface {
	LedgerRepo() points.LedgerRepository
	CounterStore() points.CounterStore
	CampaignRepo() points.CampaignRepository
	DecisionRepo() points.EvaluationRepository
	GrantTaskRepo() points.GrantTaskRepository
	MemberRepo() points.MemberRepository
	BlacklistRepo() points.BlacklistRepository
	// SaveEvents writes domain events to the outbox inside the transaction
	SaveEvents(ctx context.Context, events ...shared.DomainEvent) error
}
