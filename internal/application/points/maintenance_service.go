package points

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DayCounterPruner drops day-scoped budget counters that have not moved since before
type DayCounterPruner interface {
	PruneDayScoped(ctx context.Context, before time.Time) (int64, error)
}

// MaintenanceService holds the housekeeping jobs run by the scheduler
type MaintenanceService struct {
	counters  DayCounterPruner
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewMaintenanceService creates a MaintenanceService. Counters of a past day are
// kept for retention after their last write.
func NewMaintenanceService(counters DayCounterPruner, retention time.Duration, logger *zap.Logger) *MaintenanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceService{counters: counters, retention: retention, logger: logger, now: time.Now}
}

// PruneDayCounters removes stale per-day counters and returns how many went
func (s *MaintenanceService) PruneDayCounters(ctx context.Context) (int64, error) {
	before := s.now().Add(-s.retention)
	n, err := s.counters.PruneDayScoped(ctx, before)
	if err != nil {
		return 0, failure("prune day counters", err)
	}
	s.logger.Info("Pruned day counters", zap.Int64("deleted", n), zap.Time("before", before))
	return n, nil
}
