package points

import (
	"context"
	"fmt"

	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// PointsFlowHandler projects committed point movements from the outbox into
// the points_flow counters. Grant task counters are recorded by GrantService
// itself; this handler only adds the points those tasks moved.
type PointsFlowHandler struct {
	metrics *telemetry.PointsMetrics
	logger  *zap.Logger
}

// NewPointsFlowHandler creates a PointsFlowHandler
func NewPointsFlowHandler(metrics *telemetry.PointsMetrics, logger *zap.Logger) *PointsFlowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PointsFlowHandler{metrics: metrics, logger: logger}
}

func (h *PointsFlowHandler) Name() string { return "points_flow" }

// EventTypes returns the events this handler consumes
func (h *PointsFlowHandler) EventTypes() []string {
	return []string{
		points.EventTypePointsAwarded,
		points.EventTypeLedgerReversed,
		points.EventTypeGrantTaskFinished,
	}
}

// Handle records the points moved by one event
func (h *PointsFlowHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	if h.metrics == nil {
		return nil
	}
	switch e := event.(type) {
	case *points.PointsAwarded:
		h.metrics.RecordPoints(ctx, string(points.LedgerEarn), e.TotalPoints)
	case *points.LedgerRowReversed:
		h.metrics.RecordPoints(ctx, string(points.LedgerRefund), e.Amount)
	case *points.GrantTaskFinished:
		if e.SuccessCount > 0 {
			h.metrics.RecordPoints(ctx, string(e.GrantType.LedgerType()), e.Points*e.SuccessCount)
		}
	default:
		return fmt.Errorf("unexpected event %T", event)
	}
	return nil
}

// RiskAlertHandler logs every blocked event so operators can follow risk
// activity without querying the decision log
type RiskAlertHandler struct {
	logger *zap.Logger
}

// NewRiskAlertHandler creates a RiskAlertHandler
func NewRiskAlertHandler(logger *zap.Logger) *RiskAlertHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskAlertHandler{logger: logger}
}

func (h *RiskAlertHandler) Name() string { return "risk_alert" }

func (h *RiskAlertHandler) EventTypes() []string {
	return []string{points.EventTypeRiskBlocked}
}

func (h *RiskAlertHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	e, ok := event.(*points.EventRiskBlocked)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}
	limits := make([]string, len(e.Hits))
	for i, hit := range e.Hits {
		limits[i] = hit.Limit
	}
	h.logger.Warn("Risk gate blocked event",
		zap.String("decision_id", e.DecisionID.String()),
		zap.String("user_id", e.UserID),
		zap.String("biz_id", e.BizID),
		zap.String("event_type", string(e.Activity)),
		zap.Strings("limits", limits),
	)
	return nil
}

var (
	_ shared.EventHandler = (*PointsFlowHandler)(nil)
	_ shared.EventHandler = (*RiskAlertHandler)(nil)
)
