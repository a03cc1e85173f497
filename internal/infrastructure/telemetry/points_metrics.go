package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when metrics are built without a meter
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// Metric attribute keys
var (
	AttrEventType  = attribute.Key("event_type")
	AttrOutcome    = attribute.Key("outcome")
	AttrLedgerType = attribute.Key("ledger_type")
	AttrRiskAction = attribute.Key("risk_action")
	AttrClipLimit  = attribute.Key("limit")
	AttrGrantType  = attribute.Key("grant_type")
	AttrTaskStatus = attribute.Key("status")
)

// EvaluationDurationBuckets are bucket boundaries in seconds for one engine evaluation
var EvaluationDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// PointsMetrics records the business metrics of the points engine
type PointsMetrics struct {
	evaluations   metric.Int64Counter
	evalDuration  metric.Float64Histogram
	pointsIssued  metric.Int64Counter
	riskHits      metric.Int64Counter
	budgetClips   metric.Int64Counter
	grantTargets  metric.Int64Counter
	grantsHandled metric.Int64Counter
}

// NewPointsMetrics creates the instruments on meter
func NewPointsMetrics(meter metric.Meter) (*PointsMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	m := &PointsMetrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.evaluations, "points_evaluations_total", "Events evaluated by the engine", "{events}"},
		{&m.pointsIssued, "points_amount_total", "Points moved by ledger rows, by row type", "{points}"},
		{&m.riskHits, "points_risk_hits_total", "Risk rules whose limit an event exceeded", "{hits}"},
		{&m.budgetClips, "points_budget_clips_total", "Awards reduced by a campaign budget", "{awards}"},
		{&m.grantTargets, "points_grant_targets_total", "Grant task targets processed", "{users}"},
		{&m.grantsHandled, "points_grant_tasks_total", "Grant tasks that reached a final state", "{tasks}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
	}

	m.evalDuration, err = meter.Float64Histogram("points_evaluation_duration_seconds",
		metric.WithDescription("Engine evaluation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(EvaluationDurationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram points_evaluation_duration_seconds: %w", err)
	}
	return m, nil
}

// RecordEvaluation counts one evaluation and its latency
func (m *PointsMetrics) RecordEvaluation(ctx context.Context, eventType, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(AttrEventType.String(eventType), AttrOutcome.String(outcome))
	m.evaluations.Add(ctx, 1, attrs)
	m.evalDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordPoints adds the absolute amount of a ledger movement
func (m *PointsMetrics) RecordPoints(ctx context.Context, ledgerType string, amount int64) {
	if amount < 0 {
		amount = -amount
	}
	m.pointsIssued.Add(ctx, amount, metric.WithAttributes(AttrLedgerType.String(ledgerType)))
}

// RecordRiskHit counts one exceeded risk rule
func (m *PointsMetrics) RecordRiskHit(ctx context.Context, eventType, action string) {
	m.riskHits.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(eventType), AttrRiskAction.String(action)))
}

// RecordBudgetClip counts one award reduced by the named campaign limit
func (m *PointsMetrics) RecordBudgetClip(ctx context.Context, limit string) {
	m.budgetClips.Add(ctx, 1, metric.WithAttributes(AttrClipLimit.String(limit)))
}

// RecordGrantTask counts a finished grant task and its target outcomes
func (m *PointsMetrics) RecordGrantTask(ctx context.Context, grantType, status string, succeeded, failed int64) {
	gt := AttrGrantType.String(grantType)
	m.grantsHandled.Add(ctx, 1, metric.WithAttributes(gt, AttrTaskStatus.String(status)))
	if succeeded > 0 {
		m.grantTargets.Add(ctx, succeeded, metric.WithAttributes(gt, AttrOutcome.String("success")))
	}
	if failed > 0 {
		m.grantTargets.Add(ctx, failed, metric.WithAttributes(gt, AttrOutcome.String("failed")))
	}
}
