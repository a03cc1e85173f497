package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func newTestMetrics(t *testing.T) (*PointsMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	m, err := NewPointsMetrics(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func TestNewPointsMetrics(t *testing.T) {
	_, err := NewPointsMetrics(nil)
	assert.ErrorIs(t, err, ErrMeterNil)

	m, err := NewPointsMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	m.RecordEvaluation(context.Background(), "order_paid", "awarded", time.Millisecond)
}

func TestPointsMetrics_Evaluations(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEvaluation(ctx, "order_paid", "awarded", 3*time.Millisecond)
	m.RecordEvaluation(ctx, "order_paid", "awarded", 4*time.Millisecond)
	m.RecordEvaluation(ctx, "order_paid", "blocked", time.Millisecond)

	got := collect(t, reader)
	evals := got["points_evaluations_total"]
	assert.Equal(t, int64(2), sumFor(t, evals, AttrEventType.String("order_paid"), AttrOutcome.String("awarded")))
	assert.Equal(t, int64(1), sumFor(t, evals, AttrEventType.String("order_paid"), AttrOutcome.String("blocked")))

	hist, ok := got["points_evaluation_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
		assert.Equal(t, EvaluationDurationBuckets, dp.Bounds)
	}
	assert.Equal(t, uint64(3), count)
}

func TestPointsMetrics_LedgerRiskAndGrants(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPoints(ctx, "earn", 30)
	m.RecordPoints(ctx, "redeem", -20)
	m.RecordRiskHit(ctx, "daily_sign_in", "block")
	m.RecordBudgetClip(ctx, "daily_budget")
	m.RecordGrantTask(ctx, "add", "completed", 5, 2)
	m.RecordGrantTask(ctx, "add", "canceled", 0, 0)

	got := collect(t, reader)
	assert.Equal(t, int64(30), sumFor(t, got["points_amount_total"], AttrLedgerType.String("earn")))
	assert.Equal(t, int64(20), sumFor(t, got["points_amount_total"], AttrLedgerType.String("redeem")), "amounts are absolute")
	assert.Equal(t, int64(1), sumFor(t, got["points_risk_hits_total"], AttrEventType.String("daily_sign_in"), AttrRiskAction.String("block")))
	assert.Equal(t, int64(1), sumFor(t, got["points_budget_clips_total"], AttrClipLimit.String("daily_budget")))
	assert.Equal(t, int64(5), sumFor(t, got["points_grant_targets_total"], AttrGrantType.String("add"), AttrOutcome.String("success")))
	assert.Equal(t, int64(2), sumFor(t, got["points_grant_targets_total"], AttrGrantType.String("add"), AttrOutcome.String("failed")))
	assert.Equal(t, int64(1), sumFor(t, got["points_grant_tasks_total"], AttrGrantType.String("add"), AttrTaskStatus.String("canceled")))
}
