package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/loyalty/points/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type tracedRow struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func TestDBTracing_Register(t *testing.T) {
	recorder := useRecorder(t)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tracedRow{}))

	// a negative threshold falls back to the default
	tracing := NewDBTracing(config.TelemetryConfig{DBSlowQueryThresh: -1}, "points", zap.NewNop())
	assert.Equal(t, defaultSlowQueryThreshold, tracing.slowThreshold)
	require.NoError(t, tracing.Register(db))

	ctx, span := StartServiceSpan(context.Background(), "test", "db")
	require.NoError(t, db.WithContext(ctx).Create(&tracedRow{Name: "a"}).Error)
	var rows []tracedRow
	require.NoError(t, db.WithContext(ctx).Find(&rows).Error)
	span.End()

	var dbSpans int
	for _, s := range recorder.Ended() {
		if s.Parent().SpanID() == span.SpanContext().SpanID() {
			dbSpans++
		}
	}
	assert.GreaterOrEqual(t, dbSpans, 2, "one span per statement under the caller's span")
}

func TestDBTracing_SlowQueryThreshold(t *testing.T) {
	tracing := NewDBTracing(config.TelemetryConfig{DBSlowQueryThresh: time.Second, DBLogFullSQL: true}, "points", zap.NewNop())
	assert.Equal(t, time.Second, tracing.slowThreshold)
	assert.True(t, tracing.logFullSQL)
}
