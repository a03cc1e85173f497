package points

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loyalty/points/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prunerFunc func(ctx context.Context, before time.Time) (int64, error)

func (f prunerFunc) PruneDayScoped(ctx context.Context, before time.Time) (int64, error) {
	return f(ctx, before)
}

func TestMaintenanceService_PruneDayCounters(t *testing.T) {
	now := time.Date(2026, 10, 16, 3, 0, 0, 0, time.UTC)

	t.Run("cuts off at now minus retention", func(t *testing.T) {
		var cutoff time.Time
		svc := NewMaintenanceService(prunerFunc(func(_ context.Context, before time.Time) (int64, error) {
			cutoff = before
			return 12, nil
		}), 7*24*time.Hour, nil)
		svc.now = func() time.Time { return now }

		n, err := svc.PruneDayCounters(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(12), n)
		assert.Equal(t, now.AddDate(0, 0, -7), cutoff)
	})

	t.Run("store errors become persistence failures", func(t *testing.T) {
		svc := NewMaintenanceService(prunerFunc(func(context.Context, time.Time) (int64, error) {
			return 0, errors.New("db down")
		}), 48*time.Hour, nil)

		_, err := svc.PruneDayCounters(context.Background())
		var de *shared.DomainError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, shared.CodePersistenceFailure, de.Code)
	})
}
