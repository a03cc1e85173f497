package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type namedHandler struct {
	*testHandler
	name string
}

func (h namedHandler) Name() string { return h.name }

type mockIdempotencyStore struct {
	mock.Mock
}

func (m *mockIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockIdempotencyStore) Close() error { return m.Called().Error(0) }

func newMemoryDedup(t *testing.T) *Dedup {
	t.Helper()
	store := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })
	return NewDedup(store, time.Hour, nil)
}

func TestDedup_RedeliveryIsSkipped(t *testing.T) {
	d := newMemoryDedup(t)
	inner := newTestHandler("points.awarded")
	h := d.Wrap(inner)[0]
	ev := newTestEvent("points.awarded")

	require.NoError(t, h.Handle(context.Background(), ev))
	require.NoError(t, h.Handle(context.Background(), ev))

	assert.Equal(t, 1, inner.count())
	assert.Equal(t, []string{"points.awarded"}, h.EventTypes())
	assert.Equal(t, DedupStats{Delivered: 2, Handled: 1, Duplicates: 1}, d.Stats())
}

func TestDedup_FailedEventIsRetried(t *testing.T) {
	d := newMemoryDedup(t)
	inner := newTestHandler("points.awarded")
	inner.err = errors.New("projection down")
	h := d.Wrap(inner)[0]
	ev := newTestEvent("points.awarded")

	assert.ErrorIs(t, h.Handle(context.Background(), ev), inner.err)

	inner.mu.Lock()
	inner.err = nil
	inner.mu.Unlock()
	require.NoError(t, h.Handle(context.Background(), ev))

	assert.Equal(t, 2, inner.count())
	assert.Equal(t, DedupStats{Delivered: 2, Handled: 1, Failed: 1}, d.Stats())
}

func TestDedup_KeysArePerHandler(t *testing.T) {
	d := newMemoryDedup(t)
	flow := namedHandler{testHandler: newTestHandler("points.awarded"), name: "points_flow"}
	alerts := namedHandler{testHandler: newTestHandler("points.awarded"), name: "risk_alert"}
	wrapped := d.Wrap(flow, alerts)
	ev := newTestEvent("points.awarded")

	for _, h := range wrapped {
		require.NoError(t, h.Handle(context.Background(), ev))
	}
	assert.Equal(t, 1, flow.count())
	assert.Equal(t, 1, alerts.count())
}

func TestDedup_StoreKeyAndTTL(t *testing.T) {
	store := new(mockIdempotencyStore)
	ev := newTestEvent("points.awarded")
	key := "points_flow:" + ev.EventID().String()
	store.On("IsProcessed", mock.Anything, key).Return(false, nil)
	store.On("MarkProcessed", mock.Anything, key, 2*time.Hour).Return(true, nil)

	h := NewDedup(store, 2*time.Hour, nil).Wrap(namedHandler{testHandler: newTestHandler(), name: "points_flow"})[0]
	require.NoError(t, h.Handle(context.Background(), ev))
	store.AssertExpectations(t)
}

func TestDedup_StoreOutageStillHandles(t *testing.T) {
	store := new(mockIdempotencyStore)
	store.On("IsProcessed", mock.Anything, mock.Anything).Return(false, errors.New("redis down"))
	store.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("redis down"))

	inner := newTestHandler()
	h := NewDedup(store, 0, nil).Wrap(inner)[0]
	require.NoError(t, h.Handle(context.Background(), newTestEvent("points.awarded")))
	assert.Equal(t, 1, inner.count())
	store.AssertCalled(t, "MarkProcessed", mock.Anything, mock.Anything, DefaultDedupTTL)
}

func TestDedup_ConcurrentRedeliveriesRunOnce(t *testing.T) {
	d := newMemoryDedup(t)
	inner := newTestHandler("points.awarded")
	h := d.Wrap(inner)[0]
	ev := newTestEvent("points.awarded")

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Handle(context.Background(), ev)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inner.count())
	stats := d.Stats()
	assert.Equal(t, int64(20), stats.Delivered)
	assert.Equal(t, int64(19), stats.Duplicates)
}

var _ shared.EventHandler = namedHandler{}
