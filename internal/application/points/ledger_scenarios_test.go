package points_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	app "github.com/loyalty/points/internal/application/points"
	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/loyalty/points/internal/infrastructure/cache"
	"github.com/loyalty/points/internal/infrastructure/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var de *shared.DomainError
	require.ErrorAs(t, err, &de)
	return de.Code
}

func TestLedger_RedeemIsIdempotentAndNeverOverdraws(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.credit(t, "u1", 100)

	res, err := h.ledger.Redeem(ctx, app.RedeemInput{UserID: "u1", Points: 70, BizID: "order-9"})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(-70), res.Row.Amount)
	assert.Equal(t, int64(30), res.Balance.Usable)

	again, err := h.ledger.Redeem(ctx, app.RedeemInput{UserID: "u1", Points: 70, BizID: "order-9"})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, res.Row.ID, again.Row.ID)
	assert.Equal(t, int64(30), again.Balance.Usable)

	_, err = h.ledger.Redeem(ctx, app.RedeemInput{UserID: "u1", Points: 31, BizID: "order-10"})
	assert.Equal(t, shared.CodeInsufficientBalance, codeOf(t, err))

	balance, err := h.ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance.Usable)
}

func TestLedger_ReverseOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.rule(t, "order bonus", 40)
	_, err := h.engine.Evaluate(ctx, orderPaid("u1", "order-1", baseTime))
	require.NoError(t, err)
	earned := h.rows(t, points.LedgerFilter{UserID: "u1"})
	require.Len(t, earned, 1)

	res, err := h.ledger.Reverse(ctx, app.ReverseInput{RowID: earned[0].ID, Operator: "ops"})
	require.NoError(t, err)
	assert.Equal(t, points.LedgerRefund, res.Refund.Type)
	assert.Equal(t, int64(-40), res.Refund.Amount)
	assert.Equal(t, earned[0].RuleID, res.Refund.RuleID)
	assert.Equal(t, "ops", res.Refund.Operator)

	_, err = h.ledger.Reverse(ctx, app.ReverseInput{RowID: earned[0].ID, Operator: "ops"})
	assert.Equal(t, shared.CodeAlreadyExists, codeOf(t, err))

	balance, err := h.ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Usable)
}

func TestLedger_ReverseSpentPointsIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.rule(t, "order bonus", 40)
	_, err := h.engine.Evaluate(ctx, orderPaid("u1", "order-1", baseTime))
	require.NoError(t, err)
	_, err = h.ledger.Redeem(ctx, app.RedeemInput{UserID: "u1", Points: 30, BizID: "order-2"})
	require.NoError(t, err)

	earned := h.rows(t, points.LedgerFilter{UserID: "u1", Type: ptr(points.LedgerEarn)})
	require.Len(t, earned, 1)
	_, err = h.ledger.Reverse(ctx, app.ReverseInput{RowID: earned[0].ID})
	assert.Equal(t, shared.CodeInsufficientBalance, codeOf(t, err))
}

func TestLedger_BalanceCacheIsInvalidated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	balances := cache.NewInMemoryBalanceCache(time.Minute)
	t.Cleanup(func() { _ = balances.Close() })
	h.ledger.SetBalanceCache(balances)
	h.engine.SetBalanceCache(balances)
	h.rule(t, "order bonus", 25)

	before, err := h.ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), before.Usable)

	_, err = h.engine.Evaluate(ctx, orderPaid("u1", "order-1", baseTime))
	require.NoError(t, err)

	after, err := h.ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), after.Usable)
}

func TestLedger_ExportCSV(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.credit(t, "u1", 10)
	h.credit(t, "u1", 20)
	h.credit(t, "u2", 5)

	var buf bytes.Buffer
	n, err := h.ledger.ExportCSV(ctx, &buf, app.LedgerQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "id", records[0][0])
	assert.Equal(t, "u1", records[1][1])
	assert.Equal(t, "earn", records[1][2])
}

func TestLedger_ExportArchive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.credit(t, "u1", 10)

	_, err := h.ledger.ExportArchive(ctx, app.LedgerQuery{})
	assert.Equal(t, shared.CodeInvalidState, codeOf(t, err))

	h.ledger.SetExportArchive(storage.NewMemoryArchive("http://exports.local"))
	archive, err := h.ledger.ExportArchive(ctx, app.LedgerQuery{})
	require.NoError(t, err)
	assert.Contains(t, archive.Key, "ledger-")
	assert.Positive(t, archive.Size)
}

func ptr[T any](v T) *T { return &v }
