package points

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRow(t *testing.T, typ LedgerType, points int64) *LedgerRow {
	t.Helper()
	row, err := NewLedgerRow("u1", typ, points, "test", "biz-"+string(typ), time.Now(), time.UTC)
	require.NoError(t, err)
	return row
}

func TestNewLedgerRow_Signs(t *testing.T) {
	assert.Equal(t, int64(10), mustRow(t, LedgerEarn, 10).Amount)
	assert.Equal(t, int64(10), mustRow(t, LedgerBonus, 10).Amount)
	assert.Equal(t, int64(10), mustRow(t, LedgerUnfreeze, 10).Amount)
	assert.Equal(t, int64(-10), mustRow(t, LedgerRedeem, 10).Amount)
	assert.Equal(t, int64(-10), mustRow(t, LedgerFreeze, 10).Amount)
	assert.Equal(t, int64(-10), mustRow(t, LedgerRefund, 10).Amount)

	_, err := NewLedgerRow("", LedgerEarn, 0, "", "", time.Now(), time.UTC)
	assert.ElementsMatch(t, []string{"userId", "points", "bizId"}, validationFields(t, err))
}

func TestTypedRowConstructors(t *testing.T) {
	tests := []struct {
		build  func(string, int64, string, string, string, *time.Location) (*LedgerRow, error)
		typ    LedgerType
		amount int64
	}{
		{NewBonusRow, LedgerBonus, 15},
		{NewRedeemRow, LedgerRedeem, -15},
		{NewFreezeRow, LedgerFreeze, -15},
		{NewUnfreezeRow, LedgerUnfreeze, 15},
	}
	for _, tc := range tests {
		t.Run(string(tc.typ), func(t *testing.T) {
			row, err := tc.build("u1", 15, "ops adjustment", "biz-1", "ops", time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tc.typ, row.Type)
			assert.Equal(t, tc.amount, row.Amount)
			assert.Equal(t, "ops", row.Operator)
			assert.Nil(t, row.RuleID)

			_, err = tc.build("u1", 0, "", "biz-1", "ops", time.UTC)
			assert.Equal(t, []string{"points"}, validationFields(t, err))
		})
	}
}

func TestNewLedgerRow_BizDateUsesZone(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)
	at := time.Date(2026, 10, 11, 20, 0, 0, 0, time.UTC)
	row, err := NewLedgerRow("u1", LedgerEarn, 1, "", "b", at, shanghai)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-12", row.BizDate)
}

func TestBalance_Apply(t *testing.T) {
	var b Balance
	b.Apply(mustRow(t, LedgerEarn, 100))
	b.Apply(mustRow(t, LedgerFreeze, 30))
	assert.Equal(t, Balance{Usable: 70, Frozen: 30}, b)
	assert.Equal(t, int64(100), b.Total())

	b.Apply(mustRow(t, LedgerUnfreeze, 10))
	b.Apply(mustRow(t, LedgerRedeem, 50))
	assert.Equal(t, Balance{Usable: 30, Frozen: 20}, b)
}

func TestBalance_CanApply(t *testing.T) {
	b := Balance{Usable: 40, Frozen: 10}
	assert.True(t, b.CanApply(mustRow(t, LedgerRedeem, 40)))
	assert.False(t, b.CanApply(mustRow(t, LedgerRedeem, 41)))
	assert.False(t, b.CanApply(mustRow(t, LedgerFreeze, 41)))
	assert.True(t, b.CanApply(mustRow(t, LedgerUnfreeze, 10)))
	assert.False(t, b.CanApply(mustRow(t, LedgerUnfreeze, 11)))
	assert.True(t, b.CanApply(mustRow(t, LedgerEarn, 1)))
}

func TestNewRefundRow(t *testing.T) {
	rule := fixedRule(t, "order bonus", 25)
	ev := orderEvent(100, time.Now())
	earn, err := NewEarnRow(ev, rule, nil, 25, time.UTC)
	require.NoError(t, err)

	refund, err := NewRefundRow(earn, "order canceled", "ops", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, int64(-25), refund.Amount)
	assert.Equal(t, earn.ID.String(), refund.BizID)
	assert.Equal(t, earn.RuleID, refund.RuleID)
	assert.NotEqual(t, earn.DedupKey(), refund.DedupKey())

	_, err = NewRefundRow(refund, "again", "ops", time.UTC)
	assert.ErrorContains(t, err, "reversed")
}
