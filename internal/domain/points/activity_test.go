package points

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityEvent_Validate(t *testing.T) {
	valid := func() *ActivityEvent {
		return &ActivityEvent{
			BizID:      "order-1",
			EventType:  EventOrderPaid,
			UserID:     "u1",
			OccurredAt: time.Date(2026, 5, 6, 10, 0, 0, 0, time.UTC),
		}
	}
	require.NoError(t, valid().Validate())

	t.Run("user id at the column width is accepted", func(t *testing.T) {
		ev := valid()
		ev.UserID = strings.Repeat("u", MaxUserIDLength)
		assert.NoError(t, ev.Validate())
	})

	t.Run("longer user id is rejected", func(t *testing.T) {
		ev := valid()
		ev.UserID = strings.Repeat("u", MaxUserIDLength+1)
		assert.Equal(t, []string{"userId"}, validationFields(t, ev.Validate()))
	})

	t.Run("longer referrer id is rejected", func(t *testing.T) {
		ev := valid()
		ev.ReferrerID = strings.Repeat("r", MaxUserIDLength+1)
		assert.Equal(t, []string{"referrerId"}, validationFields(t, ev.Validate()))
	})

	t.Run("missing fields", func(t *testing.T) {
		ev := &ActivityEvent{EventType: "unknown"}
		assert.ElementsMatch(t, []string{"bizId", "eventType", "userId", "occurredAt"}, validationFields(t, ev.Validate()))
	})
}

func TestNewLedgerRow_RejectsLongUserID(t *testing.T) {
	_, err := NewLedgerRow(strings.Repeat("u", MaxUserIDLength+1), LedgerBonus, 1, "", "b", time.Now(), time.UTC)
	assert.Equal(t, []string{"userId"}, validationFields(t, err))
}
