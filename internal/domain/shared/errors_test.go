package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("load rule: %w", NewDomainError(CodeNotFound, "rule not found"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrAlreadyExists))
}

func TestValidationError(t *testing.T) {
	var v ValidationError
	assert.NoError(t, v.ErrOrNil())

	v.Add("budgetTotalPoints", "must not be negative")
	v.Addf("endAt", "must be after %s", "startAt")

	err := v.ErrOrNil()
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Fields, 2)
	assert.Contains(t, err.Error(), "budgetTotalPoints: must not be negative")
}

func TestPersistenceFailure(t *testing.T) {
	assert.NoError(t, PersistenceFailure("append", nil))

	err := PersistenceFailure("append ledger rows", errors.New("connection reset"))
	assert.True(t, IsPersistenceFailure(err))
	assert.Contains(t, err.Error(), "connection reset")

	// domain errors pass through untouched
	err = PersistenceFailure("append", ErrInsufficientBalance)
	assert.False(t, IsPersistenceFailure(err))
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
}
