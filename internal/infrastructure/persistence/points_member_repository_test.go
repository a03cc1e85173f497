package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/loyalty/points/internal/domain/points"
	"github.com/loyalty/points/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormMemberRepository_SaveUpserts(t *testing.T) {
	db := setupPointsTestDB(t)
	repo := NewGormMemberRepository(db)
	ctx := context.Background()

	m := points.NewMember("u1")
	m.Level = 2
	m.Tags = []string{"vip"}
	require.NoError(t, repo.Save(ctx, m))

	registered := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	m.Level = 3
	m.RegisteredAt = &registered
	m.ReferrerID = "u9"
	require.NoError(t, repo.Save(ctx, m))

	found, err := repo.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, found.Level)
	assert.Equal(t, []string{"vip"}, found.Tags)
	assert.True(t, found.HasReferrer())
	require.NotNil(t, found.RegisteredAt)
	assert.True(t, registered.Equal(*found.RegisteredAt))

	_, err = repo.FindByUserID(ctx, "ghost")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormMemberRepository_Audience(t *testing.T) {
	db := setupPointsTestDB(t)
	repo := NewGormMemberRepository(db)
	ctx := context.Background()

	for i := range 7 {
		m := points.NewMember(fmt.Sprintf("u%02d", i))
		m.Level = i % 3
		require.NoError(t, repo.Save(ctx, m))
	}

	total, err := repo.CountAudience(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)

	level := 2
	atLeast, err := repo.CountAudience(ctx, &level)
	require.NoError(t, err)
	assert.Equal(t, int64(2), atLeast)

	t.Run("keyset pages cover everyone once", func(t *testing.T) {
		var seen []string
		after := ""
		for {
			page, err := repo.ListUserIDs(ctx, nil, after, 3)
			require.NoError(t, err)
			if len(page) == 0 {
				break
			}
			seen = append(seen, page...)
			after = page[len(page)-1]
		}
		assert.Equal(t, []string{"u00", "u01", "u02", "u03", "u04", "u05", "u06"}, seen)
	})

	t.Run("level cohort", func(t *testing.T) {
		ids, err := repo.ListUserIDs(ctx, &level, "", 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"u02", "u05"}, ids)
	})
}
