package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/loyalty/points/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *JWTService {
	t.Helper()
	s, err := NewJWTService(config.JWTConfig{Secret: "test-secret-at-least-32-bytes-long!!", Issuer: "points"})
	require.NoError(t, err)
	return s
}

func TestNewJWTService_RequiresSecret(t *testing.T) {
	_, err := NewJWTService(config.JWTConfig{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestJWTService_IssueAndValidate(t *testing.T) {
	s := newTestService(t)

	token, err := s.Issue("ops@example.com", "Ops", []string{RoleOperator}, time.Hour)
	require.NoError(t, err)

	claims, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, "Ops", claims.Name)
	assert.True(t, claims.HasRole(RoleOperator))
	assert.False(t, claims.HasRole(RoleAdmin))
	assert.NotEmpty(t, claims.ID)

	_, err = s.Issue("", "", nil, time.Hour)
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestJWTService_Validate_Failures(t *testing.T) {
	s := newTestService(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("expired", func(t *testing.T) {
		s.now = func() time.Time { return base }
		token, err := s.Issue("ops", "", nil, time.Minute)
		require.NoError(t, err)
		s.now = func() time.Time { return base.Add(2 * time.Minute) }
		_, err = s.Validate(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("not yet valid", func(t *testing.T) {
		s.now = func() time.Time { return base.Add(time.Hour) }
		token, err := s.Issue("ops", "", nil, time.Hour)
		require.NoError(t, err)
		s.now = func() time.Time { return base }
		_, err = s.Validate(token)
		assert.ErrorIs(t, err, ErrTokenNotYetValid)
	})

	s.now = time.Now

	t.Run("other secret", func(t *testing.T) {
		other, err := NewJWTService(config.JWTConfig{Secret: "another-secret-another-secret-!!", Issuer: "points"})
		require.NoError(t, err)
		token, err := other.Issue("ops", "", nil, time.Hour)
		require.NoError(t, err)
		_, err = s.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other issuer", func(t *testing.T) {
		other, err := NewJWTService(config.JWTConfig{Secret: "test-secret-at-least-32-bytes-long!!", Issuer: "someone-else"})
		require.NoError(t, err)
		token, err := other.Issue("ops", "", nil, time.Hour)
		require.NoError(t, err)
		_, err = s.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", Issuer: "points"},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = s.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := s.Validate("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestClaims_AdminHasEveryRole(t *testing.T) {
	c := &Claims{Roles: []string{RoleAdmin}}
	assert.True(t, c.HasRole(RoleViewer))
	assert.True(t, c.HasRole(RoleOperator))
}
