package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestSystemSet(t *testing.T) {
	s := NewSystems(3, 1)
	assert.True(t, s.Allows(1))
	assert.False(t, s.Allows(2))
	assert.Equal(t, []int64{1, 3}, s.IDs())
	assert.True(t, AllSystems.Allows(42))
}

func TestRequire(t *testing.T) {
	require.NoError(t, Require(NewSystems(1), 1))
	require.ErrorIs(t, Require(NewSystems(1), 2), ErrForbidden)
	require.ErrorIs(t, Require(nil, 1), ErrForbidden)
}

func TestFilter(t *testing.T) {
	ids := []int64{1, 2, 3, 4}
	got := Filter(NewSystems(2, 4), ids, func(id int64) int64 { return id })
	assert.Equal(t, []int64{2, 4}, got)
	assert.Empty(t, Filter(nil, ids, func(id int64) int64 { return id }))
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Now()
	tok, err := IssueToken(secret, "operator", []int64{5, 7}, false, time.Hour, now)
	require.NoError(t, err)

	claims, err := ParseToken(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Subject)
	scope := claims.Scope()
	assert.True(t, scope.Allows(7))
	assert.False(t, scope.Allows(6))
}

func TestTokenAllSystems(t *testing.T) {
	tok, err := IssueToken(secret, "admin", nil, true, 0, time.Now())
	require.NoError(t, err)
	claims, err := ParseToken(tok, secret)
	require.NoError(t, err)
	assert.True(t, claims.Scope().Allows(999))
}

func TestParseTokenRejects(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		tok, err := IssueToken(secret, "x", []int64{1}, false, time.Hour, time.Now())
		require.NoError(t, err)
		_, err = ParseToken(tok, []byte("other"))
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		tok, err := IssueToken(secret, "x", []int64{1}, false, time.Minute, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		_, err = ParseToken(tok, secret)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{AllSystems: true}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = ParseToken(tok, secret)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}
