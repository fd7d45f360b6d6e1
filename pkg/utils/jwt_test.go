package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", "omnigen")

	token, err := m.GenerateToken("tenant-1", "user-1", "admin", "access", time.Hour)
	require.NoError(t, err)

	claims, err := m.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "access", claims.Type)
	assert.Equal(t, "omnigen", claims.Issuer)
}

func TestParseExpiredToken(t *testing.T) {
	m := NewJWTManager("secret", "omnigen")

	token, err := m.GenerateToken("tenant-1", "user-1", "member", "access", -time.Minute)
	require.NoError(t, err)

	_, err = m.ParseToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenTypeClaimPreserved(t *testing.T) {
	m := NewJWTManager("secret", "omnigen")

	// 认证中间件依赖 type 声明拒绝非 access Token
	token, err := m.GenerateToken("tenant-1", "user-1", "member", "refresh", time.Hour)
	require.NoError(t, err)

	claims, err := m.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "refresh", claims.Type)
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := NewJWTManager("secret-a", "omnigen").GenerateToken("tenant-1", "user-1", "member", "access", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTManager("secret-b", "omnigen").ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
