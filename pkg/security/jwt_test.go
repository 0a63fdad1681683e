package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	mgr, err := NewJWTManager(&JWTConfig{SecretKey: "test-secret", Issuer: "remotectl", ExpireDuration: time.Hour})
	require.NoError(t, err)

	token, err := mgr.GenerateToken("u1", "operador")
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "operador", claims.Role)
	assert.Equal(t, "remotectl", claims.Issuer)
}

func TestJWTManager_BearerPrefix(t *testing.T) {
	mgr, err := NewJWTManager(&JWTConfig{SecretKey: "test-secret"})
	require.NoError(t, err)

	token, err := mgr.GenerateToken("u1", "cliente")
	require.NoError(t, err)

	claims, err := mgr.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
}

func TestJWTManager_Expired(t *testing.T) {
	mgr, err := NewJWTManager(&JWTConfig{SecretKey: "test-secret", ExpireDuration: -time.Minute})
	require.NoError(t, err)
	// 构造时会把非正有效期归一化为默认值，这里直接改回去
	mgr.cfg.ExpireDuration = -time.Minute

	token, err := mgr.GenerateToken("u1", "cliente")
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestJWTManager_WrongKey(t *testing.T) {
	mgr1, err := NewJWTManager(&JWTConfig{SecretKey: "key-one"})
	require.NoError(t, err)
	mgr2, err := NewJWTManager(&JWTConfig{SecretKey: "key-two"})
	require.NoError(t, err)

	token, err := mgr1.GenerateToken("u1", "cliente")
	require.NoError(t, err)

	_, err = mgr2.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTManager_RequiresSecret(t *testing.T) {
	_, err := NewJWTManager(&JWTConfig{})
	assert.Error(t, err)
}

func TestJWTManager_Garbage(t *testing.T) {
	mgr, err := NewJWTManager(&JWTConfig{SecretKey: "test-secret"})
	require.NoError(t, err)

	_, err = mgr.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
