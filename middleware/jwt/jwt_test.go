package jwt

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenManager(t *testing.T) {
	tm := NewTokenManager("test-secret", 24)
	require.NotNil(t, tm)
	assert.Equal(t, []byte("test-secret"), tm.secret)
	assert.Equal(t, 24*time.Hour, tm.expireDur)
}

func TestGenerateAndParseToken(t *testing.T) {
	tm := NewTokenManager("test-secret", 24)

	token, err := tm.GenerateToken(42, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "alice", claims.UserName)

	now := time.Now()
	assert.False(t, claims.IssuedAt.Time.After(now))
	assert.True(t, claims.ExpiresAt.Time.After(now))
}

func TestParseToken_InvalidToken(t *testing.T) {
	tm := NewTokenManager("test-secret", 24)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.token"},
		{"random string", "randomstring"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tm.ParseToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := NewTokenManager("secret1", 24).GenerateToken(1, "bob")
	require.NoError(t, err)

	_, err = NewTokenManager("secret2", 24).ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_ZeroUserID(t *testing.T) {
	tm := NewTokenManager("test-secret", 24)
	token, err := tm.GenerateToken(0, "ghost")
	require.NoError(t, err)

	_, err = tm.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_ExpiredToken(t *testing.T) {
	tm := NewTokenManager("test-secret", 0)
	tm.expireDur = time.Millisecond

	token, err := tm.GenerateToken(1, "bob")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	_, err = tm.ParseToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestParseToken_WrongSigningMethod(t *testing.T) {
	claims := Claims{UserID: 1, RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenManager("test-secret", 24).ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
