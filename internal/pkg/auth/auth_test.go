package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)

	token, err := svc.Generate(7, "a@example.com", true)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.True(t, claims.IsAdmin)
}

func TestJWTRejectsForeignTokens(t *testing.T) {
	token, err := NewJWTService("other", time.Hour).Generate(1, "a@example.com", false)
	require.NoError(t, err)
	_, err = NewJWTService("secret", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTService("secret", time.Hour).Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", hash)
	assert.True(t, CheckPassword(hash, "s3cret!"))
	assert.False(t, CheckPassword(hash, "wrong"))
}
