package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserTokenRoundTrip(t *testing.T) {
	t.Setenv("API_SECRET", "test-secret")
	token, err := JwtGenerate(5, "Su Su", "susu")
	require.NoError(t, err)

	claims, err := ParseUserToken(token)
	require.NoError(t, err)
	assert.Equal(t, 5, claims.ID)
	assert.Equal(t, "Su Su", claims.Name)
	assert.Equal(t, "susu", claims.Username)

	t.Setenv("API_SECRET", "other-secret")
	_, err = ParseUserToken(token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestParseUserTokenRejects(t *testing.T) {
	t.Setenv("API_SECRET", "test-secret")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &UserClaims{
		ID:             5,
		StandardClaims: jwt.StandardClaims{ExpiresAt: time.Now().Add(-time.Minute).Unix()},
	})
	signed, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = ParseUserToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &UserClaims{}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = ParseUserToken(anonymous)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseUserToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
