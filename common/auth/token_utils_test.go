package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func sign(t *testing.T, claims jwt.MapClaims, key []byte) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestParseAndValidateToken_Valid(t *testing.T) {
	tok := sign(t, jwt.MapClaims{
		"sub":  "3f1c2a8e-0000-4000-8000-000000000001",
		"role": "admin",
		"typ":  "access",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}, testSecret)

	claims, err := ParseAndValidateToken(tok, testSecret, "access")
	require.NoError(t, err)
	assert.Equal(t, "3f1c2a8e-0000-4000-8000-000000000001", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}

func TestParseAndValidateToken_Rejects(t *testing.T) {
	expired := sign(t, jwt.MapClaims{"sub": "u", "typ": "access", "exp": time.Now().Add(-time.Hour).Unix()}, testSecret)
	wrongKey := sign(t, jwt.MapClaims{"sub": "u", "typ": "access"}, []byte("other"))
	wrongType := sign(t, jwt.MapClaims{"sub": "u", "typ": "refresh"}, testSecret)
	noSubject := sign(t, jwt.MapClaims{"typ": "access"}, testSecret)

	for name, tok := range map[string]string{
		"expired":    expired,
		"wrong key":  wrongKey,
		"wrong type": wrongType,
		"no subject": noSubject,
		"garbage":    "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAndValidateToken(tok, testSecret, "access")
			assert.Error(t, err)
		})
	}

	_, err := ParseAndValidateToken(expired, nil, "")
	assert.EqualError(t, err, "JWT secret not configured")
}
