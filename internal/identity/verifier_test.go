package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/apperr"
)

func signToken(t *testing.T, secret, issuer, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTVerifierRoundTrip(t *testing.T) {
	verifier := NewJWTVerifier("secret", "auth-svc")

	userID, err := verifier.Verify(context.Background(), signToken(t, "secret", "auth-svc", "42"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestJWTVerifierRejectsWrongSecret(t *testing.T) {
	verifier := NewJWTVerifier("secret", "")

	_, err := verifier.Verify(context.Background(), signToken(t, "other", "", "42"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestJWTVerifierRejectsWrongIssuer(t *testing.T) {
	verifier := NewJWTVerifier("secret", "auth-svc")

	_, err := verifier.Verify(context.Background(), signToken(t, "secret", "someone-else", "42"))
	require.Error(t, err)
}

func TestJWTVerifierRejectsBadSubject(t *testing.T) {
	verifier := NewJWTVerifier("secret", "")

	_, err := verifier.Verify(context.Background(), signToken(t, "secret", "", "not-a-number"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}
