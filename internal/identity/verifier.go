package identity

import (
	"context"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"messaging-service/internal/apperr"
)

// Verifier exchanges a bearer credential for a stable user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (int64, error)
}

// JWTVerifier validates HS256 tokens issued by the auth service.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier constructs a JWTVerifier.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates the token and returns the subject user id.
func (v *JWTVerifier) Verify(_ context.Context, token string) (int64, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUnauthenticated, "invalid token", err)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return 0, apperr.E(apperr.KindUnauthenticated, "token has no subject")
	}
	userID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil || userID == 0 {
		return 0, apperr.E(apperr.KindUnauthenticated, "token subject is not a user id")
	}
	return userID, nil
}
