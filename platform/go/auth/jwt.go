package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ExtractJWTToken returns the bearer token of the Authorization header.
func ExtractJWTToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	const prefix = "Bearer "
	// Case-insensitive prefix match.
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", false
	}

	return strings.TrimSpace(authHeader[len(prefix):]), true
}

// HS256TokenVerifier validates operator tokens signed with a shared secret. Issuer and
// audience are enforced when non-empty.
func HS256TokenVerifier(secret []byte, issuer, audience string) VerifyFunc {
	if len(secret) == 0 {
		panic("auth.HS256TokenVerifier: secret must not be empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	parser := jwt.NewParser(opts...)

	return func(ctx context.Context, token string) (map[string]interface{}, error) {
		claims := jwt.MapClaims{}
		parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		})
		if err != nil {
			return nil, fmt.Errorf("verify token: %w", err)
		}
		if !parsed.Valid {
			return nil, errors.New("verify token: invalid")
		}
		return claims, nil
	}
}
