// Package capability mints and verifies the short-lived tokens that let the outer admin layer
// act as a world's built-in super operator without a login handshake.
//
// A token is an HS256 JWT signed with the world's installation secret. It names the world, the
// impersonated user and a fingerprint of that user's stored credential hash, so rotating the
// password or reinstalling the world invalidates outstanding tokens.
package capability

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of every capability token.
const Issuer = "palmyra-worlds/switchboard"

// DefaultTTL keeps tokens valid only long enough for one activation.
const DefaultTTL = time.Minute

// ErrInvalid wraps every verification failure.
var ErrInvalid = errors.New("invalid capability token")

// Claims carried by a capability token.
type Claims struct {
	WorldUniqueID int64  `json:"wid"`
	UserID        int64  `json:"uid"`
	Fingerprint   string `json:"cfp"`
	Actor         string `json:"act,omitempty"`
	jwt.RegisteredClaims
}

// Grant describes who may act as whom in which world.
type Grant struct {
	WorldSlug      string
	WorldUniqueID  int64
	UserID         int64
	CredentialHash string
	Actor          string
}

// Fingerprint hashes a stored credential hash so the token never carries it.
func Fingerprint(credentialHash string) string {
	sum := sha256.Sum256([]byte(credentialHash))
	return hex.EncodeToString(sum[:])
}

// Mint signs a token for g with secret, valid for ttl from now.
func Mint(secret []byte, g Grant, now time.Time, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("capability secret is required")
	}
	if g.WorldSlug == "" || g.WorldUniqueID <= 0 || g.UserID <= 0 {
		return "", errors.New("capability grant requires world slug, world unique id and user id")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	claims := Claims{
		WorldUniqueID: g.WorldUniqueID,
		UserID:        g.UserID,
		Fingerprint:   Fingerprint(g.CredentialHash),
		Actor:         g.Actor,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   fmt.Sprintf("%d", g.UserID),
			Audience:  jwt.ClaimStrings{g.WorldSlug},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign capability token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer, audience and expiry and returns the claims.
func Verify(secret []byte, worldSlug, raw string, now time.Time) (*Claims, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: no secret", ErrInvalid)
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(worldSlug),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return claims, nil
}
