package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer is used when Params.Issuer is empty.
const DefaultIssuer = "palmyra-worlds"

// Params captures the operator claims minted for local and CI environments. No environment
// variables are read so the builder stays deterministic for tooling.
type Params struct {
	UserID        string        // sub/uid (required)
	Email         string        // email claim (required)
	Name          string        // display name (optional)
	EmailVerified bool          // email_verified claim
	IsAdmin       bool          // isAdmin custom claim, implies the admin role
	Roles         []string      // roles claim consumed by the authorizer
	ExpiresIn     time.Duration // relative expiry; default 1h if zero
	Audience      string        // optional aud claim
	Issuer        string        // optional override; defaults to DefaultIssuer
}

func (p Params) claims(now time.Time) (jwt.MapClaims, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, errors.New("userID is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return nil, errors.New("email is required")
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}

	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	issuer := p.Issuer
	if strings.TrimSpace(issuer) == "" {
		issuer = DefaultIssuer
	}

	payload := jwt.MapClaims{
		"iss":            issuer,
		"sub":            p.UserID,
		"uid":            p.UserID,
		"iat":            now.Unix(),
		"exp":            now.Add(expiresIn).Unix(),
		"email":          p.Email,
		"email_verified": p.EmailVerified,
		"isAdmin":        p.IsAdmin,
	}
	if p.Name != "" {
		payload["name"] = p.Name
	}
	if p.Audience != "" {
		payload["aud"] = p.Audience
	}
	if len(p.Roles) > 0 {
		payload["roles"] = p.Roles
	}
	return payload, nil
}

// BuildUnsignedToken returns a JWT string with alg "none" and no signature, accepted by the
// API only when AUTH_PROVIDER=dev.
func BuildUnsignedToken(p Params, now time.Time) (string, error) {
	payload, err := p.claims(now)
	if err != nil {
		return "", err
	}

	header := map[string]interface{}{
		"alg": "none",
		"typ": "JWT",
	}

	headerSegment, err := encodeSegment(header)
	if err != nil {
		return "", err
	}

	payloadSegment, err := encodeSegment(payload)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s.%s", headerSegment, payloadSegment), nil
}

// BuildSignedToken returns an HS256 token accepted when AUTH_PROVIDER=hs256 with the same secret.
func BuildSignedToken(p Params, secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret is required")
	}
	payload, err := p.claims(now)
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(secret)
}

func encodeSegment(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
