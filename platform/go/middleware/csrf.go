package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/palmyra-worlds/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-worlds/platform/go/logging"
)

// CSRFHeader carries the token on mutating requests.
const CSRFHeader = "X-CSRF-Token"

const nonceBytes = 16

// ErrCSRF is returned when a token is missing, malformed or bound to another operator.
var ErrCSRF = errors.New("csrf token mismatch")

// CSRF issues and verifies stateless tokens of the form nonce.hex(HMAC(secret, operator|nonce)).
// No server-side storage is needed, so any API replica can verify a token another replica issued.
type CSRF struct {
	secret []byte
	rand   io.Reader
}

// NewCSRF panics on an empty secret.
func NewCSRF(secret []byte) *CSRF {
	if len(secret) == 0 {
		panic("csrf secret is required")
	}
	return &CSRF{secret: secret, rand: rand.Reader}
}

// Issue returns a fresh token bound to operator.
func (c *CSRF) Issue(operator string) (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := io.ReadFull(c.rand, buf); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(buf)
	return nonce + "." + c.sign(operator, nonce), nil
}

// Verify checks token against operator in constant time.
func (c *CSRF) Verify(operator, token string) error {
	nonce, mac, ok := strings.Cut(token, ".")
	if !ok || nonce == "" || mac == "" || operator == "" {
		return ErrCSRF
	}
	if !hmac.Equal([]byte(mac), []byte(c.sign(operator, nonce))) {
		return ErrCSRF
	}
	return nil
}

func (c *CSRF) sign(operator, nonce string) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(operator))
	h.Write([]byte{'|'})
	h.Write([]byte(nonce))
	return hex.EncodeToString(h.Sum(nil))
}

// RequireCSRF rejects unsafe methods whose X-CSRF-Token does not match the authenticated operator.
func RequireCSRF(c *CSRF) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			creds, _ := platformauth.UserFromContext(r.Context())
			if err := c.Verify(creds.Actor(), r.Header.Get(CSRFHeader)); err != nil {
				logger := platformlogging.FromRequest(r, nil)
				if logger != nil {
					logger.Warn("csrf check failed", zap.String("actor", creds.Actor()), zap.String("path", r.URL.Path))
				}
				writeForbidden(w, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeForbidden(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://palmyra.pro/problems/forbidden",
		"title":  "Forbidden",
		"status": http.StatusForbidden,
		"detail": detail,
	})
}
