package devtoken

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/zenGate-Global/palmyra-worlds/platform/go/auth"
)

func TestBuildUnsignedToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()

	token, err := BuildUnsignedToken(Params{
		UserID:        "admin-123",
		Email:         "admin@example.com",
		Name:          "Dev Admin",
		EmailVerified: true,
		IsAdmin:       true,
		Roles:         []string{"operator"},
		ExpiresIn:     time.Hour,
	}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	header, payload := splitToken(t, token)
	if got, want := header["alg"], "none"; got != want {
		t.Fatalf("header alg = %v, want %v", got, want)
	}
	if got, want := payload["iss"], DefaultIssuer; got != want {
		t.Errorf("iss = %v, want %v", got, want)
	}
	if got, want := payload["sub"], "admin-123"; got != want {
		t.Errorf("sub = %v, want %v", got, want)
	}
	if got, want := payload["email"], "admin@example.com"; got != want {
		t.Errorf("email = %v, want %v", got, want)
	}
	if got, want := payload["exp"], float64(now.Add(time.Hour).Unix()); got != want {
		t.Errorf("exp = %v, want %v", got, want)
	}
	if _, ok := payload["aud"]; ok {
		t.Errorf("aud should be omitted when empty")
	}

	roles, ok := payload["roles"].([]interface{})
	if !ok || len(roles) != 1 || roles[0] != "operator" {
		t.Errorf("roles = %v, want [\"operator\"]", payload["roles"])
	}
}

func TestBuildUnsignedTokenRequiresIdentity(t *testing.T) {
	if _, err := BuildUnsignedToken(Params{Email: "a@b.c"}, time.Time{}); err == nil {
		t.Fatal("expected error without user id")
	}
	if _, err := BuildUnsignedToken(Params{UserID: "u"}, time.Time{}); err == nil {
		t.Fatal("expected error without email")
	}
}

func TestBuildSignedTokenVerifies(t *testing.T) {
	secret := []byte("s3cret")
	token, err := BuildSignedToken(Params{UserID: "ops-1", Email: "ops@example.com", Audience: "admin-api"}, secret, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := auth.HS256TokenVerifier(secret, DefaultIssuer, "admin-api")(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got := claims["uid"]; got != "ops-1" {
		t.Errorf("uid = %v, want ops-1", got)
	}
}

func splitToken(t *testing.T, token string) (map[string]interface{}, map[string]interface{}) {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		t.Fatalf("invalid token format: %q", token)
	}

	header := decodeSegment(t, parts[0])
	payload := decodeSegment(t, parts[1])
	return header, payload
}

func decodeSegment(t *testing.T, segment string) map[string]interface{} {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		t.Fatalf("decode segment: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal segment: %v", err)
	}
	return out
}
