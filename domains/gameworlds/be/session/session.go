// Package session gives the admin layer a privileged session inside a world database.
//
// The caller has already been authenticated by the outer API. Instead of logging in as the
// world's built-in super operator, the admin layer mints a capability token signed with the
// world's installation secret and the world-side check below accepts it after re-reading the
// operator row.
package session

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/descriptor"
	"github.com/zenGate-Global/palmyra-worlds/platform/go/capability"
)

const (
	// SuperOperatorID is the built-in privileged account present in every world database.
	SuperOperatorID int64 = 2
	// PrivilegedAccess is the lowest access level allowed into world administration.
	PrivilegedAccess = 8
)

// ErrImpersonationRejected wraps every reason a synthesized session is refused.
var ErrImpersonationRejected = errors.New("impersonation rejected")

const selectUser = "SELECT id, name, password, access FROM users WHERE id = ?"

// Operator is a row of the world's users table.
type Operator struct {
	ID             int64
	Name           string
	CredentialHash string
	Access         int
}

// Session is a validated privileged session inside one world.
type Session struct {
	WorldID       string
	WorldUniqueID int64
	UserID        int64
	UserName      string
	Access        int
	// Actor is the outer operator acting through this session.
	Actor     string
	ExpiresAt time.Time
}

// LoadOperator reads one users row.
func LoadOperator(ctx context.Context, db *sql.DB, id int64) (Operator, error) {
	var op Operator
	err := db.QueryRowContext(ctx, selectUser, id).Scan(&op.ID, &op.Name, &op.CredentialHash, &op.Access)
	if errors.Is(err, sql.ErrNoRows) {
		return Operator{}, fmt.Errorf("%w: user %d not present", ErrImpersonationRejected, id)
	}
	if err != nil {
		return Operator{}, fmt.Errorf("load user %d: %w", id, err)
	}
	return op, nil
}

// Impersonate mints a capability token for the super operator of the world described by d.
func Impersonate(ctx context.Context, db *sql.DB, d descriptor.Descriptor, actor string, now time.Time) (string, error) {
	op, err := LoadOperator(ctx, db, SuperOperatorID)
	if err != nil {
		return "", err
	}
	token, err := capability.Mint([]byte(d.Settings.SecureHash), capability.Grant{
		WorldSlug:      d.Settings.WorldID,
		WorldUniqueID:  d.Settings.WorldUniqueID,
		UserID:         op.ID,
		CredentialHash: op.CredentialHash,
		Actor:          actor,
	}, now, capability.DefaultTTL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImpersonationRejected, err)
	}
	return token, nil
}

// Validate is the world-side check: the token must be signed for this world, name the super
// operator, carry the fingerprint of the credential hash currently stored and the row must still
// hold privileged access.
func Validate(ctx context.Context, db *sql.DB, d descriptor.Descriptor, token string, now time.Time) (Session, error) {
	claims, err := capability.Verify([]byte(d.Settings.SecureHash), d.Settings.WorldID, token, now)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrImpersonationRejected, err)
	}
	if claims.WorldUniqueID != d.Settings.WorldUniqueID {
		return Session{}, fmt.Errorf("%w: token issued for world %d", ErrImpersonationRejected, claims.WorldUniqueID)
	}
	if claims.UserID != SuperOperatorID {
		return Session{}, fmt.Errorf("%w: user %d is not the super operator", ErrImpersonationRejected, claims.UserID)
	}

	op, err := LoadOperator(ctx, db, claims.UserID)
	if err != nil {
		return Session{}, err
	}
	current := capability.Fingerprint(op.CredentialHash)
	if subtle.ConstantTimeCompare([]byte(current), []byte(claims.Fingerprint)) != 1 {
		return Session{}, fmt.Errorf("%w: credential fingerprint mismatch", ErrImpersonationRejected)
	}
	if op.Access < PrivilegedAccess {
		return Session{}, fmt.Errorf("%w: access level %d", ErrImpersonationRejected, op.Access)
	}

	s := Session{
		WorldID:       d.Settings.WorldID,
		WorldUniqueID: d.Settings.WorldUniqueID,
		UserID:        op.ID,
		UserName:      op.Name,
		Access:        op.Access,
		Actor:         claims.Actor,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Establish impersonates and validates in one step.
func Establish(ctx context.Context, db *sql.DB, d descriptor.Descriptor, actor string, now time.Time) (Session, error) {
	token, err := Impersonate(ctx, db, d, actor, now)
	if err != nil {
		return Session{}, err
	}
	return Validate(ctx, db, d, token, now)
}
