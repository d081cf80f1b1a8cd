package session

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-worlds/domains/gameworlds/be/descriptor"
)

var now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func worldDescriptor() descriptor.Descriptor {
	var d descriptor.Descriptor
	d.Settings.WorldID = "s9"
	d.Settings.WorldUniqueID = 4
	d.Settings.SecureHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	return d
}

func expectUser(mock sqlmock.Sqlmock, hash string, access int) {
	mock.ExpectQuery(selectUser).
		WithArgs(SuperOperatorID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "password", "access"}).
			AddRow(SuperOperatorID, "Multihunter", hash, access))
}

func TestEstablish(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	expectUser(mock, "$2y$10$stored", 9)
	expectUser(mock, "$2y$10$stored", 9)

	s, err := Establish(context.Background(), db, worldDescriptor(), "ops@example.com", now)
	require.NoError(t, err)
	require.Equal(t, "s9", s.WorldID)
	require.Equal(t, int64(4), s.WorldUniqueID)
	require.Equal(t, SuperOperatorID, s.UserID)
	require.Equal(t, "Multihunter", s.UserName)
	require.Equal(t, "ops@example.com", s.Actor)
	require.True(t, now.Add(time.Minute).Equal(s.ExpiresAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	otherWorld := worldDescriptor()
	otherWorld.Settings.WorldUniqueID = 5

	tests := []struct {
		name       string
		descriptor descriptor.Descriptor
		storedHash string
		access     int
		at         time.Time
		readsRow   bool
	}{
		{name: "password rotated", descriptor: worldDescriptor(), storedHash: "$2y$10$rotated", access: 9, at: now, readsRow: true},
		{name: "access revoked", descriptor: worldDescriptor(), storedHash: "$2y$10$stored", access: 2, at: now, readsRow: true},
		{name: "expired", descriptor: worldDescriptor(), at: now.Add(2 * time.Minute)},
		{name: "reinstalled world", descriptor: otherWorld, at: now},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
			require.NoError(t, err)
			defer db.Close()

			expectUser(mock, "$2y$10$stored", 9)
			token, err := Impersonate(context.Background(), db, worldDescriptor(), "ops@example.com", now)
			require.NoError(t, err)

			if tt.readsRow {
				expectUser(mock, tt.storedHash, tt.access)
			}
			_, err = Validate(context.Background(), db, tt.descriptor, token, tt.at)
			require.ErrorIs(t, err, ErrImpersonationRejected)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestImpersonateMissingOperator(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(selectUser).
		WithArgs(SuperOperatorID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "password", "access"}))

	_, err = Impersonate(context.Background(), db, worldDescriptor(), "ops@example.com", now)
	require.ErrorIs(t, err, ErrImpersonationRejected)
}

func TestImpersonateWithoutSecret(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	expectUser(mock, "$2y$10$stored", 9)
	d := worldDescriptor()
	d.Settings.SecureHash = ""

	_, err = Impersonate(context.Background(), db, d, "ops@example.com", now)
	require.ErrorIs(t, err, ErrImpersonationRejected)
}
