package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveObjectLocation(t *testing.T) {
	loc, err := ResolveObjectLocation("palmyra-dev-assets", "s9", "img/map.png")
	require.NoError(t, err)
	require.Equal(t, "palmyra-dev-assets", loc.Bucket)
	require.Equal(t, "worlds/s9/public/img/map.png", loc.FullPath)
}

func TestResolveObjectLocation_trimsSlashAndValidates(t *testing.T) {
	loc, err := ResolveObjectLocation("bucket", "s9", "/avatars/user.png")
	require.NoError(t, err)
	require.Equal(t, "worlds/s9/public/avatars/user.png", loc.FullPath)

	_, err = ResolveObjectLocation("", "s9", "file")
	require.Error(t, err)

	_, err = ResolveObjectLocation("bucket", "s9", " ")
	require.Error(t, err)

	_, err = ResolveObjectLocation("bucket", "s9", "../s10/secret")
	require.Error(t, err)

	_, err = ResolveObjectLocation("bucket", "Bad_Slug", "file")
	require.Error(t, err)
}

func TestPublicPrefix(t *testing.T) {
	prefix, err := PublicPrefix("alpha-2")
	require.NoError(t, err)
	require.Equal(t, "worlds/alpha-2/public/", prefix)
}
