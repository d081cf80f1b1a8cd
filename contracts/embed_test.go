package contracts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWorlds(t *testing.T) {
	spec, err := LoadWorlds()
	require.NoError(t, err)
	require.NoError(t, spec.Validate(context.Background()))

	for _, path := range []string{"/admin/worlds", "/admin/worlds/{id}/flags", "/admin/world"} {
		require.NotNil(t, spec.Paths.Find(path), path)
	}

	op := spec.Paths.Find("/admin/worlds").Post
	require.Equal(t, "worlds:provision", op.Extensions["x-authz"])
}
