package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{name: "full url", input: "https://www.example.com/index.php", expect: "example.com"},
		{name: "with port", input: "http://play.example.com:8080/", expect: "play.example.com"},
		{name: "no scheme", input: "WWW.Example.org", expect: "Example.org"},
		{name: "empty", input: "", expect: "localhost"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.expect, BaseDomain(tt.input))
		})
	}
}

func TestDerivedNames(t *testing.T) {
	t.Parallel()

	require.Equal(t, "worlds_eu_speed_3", BuildDatabaseName("eu-speed-3"))
	require.Equal(t, "http://s9.example.com/", GameWorldURL("s9", "example.com"))
	require.Equal(t, "/srv/worlds/s9/include/connection.yaml", DescriptorPath(WorldRoot("/srv/worlds", "s9")))
}

func TestWorldContext(t *testing.T) {
	t.Parallel()

	_, ok := FromContext(context.Background())
	require.False(t, ok)

	ctx := WithWorld(context.Background(), World{Slug: "s9", UniqueID: 4})
	w, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, int64(4), w.UniqueID)
}
