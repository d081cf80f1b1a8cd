package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	a, err := New()
	require.NoError(t, err)

	tests := []struct {
		roles  []string
		object string
		action string
		allow  bool
	}{
		{[]string{RoleAdmin}, ObjectWorlds, ActionProvision, true},
		{[]string{RoleAdmin}, OperationObject("flushCache"), ActionActivate, true},
		{[]string{RoleOperator}, ObjectWorlds, ActionWrite, true},
		{[]string{RoleOperator}, ObjectWorlds, ActionProvision, false},
		{[]string{RoleOperator}, OperationObject("config"), ActionActivate, true},
		{[]string{RoleViewer}, ObjectWorlds, ActionRead, true},
		{[]string{RoleViewer}, ObjectWorlds, ActionWrite, false},
		{[]string{RoleViewer}, OperationObject("players"), ActionActivate, true},
		{[]string{RoleViewer}, OperationObject("flushCache"), ActionActivate, false},
		{[]string{"stranger"}, ObjectWorlds, ActionRead, false},
		{nil, ObjectWorlds, ActionRead, false},
		{[]string{"stranger", RoleViewer}, ObjectWorlds, ActionRead, true},
	}

	for _, tt := range tests {
		ok, err := a.Allow(tt.roles, tt.object, tt.action)
		require.NoError(t, err)
		require.Equal(t, tt.allow, ok, "%v %s %s", tt.roles, tt.object, tt.action)
	}
}

func TestAssignInheritsRole(t *testing.T) {
	t.Parallel()

	a, err := New()
	require.NoError(t, err)
	require.NoError(t, a.Assign("support", RoleViewer))

	ok, err := a.Allow([]string{"support"}, ObjectWorlds, ActionRead)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Grant("support", OperationObject("config"), ActionActivate))
	ok, err = a.Allow([]string{"support"}, OperationObject("config"), ActionActivate)
	require.NoError(t, err)
	require.True(t, ok)
}
