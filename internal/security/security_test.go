package security

import (
	"testing"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectProtection_DefaultACL(t *testing.T) {
	creator := AccessContext{Identity: "ops", Role: "OPERATOR"}
	op := NewObjectProtection(PathNode("alpha"), creator)

	assert.True(t, op.HasAccess(SystemContext(), AccessControl))
	assert.True(t, op.HasAccess(creator, AccessControl))
	assert.True(t, op.HasAccess(AccessContext{Identity: "root", Role: RoleAdmin}, AccessControl))
	assert.True(t, op.HasAccess(PublicContext(), AccessView))
	assert.False(t, op.HasAccess(PublicContext(), AccessUse))
	assert.False(t, op.HasAccess(AccessContext{Identity: "visitor", Role: "GUEST"}, AccessView))
	assert.Equal(t, "ops", op.Owner())
}

func TestObjectProtection_SetAccess(t *testing.T) {
	op := NewObjectProtection(PathResourceGroups(), SystemContext())

	err := op.SetAccess(PublicContext(), RolePublic, AccessControl)
	require.Error(t, err)
	assert.True(t, apierr.IsAccessDenied(err))

	require.NoError(t, op.SetAccess(SystemContext(), RolePublic, AccessChange))
	require.NoError(t, op.RequireAccess(PublicContext(), AccessChange))

	require.NoError(t, op.SetAccess(SystemContext(), RolePublic, 0))
	err = op.RequireAccess(PublicContext(), AccessView)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/sys/controller/rscgrps")
}
