package objects

import (
	"testing"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/definition"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterBuiltinsDefinesAllThree(t *testing.T) {
	reg := definition.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))

	security := reg.LookupObject(model.ObjectIDSecurity)
	require.NotNil(t, security)
	assert.True(t, security.Mandatory())
	assert.NotNil(t, security.Resource(model.ResourceIDSecurityURI))

	server := reg.LookupObject(model.ObjectIDServer)
	require.NotNil(t, server)
	lifetime := server.Resource(model.ResourceIDServerLifetime)
	require.NotNil(t, lifetime)
	assert.True(t, lifetime.Operations.Has(definition.OpWrite))

	acl := reg.LookupObject(model.ObjectIDACL)
	require.NotNil(t, acl)
	assert.False(t, acl.Mandatory())
}

func TestRegisterBuiltinsIsIdempotent(t *testing.T) {
	reg := definition.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg))
	assert.NoError(t, RegisterBuiltins(reg))
}
