package store

import (
	"testing"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/definition"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/lwm2merr"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	reg := definition.NewRegistry()
	require.NoError(t, objects.RegisterBuiltins(reg))
	require.NoError(t, reg.DefineObject(&definition.ObjectDefinition{
		ID: 3, Name: "Device", MinInstances: 1, MaxInstances: 1,
	}))
	require.NoError(t, reg.DefineResource(3, &definition.ResourceDefinition{
		ID: 1, Name: "Manufacturer", Kind: model.KindString, MinInstances: 0, MaxInstances: 1,
		Operations: definition.OpRead,
	}))
	require.NoError(t, reg.DefineResource(3, &definition.ResourceDefinition{
		ID: 11, Name: "Error Code", Kind: model.KindInteger, Array: true, MinInstances: 1, MaxInstances: 8,
		Operations: definition.OpRead,
	}))
	return New(reg, nil)
}

func TestCreateInstancePopulatesMandatoryResources(t *testing.T) {
	s := newTestStore(t)
	iid, err := s.CreateInstance(definition.OpContext{}, 3, model.InvalidID)
	require.NoError(t, err)
	assert.Equal(t, model.ID(0), iid)

	v, err := s.Get(definition.OpContext{}, model.ResourceInstancePath(3, iid, 11, 0))
	require.NoError(t, err)
	assert.Equal(t, model.KindInteger, v.Kind)
}

func TestCreateInstanceSingletonRejectsSecond(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateInstance(definition.OpContext{}, 3, model.InvalidID)
	require.NoError(t, err)
	_, err = s.CreateInstance(definition.OpContext{}, 3, model.InvalidID)
	assert.ErrorIs(t, err, lwm2merr.ErrCardinalityExceeded)
}

func TestSetRejectsTypeMismatch(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateInstance(definition.OpContext{}, 3, model.InvalidID)
	require.NoError(t, err)
	err = s.Set(definition.OpContext{}, model.ResourcePath(3, 0, 1), model.Integer(5))
	assert.ErrorIs(t, err, lwm2merr.ErrTypeMismatch)
}

func TestSetRejectsReadOnlyResource(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateInstance(definition.OpContext{}, 3, model.InvalidID)
	require.NoError(t, err)
	err = s.Set(definition.OpContext{Server: 1}, model.ResourcePath(3, 0, 1), model.String("Acme"))
	assert.ErrorIs(t, err, lwm2merr.ErrMethodNotAllowed)
}

func TestGetMissingPathFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(definition.OpContext{}, model.ResourcePath(3, 0, 1))
	assert.ErrorIs(t, err, lwm2merr.ErrPathNotFound)
}

func TestDeleteAllKeepsBootstrapSecurity(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateInstance(definition.OpContext{}, model.ObjectIDSecurity, model.InvalidID)
	require.NoError(t, err)
	_, err = s.CreateInstance(definition.OpContext{}, 3, model.InvalidID)
	require.NoError(t, err)

	s.DeleteAll(model.InstancePath(model.ObjectIDSecurity, 0))

	assert.Contains(t, s.InstanceIDs(model.ObjectIDSecurity), model.ID(0))
	assert.Empty(t, s.InstanceIDs(3))
}

type countingSink struct{ n int }

func (c *countingSink) OnChange(model.Path) { c.n++ }

func TestChangeSinkFiresOnSet(t *testing.T) {
	reg := definition.NewRegistry()
	require.NoError(t, objects.RegisterBuiltins(reg))
	sink := &countingSink{}
	s := New(reg, sink)
	_, err := s.CreateInstance(definition.OpContext{}, model.ObjectIDServer, model.InvalidID)
	require.NoError(t, err)
	before := sink.n
	err = s.Set(definition.OpContext{}, model.ResourcePath(model.ObjectIDServer, 0, model.ResourceIDServerLifetime), model.Integer(120))
	require.NoError(t, err)
	assert.Greater(t, sink.n, before)
}
