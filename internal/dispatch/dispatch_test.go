package dispatch

import (
	"strconv"
	"testing"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/coap"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/definition"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/objects"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, model.ID) {
	t.Helper()
	reg := definition.NewRegistry()
	require.NoError(t, objects.RegisterBuiltins(reg))
	require.NoError(t, reg.DefineObject(&definition.ObjectDefinition{ID: 3, Name: "Device", MinInstances: 1, MaxInstances: 1}))
	require.NoError(t, reg.DefineResource(3, &definition.ResourceDefinition{
		ID: 0, Name: "Manufacturer", Kind: model.KindString, MinInstances: 1, MaxInstances: 1, Operations: definition.OpRead,
	}))
	require.NoError(t, reg.DefineResource(3, &definition.ResourceDefinition{
		ID: 1, Name: "Reboot", Kind: model.KindNone, Operations: definition.OpExecute,
	}))
	s := store.New(reg, nil)
	iid, err := s.CreateInstance(definition.OpContext{}, 3, model.InvalidID)
	require.NoError(t, err)
	require.NoError(t, s.Set(definition.OpContext{}, model.ResourcePath(3, iid, 0), model.String("Acme")))
	return &Dispatcher{Store: s}, iid
}

func TestHandleReadResourcePlainText(t *testing.T) {
	d, iid := newTestDispatcher(t)
	resp := d.Handle(1, &coap.Message{Code: coap.CodeGet, Options: pathOptions(3, iid, 0)})
	assert.Equal(t, coap.CodeContent, resp.Code)
	assert.Equal(t, "Acme", string(resp.Payload))
}

func TestHandleReadMissingInstanceIsNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Handle(1, &coap.Message{Code: coap.CodeGet, Options: pathOptions(3, 9, 0)})
	assert.Equal(t, coap.CodeNotFound, resp.Code)
}

func TestHandleWritePlainTextToReadOnlyIsRejected(t *testing.T) {
	d, iid := newTestDispatcher(t)
	req := &coap.Message{
		Code:    coap.CodePut,
		Options: pathOptionsWithOptionalResource(3, iid, 0),
		Payload: []byte("NewName"),
	}
	// Manufacturer is read-only in this test schema, so expect rejection.
	resp := d.Handle(1, req)
	assert.Equal(t, coap.CodeMethodNotAllowed, resp.Code)
}

func TestHandleExecute(t *testing.T) {
	d, iid := newTestDispatcher(t)
	resp := d.Handle(1, &coap.Message{Code: coap.CodePost, Options: pathOptions(3, iid, 1)})
	// No execute handler wired means ErrMethodNotAllowed surfaces as 4.05.
	assert.Equal(t, coap.CodeMethodNotAllowed, resp.Code)
}

func TestHandleCreateInstanceSetsLocation(t *testing.T) {
	d, _ := newTestDispatcher(t)
	require.NoError(t, d.Store.Registry().DefineObject(&definition.ObjectDefinition{ID: 4, Name: "Extra", MaxInstances: 2}))
	resp := d.Handle(1, &coap.Message{
		Code:    coap.CodePost,
		Options: []coap.Option{coap.NewOption(coap.OptionURIPath, "4")},
	})
	assert.Equal(t, coap.CodeCreated, resp.Code)
	assert.Equal(t, "/4/0", resp.Location)
}

func TestHandleDeleteInstance(t *testing.T) {
	d, iid := newTestDispatcher(t)
	resp := d.Handle(1, &coap.Message{Code: coap.CodeDelete, Options: instanceOptions(3, iid)})
	assert.Equal(t, coap.CodeDeleted, resp.Code)
}

func TestACLDeniesWhenConfigured(t *testing.T) {
	d, iid := newTestDispatcher(t)
	d.ACL = denyAll{}
	resp := d.Handle(1, &coap.Message{Code: coap.CodeGet, Options: pathOptions(3, iid, 0)})
	assert.Equal(t, coap.CodeForbidden, resp.Code)
}

type denyAll struct{}

func (denyAll) Allowed(server int, path model.Path, op definition.Operations) bool { return false }

func pathOptions(oid, iid, rid model.ID) []coap.Option {
	return []coap.Option{
		coap.NewOption(coap.OptionURIPath, itoa(oid)),
		coap.NewOption(coap.OptionURIPath, itoa(iid)),
		coap.NewOption(coap.OptionURIPath, itoa(rid)),
	}
}

func pathOptionsWithOptionalResource(oid, iid, rid model.ID) []coap.Option {
	return pathOptions(oid, iid, rid)
}

func instanceOptions(oid, iid model.ID) []coap.Option {
	return []coap.Option{
		coap.NewOption(coap.OptionURIPath, itoa(oid)),
		coap.NewOption(coap.OptionURIPath, itoa(iid)),
	}
}

func itoa(id model.ID) string {
	return strconv.Itoa(int(id))
}
