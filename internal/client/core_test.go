package client

import (
	"context"
	"testing"
	"time"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/attribute"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/coap"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/definition"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/engine"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	sent []*coap.Message
}

func (r *recordingTransport) Send(_ context.Context, msg *coap.Message) error {
	r.sent = append(r.sent, msg)
	return nil
}
func (r *recordingTransport) LocalEndpoint() string { return "test" }
func (r *recordingTransport) Close() error          { return nil }

func newTestCore(t *testing.T) *Core {
	t.Helper()
	reg := definition.NewRegistry()
	require.NoError(t, objects.RegisterBuiltins(reg))
	require.NoError(t, reg.DefineObject(&definition.ObjectDefinition{ID: 3, Name: "Device", MinInstances: 1, MaxInstances: 1}))
	require.NoError(t, reg.DefineResource(3, &definition.ResourceDefinition{
		ID: 9, Name: "Battery Level", Kind: model.KindInteger, MinInstances: 1, MaxInstances: 1, Operations: definition.OpRead,
	}))
	c := New(reg, "urn:imei:123", &recordingTransport{}, nil)
	_, err := c.Store.CreateInstance(definition.OpContext{}, 3, model.InvalidID)
	require.NoError(t, err)
	return c
}

func fixedNow() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestHandleMessageRoutesBootstrapBeforeBootstrapped(t *testing.T) {
	c := newTestCore(t)
	now := fixedNow()
	require.NoError(t, c.Bootstrap.Start(now, 0))

	resp := c.HandleMessage(now, BootstrapServerID, &coap.Message{Code: coap.CodePost})
	assert.Equal(t, coap.CodeChanged, resp.Code)
	assert.Equal(t, engine.BootstrapBootstrapped, c.Bootstrap.State)
}

func TestHandleMessageObserveRegistersObservation(t *testing.T) {
	c := newTestCore(t)
	now := fixedNow()
	c.Bootstrap.State = engine.BootstrapBootstrapped

	resp := c.HandleMessage(now, 123, &coap.Message{
		Code: coap.CodeGet,
		Options: []coap.Option{
			coap.NewOption(coap.OptionURIPath, "3"),
			coap.NewOption(coap.OptionURIPath, "0"),
			coap.NewOption(coap.OptionURIPath, "9"),
			coap.ObserveOption(0),
		},
		Token: []byte{0xAB},
	})
	require.Equal(t, coap.CodeContent, resp.Code)
	assert.True(t, c.Observe.Active(123, model.ResourcePath(3, 0, 9)))
}

func TestHandleMessageWriteAttributesAppliesAndDoesNotWrite(t *testing.T) {
	c := newTestCore(t)
	now := fixedNow()
	c.Bootstrap.State = engine.BootstrapBootstrapped

	resp := c.HandleMessage(now, 123, &coap.Message{
		Code: coap.CodePut,
		Options: []coap.Option{
			coap.NewOption(coap.OptionURIPath, "3"),
			coap.NewOption(coap.OptionURIPath, "0"),
			coap.NewOption(coap.OptionURIPath, "9"),
			coap.NewOption(coap.OptionURIQuery, "pmin=5"),
			coap.NewOption(coap.OptionURIQuery, "pmax=60"),
		},
	})
	assert.Equal(t, coap.CodeChanged, resp.Code)
	resolved := c.Attrs.Resolve(123, model.ResourcePath(3, 0, 9), 0, 0)
	assert.Equal(t, int64(5), resolved.PMin)
	assert.Equal(t, int64(60), resolved.PMax)
}

func TestHandleMessageResetCancelsObservation(t *testing.T) {
	c := newTestCore(t)
	now := fixedNow()
	c.Bootstrap.State = engine.BootstrapBootstrapped
	path := model.ResourcePath(3, 0, 9)
	require.NoError(t, c.Observe.Register(now, 123, path, []byte{0xCD}))
	require.True(t, c.Observe.Active(123, path))

	c.HandleMessage(now, 123, &coap.Message{Type: coap.TypeReset, Token: []byte{0xCD}})
	assert.False(t, c.Observe.Active(123, path))
}

func TestTickSendsNotificationAfterPMax(t *testing.T) {
	c := newTestCore(t)
	now := fixedNow()
	c.Bootstrap.State = engine.BootstrapBootstrapped
	path := model.ResourcePath(3, 0, 9)

	tr := &recordingTransport{}
	c.transports[123] = tr

	require.NoError(t, c.Observe.Register(now, 123, path, []byte{1}))
	pmax := int64(5)
	c.Attrs.Apply(123, path, attribute.Set{PMax: &pmax})

	notes := c.Tick(now.Add(6 * time.Second))
	require.Len(t, notes, 1)
	require.Len(t, tr.sent, 1)
}
