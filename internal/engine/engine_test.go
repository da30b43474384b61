package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/attribute"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/coap"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/definition"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/dispatch"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/objects"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport satisfies coap.Transport without needing a real socket.
type recordingTransport struct {
	sent []*coap.Message
	err  error
}

func (r *recordingTransport) Send(_ context.Context, msg *coap.Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}
func (r *recordingTransport) LocalEndpoint() string { return "test" }
func (r *recordingTransport) Close() error          { return nil }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	reg := definition.NewRegistry()
	require.NoError(t, objects.RegisterBuiltins(reg))
	require.NoError(t, reg.DefineObject(&definition.ObjectDefinition{ID: 3, Name: "Device", MinInstances: 1, MaxInstances: 1}))
	require.NoError(t, reg.DefineResource(3, &definition.ResourceDefinition{
		ID: 9, Name: "Battery Level", Kind: model.KindInteger, MinInstances: 1, MaxInstances: 1, Operations: definition.OpRead,
	}))
	s := store.New(reg, nil)
	_, err := s.CreateInstance(definition.OpContext{}, 3, model.InvalidID)
	require.NoError(t, err)
	return s
}

func TestBootstrapHoldOffThenRequests(t *testing.T) {
	s := newTestStore(t)
	d := &dispatch.Dispatcher{Store: s}
	tr := &recordingTransport{}
	b := NewBootstrap(s, d, tr, "urn:imei:123")

	now := fixedNow()
	require.NoError(t, b.Start(now, 5*time.Second))
	assert.Equal(t, BootstrapClientHoldOff, b.State)
	assert.Empty(t, tr.sent)

	require.NoError(t, b.Tick(now.Add(6*time.Second)))
	assert.Equal(t, BootstrapPending, b.State)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, coap.CodePost, tr.sent[0].Code)
}

func TestBootstrapTimesOutWaitingForRequestAck(t *testing.T) {
	s := newTestStore(t)
	d := &dispatch.Dispatcher{Store: s}
	tr := &recordingTransport{}
	b := NewBootstrap(s, d, tr, "urn:imei:123")

	now := fixedNow()
	require.NoError(t, b.Start(now, 0))
	require.NoError(t, b.Tick(now.Add(b.RequestTimeout+time.Second)))
	assert.Equal(t, BootstrapFailed, b.State)
}

func TestBootstrapTimesOutWaitingForFinish(t *testing.T) {
	s := newTestStore(t)
	d := &dispatch.Dispatcher{Store: s}
	tr := &recordingTransport{}
	b := NewBootstrap(s, d, tr, "urn:imei:123")

	now := fixedNow()
	require.NoError(t, b.Start(now, 0))
	b.HandleMessage(now, &coap.Message{Type: coap.TypeAcknowledgement, Code: coap.CodeCreated})
	assert.Equal(t, BootstrapFinishPending, b.State)

	require.NoError(t, b.Tick(now.Add(b.FinishTimeout+time.Second)))
	assert.Equal(t, BootstrapFailed, b.State)
}

func TestBootstrapFinishTransitionsToBootstrapped(t *testing.T) {
	s := newTestStore(t)
	d := &dispatch.Dispatcher{Store: s}
	tr := &recordingTransport{}
	b := NewBootstrap(s, d, tr, "urn:imei:123")

	now := fixedNow()
	require.NoError(t, b.Start(now, 0))
	b.HandleMessage(now, &coap.Message{Type: coap.TypeAcknowledgement, Code: coap.CodeCreated})
	assert.Equal(t, BootstrapFinishPending, b.State)

	resp := b.HandleMessage(now, &coap.Message{Code: coap.CodePost})
	assert.Equal(t, coap.CodeChanged, resp.Code)
	assert.Equal(t, BootstrapBootstrapped, b.State)
}

func TestRegistrationHappyPath(t *testing.T) {
	s := newTestStore(t)
	tr := &recordingTransport{}
	r := NewRegistration(s, tr, 123, "coap://server", 60, "U")

	now := fixedNow()
	require.NoError(t, r.Start(now))
	assert.Equal(t, RegistrationRegistering, r.State)
	require.Len(t, tr.sent, 1)

	r.HandleResponse(now, &coap.Message{
		Code:    coap.CodeCreated,
		Options: []coap.Option{coap.NewOption(coap.OptionLocationPath, "rd"), coap.NewOption(coap.OptionLocationPath, "abc123")},
	})
	assert.Equal(t, RegistrationRegistered, r.State)
	assert.Equal(t, "/rd/abc123", r.Location)
}

func TestRegistrationFailureRetriesThenFails(t *testing.T) {
	s := newTestStore(t)
	tr := &recordingTransport{}
	r := NewRegistration(s, tr, 123, "coap://server", 60, "U")
	now := fixedNow()
	require.NoError(t, r.Start(now))

	for i := 0; i < DefaultMaxRetries; i++ {
		r.HandleResponse(now, &coap.Message{Code: coap.CodeBadRequest})
		if r.State == RegistrationFailed {
			break
		}
		require.NoError(t, r.Tick(now.Add(time.Duration(r.Lifetime)*time.Second+time.Second)))
	}
	assert.Equal(t, RegistrationFailed, r.State)
}

func TestRegistrationUpdateScheduledAtHalfLifetime(t *testing.T) {
	s := newTestStore(t)
	tr := &recordingTransport{}
	r := NewRegistration(s, tr, 123, "coap://server", 60, "U")
	now := fixedNow()
	require.NoError(t, r.Start(now))
	r.HandleResponse(now, &coap.Message{Code: coap.CodeCreated})

	require.NoError(t, r.Tick(now.Add(29*time.Second)))
	assert.Equal(t, RegistrationRegistered, r.State)

	require.NoError(t, r.Tick(now.Add(31*time.Second)))
	assert.Equal(t, RegistrationUpdating, r.State)
}

func TestObservationNotifiesOnChangeAfterPMin(t *testing.T) {
	s := newTestStore(t)
	attrs := attribute.New()
	eng := NewEngine(s, attrs)

	now := fixedNow()
	path := model.ResourcePath(3, 0, 9)
	require.NoError(t, s.Set(definition.OpContext{}, path, model.Integer(50)))
	require.NoError(t, eng.Register(now, 123, path, []byte{1, 2, 3}))

	pmin := func(int) int64 { return 5 }
	pmax := func(int) int64 { return 0 }

	notes, err := eng.Tick(now.Add(1*time.Second), pmin, pmax)
	require.NoError(t, err)
	assert.Empty(t, notes, "no change and pmin not elapsed yet")

	require.NoError(t, s.Set(definition.OpContext{}, path, model.Integer(60)))
	notes, err = eng.Tick(now.Add(6*time.Second), pmin, pmax)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, uint32(1), notes[0].Seq)
}

func TestObservationPMaxForcesNotifyWithoutChange(t *testing.T) {
	s := newTestStore(t)
	attrs := attribute.New()
	eng := NewEngine(s, attrs)
	now := fixedNow()
	path := model.ResourcePath(3, 0, 9)
	require.NoError(t, s.Set(definition.OpContext{}, path, model.Integer(50)))
	require.NoError(t, eng.Register(now, 123, path, []byte{1}))

	pmin := func(int) int64 { return 0 }
	pmax := func(int) int64 { return 10 }

	notes, err := eng.Tick(now.Add(11*time.Second), pmin, pmax)
	require.NoError(t, err)
	require.Len(t, notes, 1)
}

func fixedNow() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}
