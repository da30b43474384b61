// Package engine holds the C6 protocol engines: the Bootstrap state
// machine, the per-server Registration state machine, and the Observation/
// Notification engine. Every engine takes the current time as an explicit
// `now time.Time` argument instead of reading a global clock or owning a
// goroutine (spec §9's redesign flag), so the single-threaded event loop in
// cmd/lwm2mclientd drives all three with one tick.
//
// Grounded on the teacher's lwm2mBootstrap/Lwm2m register state
// (lwm2m_bootstrap.go, lwm2m_register.go), generalized from their blocking
// channel-wait style to an explicit state enum the caller polls, and
// supplemented from original_source/core/src/client/lwm2m_bootstrap.c and
// lwm2m_registration.c for the state names and transitions the teacher's
// simplified version collapsed away.
package engine

import (
	"context"
	"time"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/coap"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/definition"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/dispatch"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/store"
)

// BootstrapState is one state of the client bootstrap sequence (spec
// §4.6.1), supplemented from lwm2m_bootstrap.c's Lwm2mBootstrapState enum.
type BootstrapState int

const (
	BootstrapNotBootstrapped BootstrapState = iota
	BootstrapCheckExisting
	BootstrapClientHoldOff
	BootstrapPending
	BootstrapFinishPending
	BootstrapBootstrapped
	BootstrapFailed
)

func (s BootstrapState) String() string {
	switch s {
	case BootstrapNotBootstrapped:
		return "NotBootstrapped"
	case BootstrapCheckExisting:
		return "CheckExisting"
	case BootstrapClientHoldOff:
		return "ClientHoldOff"
	case BootstrapPending:
		return "BootstrapPending"
	case BootstrapFinishPending:
		return "BootstrapFinishPending"
	case BootstrapBootstrapped:
		return "Bootstrapped"
	case BootstrapFailed:
		return "BootstrapFailed"
	default:
		return "Unknown"
	}
}

// DefaultRequestTimeout bounds BootstrapPending: how long the client waits
// for the server's Ack to the BOOTSTRAP-REQUEST before giving up (spec
// §4.6.1 BOOTSTRAP_TIMEOUT). DefaultFinishTimeout bounds BootstrapFinishPending
// separately: how long the client waits, once the request is acked, for the
// server to actually write the Security/Server objects and send
// BOOTSTRAP-FINISH. The teacher's lwm2mBootstrapTimeout collapsed both into
// one 30s value; split here because the two waits have different causes —
// a lost request vs. a server that's still deciding what to provision.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultFinishTimeout  = 15 * time.Second
)

// Bootstrap drives the bootstrap sequence against a single bootstrap
// server. The store and dispatcher it wraps are the same ones serving
// normal registered-server traffic; bootstrap writes/deletes flow through
// the identical Dispatcher.Handle path with server 0, which is exempt from
// ACL checks (spec §4.6.1: "the bootstrap server account is implicitly
// trusted").
type Bootstrap struct {
	State          BootstrapState
	EndpointID     string
	HoldOff        time.Duration
	RequestTimeout time.Duration
	FinishTimeout  time.Duration

	store      *store.Store
	dispatcher *dispatch.Dispatcher
	transport  coap.Transport

	holdOffUntil              time.Time
	deadline                  time.Time
	bootstrapSecurityInstance model.ID
}

// NewBootstrap builds a Bootstrap engine bound to store s via dispatcher d,
// sending requests over transport.
func NewBootstrap(s *store.Store, d *dispatch.Dispatcher, transport coap.Transport, endpointID string) *Bootstrap {
	return &Bootstrap{
		State:          BootstrapNotBootstrapped,
		EndpointID:     endpointID,
		RequestTimeout: DefaultRequestTimeout,
		FinishTimeout:  DefaultFinishTimeout,
		store:          s,
		dispatcher:     d,
		transport:      transport,
	}
}

// Start begins the sequence: waits for holdOff first if it is positive (the
// caller supplies it; Start does not read the Security object), otherwise
// issues the BOOTSTRAP-REQUEST
// immediately (spec §4.6.1 "CheckExisting" / "ClientHoldOff" states),
// grounded on requestBootStrap.
func (b *Bootstrap) Start(now time.Time, holdOff time.Duration) error {
	b.State = BootstrapCheckExisting
	if holdOff > 0 {
		b.State = BootstrapClientHoldOff
		b.holdOffUntil = now.Add(holdOff)
		return nil
	}
	return b.request(now)
}

// Tick advances time-driven transitions: leaving ClientHoldOff once it
// elapses, and failing the sequence if the Pending/FinishPending deadline
// passes without the next expected message.
func (b *Bootstrap) Tick(now time.Time) error {
	switch b.State {
	case BootstrapClientHoldOff:
		if !now.Before(b.holdOffUntil) {
			return b.request(now)
		}
	case BootstrapPending, BootstrapFinishPending:
		if !now.Before(b.deadline) {
			b.State = BootstrapFailed
		}
	}
	return nil
}

func (b *Bootstrap) request(now time.Time) error {
	msg := &coap.Message{
		Type: coap.TypeConfirmable,
		Code: coap.CodePost,
		Options: []coap.Option{
			coap.NewOption(coap.OptionURIPath, "bs"),
			coap.NewOption(coap.OptionURIQuery, "ep="+b.EndpointID),
		},
	}
	if err := b.transport.Send(context.Background(), msg); err != nil {
		b.State = BootstrapFailed
		return err
	}
	b.State = BootstrapPending
	b.deadline = now.Add(b.RequestTimeout)
	return nil
}

// SetBootstrapSecurityInstance records which Security Object Instance the
// current bootstrap exchange is using, so a root BOOTSTRAP DELETE (see
// DeleteAllExceptBootstrap) knows which instance to spare.
func (b *Bootstrap) SetBootstrapSecurityInstance(iid model.ID) {
	b.bootstrapSecurityInstance = iid
}

// HandleMessage processes one inbound message from the bootstrap server:
// the Ack to the client's own BOOTSTRAP-REQUEST (the 2.01 Created that
// moves BootstrapPending → BootstrapFinishPending), Write/Create (CodePut),
// Delete, and the BOOTSTRAP-FINISH (CodePost), grounded on
// BootstrapReceiveMessage's type/code switch. Core routes every message
// from the bootstrap server here before its own Ack/Reset switch ever
// runs, so the Ack case has to be handled in this method, not in Core.
func (b *Bootstrap) HandleMessage(now time.Time, msg *coap.Message) *dispatch.Response {
	if msg.Type == coap.TypeAcknowledgement {
		b.handleRequestAck(now, msg)
		return nil
	}
	switch msg.Code {
	case coap.CodePut:
		b.State = BootstrapFinishPending
		b.deadline = now.Add(b.FinishTimeout)
		return b.dispatcher.Handle(0, msg)
	case coap.CodeDelete:
		b.State = BootstrapFinishPending
		b.deadline = now.Add(b.FinishTimeout)
		if len(msg.URIPathSegments()) == 0 {
			b.DeleteAllExceptBootstrap(b.bootstrapSecurityInstance)
			return &dispatch.Response{Code: coap.CodeDeleted}
		}
		return b.dispatcher.Handle(0, msg)
	case coap.CodePost:
		resp := b.finish(now, msg)
		return resp
	default:
		return &dispatch.Response{Code: coap.CodeMethodNotAllowed}
	}
}

// handleRequestAck processes the Ack acknowledging the client's own
// BOOTSTRAP-REQUEST POST. A 2.01 Created moves BootstrapPending into
// BootstrapFinishPending and starts the separate 15s finish deadline (spec
// §4.6.1); anything else while Pending fails the sequence outright.
func (b *Bootstrap) handleRequestAck(now time.Time, msg *coap.Message) {
	if b.State != BootstrapPending {
		return
	}
	if msg.Code != coap.CodeCreated {
		b.State = BootstrapFailed
		return
	}
	b.State = BootstrapFinishPending
	b.deadline = now.Add(b.FinishTimeout)
}

// finish handles BOOTSTRAP-FINISH: writes go through the dispatcher and the
// root delete-all through DeleteAllExceptBootstrap in HandleMessage; this
// only flips the terminal state (spec §4.6.1 "Bootstrapped").
func (b *Bootstrap) finish(now time.Time, msg *coap.Message) *dispatch.Response {
	if len(msg.URIPathSegments()) != 0 {
		return &dispatch.Response{Code: coap.CodeNotFound}
	}
	b.State = BootstrapBootstrapped
	return &dispatch.Response{Code: coap.CodeChanged}
}

// DeleteAllExceptBootstrap implements BOOTSTRAP DELETE with no path (spec
// §4.6.1 / §4.1 edge case: "all Object Instances MUST be removed, except
// the Security Object Instance the bootstrap exchange is using"), keeping
// only the given bootstrap security instance.
func (b *Bootstrap) DeleteAllExceptBootstrap(bootstrapSecurityInstance model.ID) {
	b.store.DeleteAll(model.InstancePath(model.ObjectIDSecurity, bootstrapSecurityInstance))
}

// OpContext is a convenience for callers outside this package that need to
// build one for bootstrap-triggered store operations (server 0).
func (b *Bootstrap) OpContext(path model.Path) definition.OpContext {
	return definition.OpContext{Server: 0, Path: path}
}
