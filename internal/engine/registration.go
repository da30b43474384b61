package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/coap"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/codec"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/store"
)

// RegistrationState is one state of a per-server registration (spec
// §4.6.2), supplemented from lwm2m_registration.c's Lwm2mRegistrationState.
type RegistrationState int

const (
	RegistrationNotRegistered RegistrationState = iota
	RegistrationRegister
	RegistrationRegistering
	RegistrationRegistered
	RegistrationUpdating
	RegistrationDeregister
	RegistrationDeregistering
	RegistrationFailedRetry
	RegistrationFailed
)

func (s RegistrationState) String() string {
	switch s {
	case RegistrationNotRegistered:
		return "NotRegistered"
	case RegistrationRegister:
		return "Register"
	case RegistrationRegistering:
		return "Registering"
	case RegistrationRegistered:
		return "Registered"
	case RegistrationUpdating:
		return "UpdatingRegistration"
	case RegistrationDeregister:
		return "Deregister"
	case RegistrationDeregistering:
		return "Deregistering"
	case RegistrationFailedRetry:
		return "RegisterFailedRetry"
	case RegistrationFailed:
		return "RegisterFailed"
	default:
		return "Unknown"
	}
}

// DefaultRegisterTimeout bounds how long Registering/Updating may wait for a
// response before the attempt is considered failed (spec §4.6.2's 30s
// Registering/Updating timeout). DefaultMaxRetries is the bound this client
// adds for the retry cascade the teacher never needed (it only ever ran
// against one server and never retried) — spec §9 Open Question "how many
// times should registration retry before falling back to bootstrap" is
// decided here as 10, matching the source's Lwm2mCore_Tick retry-count
// ceiling.
const (
	DefaultRegisterTimeout = 30 * time.Second
	DefaultMaxRetries      = 10
)

// Registration drives one server's Register/Update/Deregister lifecycle.
type Registration struct {
	State         RegistrationState
	ShortServerID int
	ServerURI     string
	Lifetime      int64
	Binding       string
	Location      string

	store     *store.Store
	transport coap.Transport

	timeout      time.Duration
	nextUpdateAt time.Time
	deadline     time.Time
	retries      int
}

// NewRegistration builds a Registration engine for one server.
func NewRegistration(s *store.Store, transport coap.Transport, shortServerID int, uri string, lifetime int64, binding string) *Registration {
	return &Registration{
		State:         RegistrationNotRegistered,
		ShortServerID: shortServerID,
		ServerURI:     uri,
		Lifetime:      lifetime,
		Binding:       binding,
		store:         s,
		transport:     transport,
		timeout:       DefaultRegisterTimeout,
	}
}

// Start issues the initial REGISTER request, grounded on Register/
// buildRegisterOptions and registerLinkFormat, generalized from the
// teacher's fixed handler-driven object walk to the store's live tree.
func (r *Registration) Start(now time.Time) error {
	r.State = RegistrationRegistering
	msg := &coap.Message{
		Type: coap.TypeConfirmable,
		Code: coap.CodePost,
		Options: append([]coap.Option{
			coap.NewOption(coap.OptionURIPath, "rd"),
			coap.NewOption(coap.OptionURIQuery, fmt.Sprintf("lt=%d", r.Lifetime)),
			coap.NewOption(coap.OptionURIQuery, "b="+r.Binding),
			coap.ContentFormatOption(coap.ContentFormatLinkFormat),
		}),
		Payload: codec.EncodeRegistrationLinks(r.Binding, r.instanceMap()),
	}
	if err := r.transport.Send(context.Background(), msg); err != nil {
		r.State = RegistrationFailedRetry
		return err
	}
	r.deadline = now.Add(r.timeout)
	return nil
}

func (r *Registration) instanceMap() map[model.ID][]model.ID {
	out := make(map[model.ID][]model.ID)
	for _, oid := range r.store.ObjectIDs() {
		out[oid] = r.store.InstanceIDs(oid)
	}
	return out
}

// HandleResponse processes the server's response to the in-flight
// Register/Update/Deregister request.
func (r *Registration) HandleResponse(now time.Time, msg *coap.Message) {
	switch r.State {
	case RegistrationRegistering:
		if msg.Code == coap.CodeCreated {
			locs := msg.LocationPathSegments()
			if len(locs) > 0 {
				r.Location = "/" + joinSlash(locs)
			}
			r.State = RegistrationRegistered
			r.retries = 0
			r.nextUpdateAt = now.Add(time.Duration(r.Lifetime) * time.Second / 2)
			return
		}
		r.registerFailed(now)
	case RegistrationUpdating:
		if msg.Code == coap.CodeChanged {
			r.State = RegistrationRegistered
			r.nextUpdateAt = now.Add(time.Duration(r.Lifetime) * time.Second / 2)
			return
		}
		r.registerFailed(now)
	case RegistrationDeregistering:
		r.State = RegistrationNotRegistered
	}
}

// registerFailed moves to RegistrationFailedRetry and schedules the retry
// spaced by the server's own lifetime, not the request timeout (spec
// §4.6.2, scenario 6: "retries are spaced by the server's lifetime").
func (r *Registration) registerFailed(now time.Time) {
	r.retries++
	if r.retries >= DefaultMaxRetries {
		r.State = RegistrationFailed
		return
	}
	r.State = RegistrationFailedRetry
	r.deadline = now.Add(time.Duration(r.Lifetime) * time.Second)
}

// Tick drives time-based transitions: sending an Update when nextUpdateAt
// has passed, retrying a failed register/update, and counting a timeout
// while waiting for a response as a failed attempt (RegisterFailed once
// DefaultMaxRetries attempts have failed).
func (r *Registration) Tick(now time.Time) error {
	switch r.State {
	case RegistrationRegister:
		return r.Start(now)
	case RegistrationRegistered:
		if !now.Before(r.nextUpdateAt) {
			return r.update(now)
		}
	case RegistrationFailedRetry:
		if !now.Before(r.deadline) {
			return r.Start(now)
		}
	case RegistrationRegistering, RegistrationUpdating:
		if !now.Before(r.deadline) {
			r.registerFailed(now)
		}
	}
	return nil
}

// update issues the REGISTRATION UPDATE request: a PUT to the Location the
// 2.01 Created gave at Register time, carrying the same lt/b Uri-Query
// parameters as Register (spec §4.6.2 "send PUT to Location", §6 "Update:
// PUT {location}?lt=…&b=…"), grounded on Update/buildUpdateOptions.
func (r *Registration) update(now time.Time) error {
	r.State = RegistrationUpdating
	msg := &coap.Message{
		Type: coap.TypeConfirmable,
		Code: coap.CodePut,
		Options: append(locationPathOptions(r.Location),
			coap.NewOption(coap.OptionURIQuery, fmt.Sprintf("lt=%d", r.Lifetime)),
			coap.NewOption(coap.OptionURIQuery, "b="+r.Binding),
		),
	}
	if err := r.transport.Send(context.Background(), msg); err != nil {
		r.registerFailed(now)
		return err
	}
	r.deadline = now.Add(r.timeout)
	return nil
}

// Deregister issues DEREGISTER (spec §4.6.2 "Deregister").
func (r *Registration) Deregister(now time.Time) error {
	r.State = RegistrationDeregistering
	msg := &coap.Message{
		Type:    coap.TypeConfirmable,
		Code:    coap.CodeDelete,
		Options: locationPathOptions(r.Location),
	}
	return r.transport.Send(context.Background(), msg)
}

func joinSlash(segs []string) string {
	out := segs[0]
	for _, s := range segs[1:] {
		out += "/" + s
	}
	return out
}

// locationPathOptions splits a Location such as "/rd/abc123" into one
// Uri-Path option per segment, the form PUT/DELETE need it in on the wire
// (RFC 7252 §5.10.1: one option per path segment, not one option holding an
// embedded "/").
func locationPathOptions(location string) []coap.Option {
	segs := strings.Split(trimLeadingSlash(location), "/")
	opts := make([]coap.Option, 0, len(segs))
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		opts = append(opts, coap.NewOption(coap.OptionURIPath, seg))
	}
	return opts
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}
