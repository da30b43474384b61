// Package client wires components C1 through C6 into the single-threaded
// event loop cmd/lwm2mclientd drives: one Core per running client, ticked
// explicitly with the current time and fed inbound messages explicitly,
// replacing the teacher's goroutine-per-timer Lwm2m.StartUpdate/
// StartObserving pair (lwm2m.go) with the cooperative-scheduling model spec
// §9 calls for ("no engine owns a goroutine or reads a global clock").
package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/attribute"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/coap"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/definition"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/dispatch"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/engine"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/lwm2merr"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/store"
)

// BootstrapServerID is the pseudo short-server-ID used for every message
// exchanged with the bootstrap server, mirroring the teacher's treatment of
// bootstrap traffic as coming from outside the normal per-server account
// table (lwm2m_bootstrap.go never assigns the bootstrap peer a Short Server
// ID; the Security Object's own entry for it carries none either).
const BootstrapServerID = 0

// Core owns the object tree and every protocol engine for one running
// client. It never starts a goroutine: Tick and HandleMessage are the only
// entry points, called by the event loop in cmd/lwm2mclientd.
type Core struct {
	Store      *store.Store
	Attrs      *attribute.Store
	Dispatcher *dispatch.Dispatcher
	Observe    *engine.Engine
	Bootstrap  *engine.Bootstrap

	registrations map[int]*engine.Registration
	transports    map[int]coap.Transport

	log *slog.Logger
}

// New builds a Core around reg (already populated with builtin and
// discovered object definitions) and the bootstrap transport, generalizing
// the teacher's Inventoryd.Initialize (inventoryd.go).
func New(reg *definition.Registry, endpointID string, bootstrapTransport coap.Transport, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	s := store.New(reg, nil)
	attrs := attribute.New()
	d := &dispatch.Dispatcher{Store: s, Attrs: attrs}
	return &Core{
		Store:         s,
		Attrs:         attrs,
		Dispatcher:    d,
		Observe:       engine.NewEngine(s, attrs),
		Bootstrap:     engine.NewBootstrap(s, d, bootstrapTransport, endpointID),
		registrations: make(map[int]*engine.Registration),
		transports:    make(map[int]coap.Transport),
		log:           logger,
	}
}

// AddServer registers a transport and Registration engine for one
// configured Device Management server, grounded on the teacher's single
// fixed-server Lwm2m.Register, generalized to the multi-server account
// table the Server/Security objects hold (spec §3 "multiple server
// accounts").
func (c *Core) AddServer(shortServerID int, transport coap.Transport, uri string, lifetime int64, binding string) {
	c.transports[shortServerID] = transport
	c.registrations[shortServerID] = engine.NewRegistration(c.Store, transport, shortServerID, uri, lifetime, binding)
}

// StartRegistration kicks off the REGISTER sequence for a server already
// added via AddServer.
func (c *Core) StartRegistration(now time.Time, shortServerID int) error {
	reg, ok := c.registrations[shortServerID]
	if !ok {
		return fmt.Errorf("%w: no registration configured for server %d", lwm2merr.ErrNotDefined, shortServerID)
	}
	return reg.Start(now)
}

// Tick drives every time-based transition in bootstrap → registration →
// notification order (spec §5's ordering guarantee), sends each due Notify
// over its server's transport, and returns the notifications it produced.
// It logs engine-tick failures rather than
// propagating them: per spec §7, "engine failures are never propagated
// outward — they are absorbed as state transitions."
func (c *Core) Tick(now time.Time) []engine.Notification {
	if c.Bootstrap != nil && c.Bootstrap.State != engine.BootstrapBootstrapped && c.Bootstrap.State != engine.BootstrapFailed {
		if err := c.Bootstrap.Tick(now); err != nil {
			c.log.Error("bootstrap tick failed", "error", err)
		}
	}
	for id, reg := range c.registrations {
		if err := reg.Tick(now); err != nil {
			c.log.Error("registration tick failed", "server", id, "error", err)
		}
	}
	notes, err := c.Observe.Tick(now, c.defaultPMin, c.defaultPMax)
	if err != nil {
		c.log.Error("observation tick failed", "error", err)
		return nil
	}
	for _, n := range notes {
		if tr, ok := c.transports[n.Server]; ok {
			msg := &coap.Message{
				Type:    coap.TypeConfirmable,
				Code:    coap.CodeContent,
				Token:   n.Token,
				Payload: n.Payload,
				Options: []coap.Option{coap.ObserveOption(n.Seq), coap.ContentFormatOption(n.ContentFormat)},
			}
			if err := tr.Send(context.Background(), msg); err != nil {
				c.log.Error("notify send failed", "server", n.Server, "error", err)
			}
		}
	}
	return notes
}

// HandleMessage routes one inbound message to the right engine or the
// dispatcher, based on its type/code and whether it came from the
// bootstrap server. It never returns an error: responses and silent drops
// (for Ack/Reset traffic) are the only outcomes.
func (c *Core) HandleMessage(now time.Time, server int, msg *coap.Message) *dispatch.Response {
	if server == BootstrapServerID && c.Bootstrap.State != engine.BootstrapBootstrapped {
		return c.Bootstrap.HandleMessage(now, msg)
	}

	switch msg.Type {
	case coap.TypeAcknowledgement:
		if reg, ok := c.registrations[server]; ok {
			reg.HandleResponse(now, msg)
		}
		return nil
	case coap.TypeReset:
		if path, ok := c.Observe.TokenPath(server, msg.Token); ok {
			c.Observe.Deregister(server, path)
		}
		return nil
	}

	if msg.Code == coap.CodePut {
		if attrs, ok := parseWriteAttributes(msg.URIQueries()); ok {
			path, err := parsePathSegments(msg.URIPathSegments())
			if err != nil {
				return &dispatch.Response{Code: coap.CodeNotFound}
			}
			if err := attribute.Validate(attrs, c.isNumericResource(path)); err != nil {
				return &dispatch.Response{Code: coap.CodeBadRequest}
			}
			c.Attrs.Apply(server, path, attrs)
			return &dispatch.Response{Code: coap.CodeChanged}
		}
	}

	resp := c.Dispatcher.Handle(server, msg)
	if msg.Code == coap.CodeGet && msg.IsObserve() && resp.Code == coap.CodeContent {
		path, err := parsePathSegments(msg.URIPathSegments())
		if err == nil {
			if seq, _ := msg.ObserveSequence(); seq == 0 {
				if err := c.Observe.Register(now, server, path, msg.Token); err != nil {
					c.log.Error("observe register failed", "path", path, "error", err)
				}
			} else {
				c.Observe.Deregister(server, path)
			}
		}
	}
	return resp
}

// isNumericResource reports whether path addresses (or is nested under) a
// resource whose defined Kind supports gt/lt/st thresholds (spec §4.3).
// Object- and instance-level attachment points have no single Kind, so
// gt/lt/st are rejected there by returning false.
func (c *Core) isNumericResource(path model.Path) bool {
	if path.Depth < 3 {
		return false
	}
	res := c.Store.Registry().LookupResource(path.ObjectID, path.ResourceID)
	if res == nil {
		return false
	}
	return res.Kind == model.KindInteger || res.Kind == model.KindFloat
}

func (c *Core) defaultPMin(server int) int64 { return c.serverDefault(server, model.ResourceIDServerDefaultPMin) }
func (c *Core) defaultPMax(server int) int64 { return c.serverDefault(server, model.ResourceIDServerDefaultPMax) }

// serverDefault reads the Default Minimum/Maximum Period resource off the
// Server Object instance whose Short Server ID resource matches server,
// falling back to 0 (no default) if no such instance exists.
func (c *Core) serverDefault(server int, rid model.ID) int64 {
	for _, iid := range c.Store.InstanceIDs(model.ObjectIDServer) {
		shortID, err := c.Store.Get(definition.OpContext{}, model.ResourcePath(model.ObjectIDServer, iid, model.ResourceIDServerShortServerID))
		if err != nil {
			continue
		}
		if n, ok := shortID.Numeric(); ok && int(n) == server {
			v, err := c.Store.Get(definition.OpContext{}, model.ResourcePath(model.ObjectIDServer, iid, rid))
			if err != nil {
				return 0
			}
			if n, ok := v.Numeric(); ok {
				return int64(n)
			}
		}
	}
	return 0
}

// parseWriteAttributes reads the pmin/pmax/gt/lt/st/cancel query parameters
// a Write-Attributes PUT carries (spec §4.3), returning ok=false when none
// of the recognised keys are present so HandleMessage can fall through to a
// plain Write.
func parseWriteAttributes(queries []string) (attribute.Set, bool) {
	var set attribute.Set
	found := false
	for _, q := range queries {
		key, value := splitQuery(q)
		switch key {
		case "pmin":
			if n, err := parseInt64(value); err == nil {
				set.PMin = &n
				found = true
			}
		case "pmax":
			if n, err := parseInt64(value); err == nil {
				set.PMax = &n
				found = true
			}
		case "gt":
			if f, err := parseFloat64(value); err == nil {
				set.GT = &f
				found = true
			}
		case "lt":
			if f, err := parseFloat64(value); err == nil {
				set.LT = &f
				found = true
			}
		case "st":
			if f, err := parseFloat64(value); err == nil {
				set.ST = &f
				found = true
			}
		case "cancel":
			set.Cancel = true
			found = true
		}
	}
	return set, found
}

func splitQuery(q string) (key, value string) {
	for i := 0; i < len(q); i++ {
		if q[i] == '=' {
			return q[:i], q[i+1:]
		}
	}
	return q, ""
}

func parseInt64(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	return f, err
}

func parsePathSegments(segments []string) (model.Path, error) {
	if len(segments) == 0 || len(segments) > 4 {
		return model.Path{}, fmt.Errorf("%w: path has %d segments", lwm2merr.ErrPathInvalid, len(segments))
	}
	ids := make([]model.ID, len(segments))
	for i, seg := range segments {
		var n uint16
		if _, err := fmt.Sscanf(seg, "%d", &n); err != nil {
			return model.Path{}, fmt.Errorf("%w: segment %q", lwm2merr.ErrPathInvalid, seg)
		}
		ids[i] = model.ID(n)
	}
	switch len(ids) {
	case 1:
		return model.ObjectPath(ids[0]), nil
	case 2:
		return model.InstancePath(ids[0], ids[1]), nil
	case 3:
		return model.ResourcePath(ids[0], ids[1], ids[2]), nil
	default:
		return model.ResourceInstancePath(ids[0], ids[1], ids[2], ids[3]), nil
	}
}
