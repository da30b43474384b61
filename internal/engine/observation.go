package engine

import (
	"bytes"
	"time"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/attribute"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/coap"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/codec"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/definition"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/store"
)

// Notification is one Notify payload ready to send (spec §4.6.3).
type Notification struct {
	Server        int
	Token         []byte
	Seq           uint32
	ContentFormat coap.Code
	Payload       []byte
}

type observationKey struct {
	server int
	path   model.Path
}

type observedValue struct {
	path model.Path
	last model.Value
}

// observation is one active Observe registration; unlike the teacher's
// Lwm2mObservedResource/Lwm2mObservedInstance split, a single type covers
// both resource- and instance-level observation (spec §4.6.3 lifts the
// teacher's "object-level Observe not supported yet" restriction).
type observation struct {
	path     model.Path
	token    []byte
	seq      uint32
	values   []observedValue
	lastSent time.Time
}

// Engine is the C6 Observation/Notification engine.
type Engine struct {
	store *store.Store
	attrs *attribute.Store

	observations map[observationKey]*observation
}

// NewEngine builds an observation engine over s, resolving write-attributes
// from attrs.
func NewEngine(s *store.Store, attrs *attribute.Store) *Engine {
	return &Engine{store: s, attrs: attrs, observations: make(map[observationKey]*observation)}
}

// Register starts observing path for server, grounded on the teacher's
// StartObserving/Observe registration bookkeeping (lwm2m.go,
// lwm2m_device_management.go).
func (e *Engine) Register(now time.Time, server int, path model.Path, token []byte) error {
	values, err := e.readValues(path)
	if err != nil {
		return err
	}
	e.observations[observationKey{server, path}] = &observation{
		path:     path,
		token:    token,
		values:   values,
		lastSent: now,
	}
	return nil
}

// Deregister stops observing path for server, grounded on
// ObserveDeregister's Reset-triggered cancellation.
func (e *Engine) Deregister(server int, path model.Path) {
	delete(e.observations, observationKey{server, path})
}

// Active reports whether server currently observes path.
func (e *Engine) Active(server int, path model.Path) bool {
	_, ok := e.observations[observationKey{server, path}]
	return ok
}

// TokenPath finds the path server is observing under token, used to resolve
// a CoAP Reset (the peer rejecting a Notify) back to the observation it must
// cancel (RFC 7641 §4.9), since a Reset carries no Uri-Path of its own.
func (e *Engine) TokenPath(server int, token []byte) (model.Path, bool) {
	for k, obs := range e.observations {
		if k.server == server && bytes.Equal(obs.token, token) {
			return k.path, true
		}
	}
	return model.Path{}, false
}

func (e *Engine) readValues(path model.Path) ([]observedValue, error) {
	switch path.Depth {
	case 3, 4:
		v, err := e.store.Get(definition.OpContext{Path: path}, path)
		if err != nil {
			return nil, err
		}
		return []observedValue{{path: path, last: v}}, nil
	default:
		var values []observedValue
		for _, rid := range e.store.ResourceIDs(path.ObjectID, path.ObjectInstanceID) {
			rids, vals, err := e.store.GetResourceInstances(path.ObjectID, path.ObjectInstanceID, rid)
			if err != nil {
				return nil, err
			}
			for i, riid := range rids {
				p := model.ResourceInstancePath(path.ObjectID, path.ObjectInstanceID, rid, riid)
				if len(rids) == 1 {
					p = model.ResourcePath(path.ObjectID, path.ObjectInstanceID, rid)
				}
				values = append(values, observedValue{path: p, last: vals[i]})
			}
		}
		return values, nil
	}
}

// Tick evaluates every active observation against pmin/pmax/gt/lt/st and
// returns the Notify messages that should go out now (spec §4.6.3 "Notify
// trigger conditions"). defaultPMin/defaultPMax come from the relevant
// server's Default Minimum/Maximum Period resources.
func (e *Engine) Tick(now time.Time, defaultPMin, defaultPMax func(server int) int64) ([]Notification, error) {
	var out []Notification
	for k, obs := range e.observations {
		current, err := e.readValues(obs.path)
		if err != nil {
			return nil, err
		}
		pmin, pmax := defaultPMin(k.server), defaultPMax(k.server)
		resolved := e.attrs.Resolve(k.server, obs.path, pmin, pmax)

		elapsed := now.Sub(obs.lastSent)
		if elapsed < time.Duration(resolved.PMin)*time.Second {
			continue
		}
		pmaxForces := resolved.PMax > 0 && elapsed >= time.Duration(resolved.PMax)*time.Second
		changed := valuesChanged(obs.values, current, resolved)
		if !pmaxForces && !changed {
			continue
		}

		obs.seq++
		obs.values = current
		obs.lastSent = now

		n, err := e.buildNotification(k.server, obs, current)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (e *Engine) buildNotification(server int, obs *observation, values []observedValue) (Notification, error) {
	items := make([]codec.Item, len(values))
	for i, v := range values {
		items[i] = codec.Item{Path: v.path, Value: v.last}
	}
	kinds := make(map[model.ID]model.Kind)
	for _, res := range objectResources(e.store, obs.path.ObjectID) {
		kinds[res.ID] = res.Kind
	}
	var payload []byte
	if obs.path.Depth == 2 {
		payload = codec.EncodeTLVInstance(kinds, items)
	} else {
		payload = codec.EncodeTLVResource(obs.path.ResourceID, items)
	}
	return Notification{
		Server:        server,
		Token:         obs.token,
		Seq:           obs.seq,
		ContentFormat: coap.ContentFormatTLV,
		Payload:       payload,
	}, nil
}

func objectResources(s *store.Store, oid model.ID) []*definition.ResourceDefinition {
	obj := s.Registry().LookupObject(oid)
	if obj == nil {
		return nil
	}
	return obj.Resources()
}

// valuesChanged compares old and new observed values, applying gt/lt/st
// thresholds to numeric resources and plain equality to everything else
// (spec §4.6.3 "Notify trigger conditions": non-numeric resources notify on
// any change, numeric resources additionally honour gt/lt/st).
func valuesChanged(old, new []observedValue, attrs attribute.Resolved) bool {
	if len(old) != len(new) {
		return true
	}
	oldByPath := make(map[model.Path]model.Value, len(old))
	for _, v := range old {
		oldByPath[v.path] = v.last
	}
	for _, nv := range new {
		ov, ok := oldByPath[nv.path]
		if !ok {
			return true
		}
		if ov.Equal(nv.last) {
			continue
		}
		oldNum, oldIsNum := ov.Numeric()
		newNum, newIsNum := nv.last.Numeric()
		if !oldIsNum || !newIsNum {
			return true
		}
		if attrs.ST != nil && abs(newNum-oldNum) < *attrs.ST {
			continue
		}
		if attrs.GT != nil && newNum > *attrs.GT && oldNum <= *attrs.GT {
			return true
		}
		if attrs.LT != nil && newNum < *attrs.LT && oldNum >= *attrs.LT {
			return true
		}
		if attrs.GT == nil && attrs.LT == nil {
			return true
		}
	}
	return false
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
