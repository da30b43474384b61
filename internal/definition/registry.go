// Package definition is the C1 component: object/resource type metadata.
// Definitions are registered once at start-up and are immutable afterwards;
// the object store (internal/store) looks them up to type-check and
// default-initialise instances, the codecs (internal/codec) use them to
// serialise arbitrary sub-trees generically, and the dispatcher
// (internal/dispatch) uses them to check operation permissions — all without
// bespoke per-object code, which is the whole point of making the schema
// query-able (spec §4.1 rationale).
package definition

import (
	"fmt"
	"sort"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/lwm2merr"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
)

// Operations is a bitmask of the LwM2M operations a resource supports.
type Operations byte

const (
	OpRead Operations = 1 << iota
	OpWrite
	OpExecute
)

func (o Operations) Has(op Operations) bool { return o&op != 0 }

// OpContext is passed to every resource/object handler. It carries enough of
// the address for the handler to act without reaching back into the store.
type OpContext struct {
	Path   model.Path
	Server int // short-server-ID of the requester, 0 for local/bootstrap callers
}

// ResourceOps is the capability trait a resource definition's owner supplies
// — spec §9's re-expression of the source's handler vtable of raw function
// pointers. Implementers set only the fields they need; a nil field falls
// back to the store's default behaviour (spec §4.2 "Handler dispatch").
type ResourceOps struct {
	Read           func(ctx OpContext) (model.Value, error)
	Write          func(ctx OpContext, v model.Value) error
	Execute        func(ctx OpContext, arg []byte) error
	CreateOptional func(ctx OpContext) error
}

// ObjectOps is the object-level capability trait (spec §4.1: "object
// definition has ... an object-operation vtable {create_instance, delete}").
type ObjectOps struct {
	CreateInstance func(ctx OpContext, iid model.ID) error
	Delete         func(ctx OpContext) error
}

// ResourceDefinition is the C1 metadata for one resource within an object.
type ResourceDefinition struct {
	ID            model.ID
	Name          string
	Kind          model.Kind
	Array         bool // true for "arrays of each" multi-instance resources
	MinInstances  int
	MaxInstances  int
	Operations    Operations
	Default       *model.Value
	Ops           ResourceOps
}

// Mandatory reports whether at least one instance of this resource must
// exist whenever its parent object-instance exists (spec §3 invariant).
func (r *ResourceDefinition) Mandatory() bool { return r.MinInstances >= 1 }

// validate enforces the invariants spec §4.1 lists for a resource definition.
func (r *ResourceDefinition) validate() error {
	if r.Operations.Has(OpExecute) && r.Kind != model.KindNone {
		return fmt.Errorf("%w: resource %d is executable but has a value type", lwm2merr.ErrDefinitionInvalid, r.ID)
	}
	if r.MaxInstances < r.MinInstances {
		return fmt.Errorf("%w: resource %d has max < min cardinality", lwm2merr.ErrDefinitionInvalid, r.ID)
	}
	if r.MinInstances < 0 {
		return fmt.Errorf("%w: resource %d has negative min cardinality", lwm2merr.ErrDefinitionInvalid, r.ID)
	}
	return nil
}

// equalFields reports whether two resource definitions describe the same
// schema, ignoring handler closures (used for idempotent redefinition).
func (r *ResourceDefinition) equalFields(o *ResourceDefinition) bool {
	return r.ID == o.ID && r.Name == o.Name && r.Kind == o.Kind && r.Array == o.Array &&
		r.MinInstances == o.MinInstances && r.MaxInstances == o.MaxInstances && r.Operations == o.Operations
}

// ObjectDefinition is the C1 metadata for one object.
type ObjectDefinition struct {
	ID           model.ID
	Name         string
	MinInstances int // 0 optional, 1 mandatory
	MaxInstances int // 1 for singleton, >1 for multi
	Ops          ObjectOps
	resources    []*ResourceDefinition
}

// Multi reports whether more than one instance of this object may exist.
func (o *ObjectDefinition) Multi() bool { return o.MaxInstances > 1 }

// Mandatory reports whether the object must have at least one instance.
func (o *ObjectDefinition) Mandatory() bool { return o.MinInstances >= 1 }

// Resources returns the resource definitions in ID order.
func (o *ObjectDefinition) Resources() []*ResourceDefinition {
	return o.resources
}

// Resource looks up a resource definition by ID, returning nil if absent.
func (o *ObjectDefinition) Resource(rid model.ID) *ResourceDefinition {
	for _, r := range o.resources {
		if r.ID == rid {
			return r
		}
	}
	return nil
}

func (o *ObjectDefinition) equalFields(other *ObjectDefinition) bool {
	if o.ID != other.ID || o.Name != other.Name || o.MinInstances != other.MinInstances || o.MaxInstances != other.MaxInstances {
		return false
	}
	if len(o.resources) != len(other.resources) {
		return false
	}
	for i, r := range o.resources {
		if !r.equalFields(other.resources[i]) {
			return false
		}
	}
	return true
}

// Registry is the C1 definition registry. The zero value is not ready to
// use — build one with NewRegistry.
type Registry struct {
	objects map[model.ID]*ObjectDefinition
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{objects: make(map[model.ID]*ObjectDefinition)}
}

// DefineObject registers an object definition. A later call with
// field-identical data is a no-op; a call with differing data fails with
// ErrAlreadyExists (spec §4.1: "idempotent ... fails" on conflicting
// redefinition).
func (r *Registry) DefineObject(def *ObjectDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: nil object definition", lwm2merr.ErrDefinitionInvalid)
	}
	if def.MaxInstances < def.MinInstances {
		return fmt.Errorf("%w: object %d has max < min cardinality", lwm2merr.ErrDefinitionInvalid, def.ID)
	}
	sorted := append([]*ResourceDefinition(nil), def.resources...)
	def.resources = sortResources(sorted)
	for _, res := range def.resources {
		if err := res.validate(); err != nil {
			return err
		}
	}
	if existing, ok := r.objects[def.ID]; ok {
		if existing.equalFields(def) {
			return nil
		}
		return fmt.Errorf("%w: object %d already defined", lwm2merr.ErrAlreadyExists, def.ID)
	}
	r.objects[def.ID] = def
	return nil
}

// DefineResource adds or idempotently redefines a resource on an already
// registered object.
func (r *Registry) DefineResource(objectID model.ID, res *ResourceDefinition) error {
	obj, ok := r.objects[objectID]
	if !ok {
		return fmt.Errorf("%w: object %d", lwm2merr.ErrNotDefined, objectID)
	}
	if err := res.validate(); err != nil {
		return err
	}
	if existing := obj.Resource(res.ID); existing != nil {
		if existing.equalFields(res) {
			return nil
		}
		return fmt.Errorf("%w: resource %d/%d already defined", lwm2merr.ErrAlreadyExists, objectID, res.ID)
	}
	obj.resources = sortResources(append(obj.resources, res))
	return nil
}

// LookupObject returns the object definition for id, or nil.
func (r *Registry) LookupObject(id model.ID) *ObjectDefinition {
	return r.objects[id]
}

// LookupResource returns the resource definition for oid/rid, or nil.
func (r *Registry) LookupResource(oid, rid model.ID) *ResourceDefinition {
	obj := r.objects[oid]
	if obj == nil {
		return nil
	}
	return obj.Resource(rid)
}

// NextObjectID returns the smallest defined object ID strictly greater than
// after (pass model.InvalidID to start from the beginning), and whether one
// was found. Used by the ordered-traversal cursors of C2/C4.
func (r *Registry) NextObjectID(after model.ID) (model.ID, bool) {
	var best model.ID
	found := false
	start := after != model.InvalidID
	for id := range r.objects {
		if start && id <= after {
			continue
		}
		if !found || id < best {
			best = id
			found = true
		}
	}
	return best, found
}

// NextResourceID returns the smallest resource ID on oid strictly greater
// than after, analogous to NextObjectID.
func (r *Registry) NextResourceID(oid, after model.ID) (model.ID, bool) {
	obj := r.objects[oid]
	if obj == nil {
		return 0, false
	}
	start := after != model.InvalidID
	for _, res := range obj.resources {
		if start && res.ID <= after {
			continue
		}
		return res.ID, true
	}
	return 0, false
}

// AllObjectIDs returns every defined object ID in ascending order.
func (r *Registry) AllObjectIDs() []model.ID {
	ids := make([]model.ID, 0, len(r.objects))
	for id := range r.objects {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortResources(rs []*ResourceDefinition) []*ResourceDefinition {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
	return rs
}

func sortIDs(ids []model.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
