// Package store is the C2 component: the live object/instance/resource tree.
// It holds every value the client currently exposes, enforces the
// cardinality and type invariants the definition registry (C1) describes,
// and is the single place mutations happen — the dispatcher (C5), the
// bootstrap/registration engines and the observation engine (C6) all read
// and write through it rather than touching any storage of their own.
//
// Grounded on the teacher's Lwm2mObject/Lwm2mInstance/Lwm2mResource tree
// (lwm2m_resource.go) and its findInstance/findResource walk, generalized
// from the teacher's fixed built-in objects to any registered definition,
// and from its doubly-linked list navigation to ID-keyed maps (spec §9:
// "ID-keyed maps/slices instead of linked lists").
package store

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/definition"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/lwm2merr"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
)

// ChangeSink receives a notification every time a stored value changes.
// The observation engine (internal/engine) does not use it: it re-reads each
// observed value on every Tick, and client.New builds its Store with a nil
// sink.
type ChangeSink interface {
	OnChange(path model.Path)
}

type noopSink struct{}

func (noopSink) OnChange(model.Path) {}

// resourceValues holds one resource's instances, keyed by resource-instance
// ID. A single-instance resource always uses key 0.
type resourceValues map[model.ID]model.Value

type instance struct {
	resources map[model.ID]resourceValues
}

func newInstance() *instance {
	return &instance{resources: make(map[model.ID]resourceValues)}
}

// Store is the C2 object tree. The zero value is not ready to use — build
// one with New.
type Store struct {
	reg     *definition.Registry
	objects map[model.ID]map[model.ID]*instance
	sink    ChangeSink
}

// New builds a Store backed by reg. sink may be nil, in which case changes
// are discarded (useful in tests that don't exercise observation).
func New(reg *definition.Registry, sink ChangeSink) *Store {
	if sink == nil {
		sink = noopSink{}
	}
	return &Store{
		reg:     reg,
		objects: make(map[model.ID]map[model.ID]*instance),
		sink:    sink,
	}
}

// Registry returns the definition registry backing this store.
func (s *Store) Registry() *definition.Registry { return s.reg }

// CreateInstance creates a new object instance. If iid is model.InvalidID,
// the smallest unused instance ID is assigned. Mandatory resources are
// populated with their definition default, or the zero value of their kind
// if no default is set (spec §4.2 edge case 1: "a mandatory resource with
// no supplied default still reads back some value").
func (s *Store) CreateInstance(ctx definition.OpContext, oid, iid model.ID) (model.ID, error) {
	obj := s.reg.LookupObject(oid)
	if obj == nil {
		return 0, fmt.Errorf("%w: object %d", lwm2merr.ErrNotDefined, oid)
	}
	insts, ok := s.objects[oid]
	if !ok {
		insts = make(map[model.ID]*instance)
		s.objects[oid] = insts
	}
	if !obj.Multi() && len(insts) >= 1 {
		return 0, fmt.Errorf("%w: object %d is single-instance", lwm2merr.ErrCardinalityExceeded, oid)
	}
	if obj.MaxInstances > 0 && len(insts) >= obj.MaxInstances {
		return 0, fmt.Errorf("%w: object %d already has %d instances", lwm2merr.ErrCardinalityExceeded, oid, obj.MaxInstances)
	}
	if iid == model.InvalidID {
		iid = nextFreeID(insts)
	} else if _, exists := insts[iid]; exists {
		return 0, fmt.Errorf("%w: instance %d/%d", lwm2merr.ErrAlreadyExists, oid, iid)
	}
	inst := newInstance()
	for _, res := range obj.Resources() {
		if !res.Mandatory() {
			continue
		}
		inst.resources[res.ID] = resourceValues{0: defaultValue(res)}
	}
	insts[iid] = inst
	if obj.Ops.CreateInstance != nil {
		ictx := ctx
		ictx.Path = model.InstancePath(oid, iid)
		if err := obj.Ops.CreateInstance(ictx, iid); err != nil {
			delete(insts, iid)
			return 0, err
		}
	}
	s.sink.OnChange(model.InstancePath(oid, iid))
	return iid, nil
}

// DeleteInstance removes an object instance and every resource under it.
func (s *Store) DeleteInstance(ctx definition.OpContext, oid, iid model.ID) error {
	obj := s.reg.LookupObject(oid)
	if obj == nil {
		return fmt.Errorf("%w: object %d", lwm2merr.ErrNotDefined, oid)
	}
	insts, ok := s.objects[oid]
	if !ok {
		return fmt.Errorf("%w: %s", lwm2merr.ErrPathNotFound, model.InstancePath(oid, iid))
	}
	if _, exists := insts[iid]; !exists {
		return fmt.Errorf("%w: %s", lwm2merr.ErrPathNotFound, model.InstancePath(oid, iid))
	}
	if obj.Ops.Delete != nil {
		dctx := ctx
		dctx.Path = model.InstancePath(oid, iid)
		if err := obj.Ops.Delete(dctx); err != nil {
			return err
		}
	}
	delete(insts, iid)
	s.sink.OnChange(model.InstancePath(oid, iid))
	return nil
}

// DeleteAll removes every object instance in the tree except the given
// object instances to keep (bootstrap-delete keeps the bootstrap Security
// instance, spec §4.6.1 "Delete": "all Object Instances ... are deleted,
// except ... the bootstrap server account").
func (s *Store) DeleteAll(keep ...model.Path) {
	keepSet := make(map[model.Path]bool, len(keep))
	for _, p := range keep {
		keepSet[p] = true
	}
	for oid, insts := range s.objects {
		for iid := range insts {
			if keepSet[model.InstancePath(oid, iid)] {
				continue
			}
			delete(insts, iid)
			s.sink.OnChange(model.InstancePath(oid, iid))
		}
	}
}

// Exists reports whether path addresses something currently in the tree.
func (s *Store) Exists(path model.Path) bool {
	_, err := s.Get(definition.OpContext{Path: path}, path)
	return err == nil
}

// Get reads a single value addressed by path (Depth 3 or 4). A read at
// Depth 3 returns resource-instance 0: the sole value of a single-instance
// resource, and only instance 0 of a multi-instance resource (ErrPathNotFound
// if that instance is absent). GetResourceInstances returns every instance.
func (s *Store) Get(ctx definition.OpContext, path model.Path) (model.Value, error) {
	res, rv, err := s.lookup(path)
	if err != nil {
		return model.Value{}, err
	}
	if !res.Operations.Has(definition.OpRead) && res.Operations != 0 {
		return model.Value{}, fmt.Errorf("%w: %s", lwm2merr.ErrMethodNotAllowed, path)
	}
	if res.Ops.Read != nil {
		rctx := ctx
		rctx.Path = path
		return res.Ops.Read(rctx)
	}
	riid := path.ResourceInstanceID
	if path.Depth == 3 {
		riid = 0
	}
	v, ok := rv[riid]
	if !ok {
		return model.Value{}, fmt.Errorf("%w: %s", lwm2merr.ErrPathNotFound, path)
	}
	return v, nil
}

// GetResourceInstances returns every resource-instance value under a
// resource, in resource-instance-ID order, for multi-instance resources and
// TLV/JSON array serialisation.
func (s *Store) GetResourceInstances(oid, iid, rid model.ID) ([]model.ID, []model.Value, error) {
	rv, err := s.resourceValuesOf(oid, iid, rid)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]model.ID, 0, len(rv))
	for riid := range rv {
		ids = append(ids, riid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	vals := make([]model.Value, len(ids))
	for i, riid := range ids {
		vals[i] = rv[riid]
	}
	return ids, vals, nil
}

// Set writes a single resource-instance value. A defined resource that is
// absent from an existing instance is created by the write. Callers with a
// non-zero Server need the resource's Write operation; server 0 (local and
// bootstrap callers) may write any resource. The value's Kind must match the
// resource's, a single-instance resource holds one resource-instance, and an
// array resource holds at most MaxInstances.
func (s *Store) Set(ctx definition.OpContext, path model.Path, v model.Value) error {
	res, rv, err := s.lookup(path)
	var created *instance
	if errors.Is(err, lwm2merr.ErrPathNotFound) {
		if inst, ok := s.objects[path.ObjectID][path.ObjectInstanceID]; ok {
			created = inst
			res = s.reg.LookupObject(path.ObjectID).Resource(path.ResourceID)
			rv, err = resourceValues{}, nil
		}
	}
	if err != nil {
		return err
	}
	if ctx.Server != 0 && !res.Operations.Has(definition.OpWrite) {
		return fmt.Errorf("%w: %s", lwm2merr.ErrMethodNotAllowed, path)
	}
	if res.Kind != v.Kind {
		return fmt.Errorf("%w: %s wants %s, got %s", lwm2merr.ErrTypeMismatch, path, res.Kind, v.Kind)
	}
	riid := path.ResourceInstanceID
	if path.Depth == 3 {
		riid = 0
	}
	if !res.Array && len(rv) >= 1 {
		if _, exists := rv[riid]; !exists {
			return fmt.Errorf("%w: %s is not multi-instance", lwm2merr.ErrCardinalityExceeded, path)
		}
	}
	if res.MaxInstances > 0 && len(rv) >= res.MaxInstances {
		if _, exists := rv[riid]; !exists {
			return fmt.Errorf("%w: %s already has %d instances", lwm2merr.ErrCardinalityExceeded, path, res.MaxInstances)
		}
	}
	if res.Ops.Write != nil {
		wctx := ctx
		wctx.Path = path
		if err := res.Ops.Write(wctx, v); err != nil {
			return err
		}
	}
	if created != nil {
		created.resources[path.ResourceID] = rv
	}
	rv[riid] = v
	s.sink.OnChange(path)
	return nil
}

// CreateOptionalResource materialises an optional resource on an existing
// instance with its definition default, per spec §4.2 edge case 2: "Create
// on an instance that already exists but is missing an optional resource
// populates that resource instead of failing."
func (s *Store) CreateOptionalResource(ctx definition.OpContext, oid, iid, rid model.ID) error {
	obj := s.reg.LookupObject(oid)
	if obj == nil {
		return fmt.Errorf("%w: object %d", lwm2merr.ErrNotDefined, oid)
	}
	res := obj.Resource(rid)
	if res == nil {
		return fmt.Errorf("%w: resource %d/%d", lwm2merr.ErrNotDefined, oid, rid)
	}
	insts, ok := s.objects[oid]
	if !ok {
		return fmt.Errorf("%w: %s", lwm2merr.ErrPathNotFound, model.InstancePath(oid, iid))
	}
	inst, ok := insts[iid]
	if !ok {
		return fmt.Errorf("%w: %s", lwm2merr.ErrPathNotFound, model.InstancePath(oid, iid))
	}
	if _, exists := inst.resources[rid]; exists {
		return nil
	}
	if res.Ops.CreateOptional != nil {
		cctx := ctx
		cctx.Path = model.ResourcePath(oid, iid, rid)
		if err := res.Ops.CreateOptional(cctx); err != nil {
			return err
		}
	}
	inst.resources[rid] = resourceValues{0: defaultValue(res)}
	s.sink.OnChange(model.ResourcePath(oid, iid, rid))
	return nil
}

// Execute invokes a resource's Execute handler (spec §4.4 "Execute"); a
// resource with no handler fails with ErrMethodNotAllowed since an
// executable resource with no behaviour wired is a definition error, not a
// silent success.
func (s *Store) Execute(ctx definition.OpContext, path model.Path, arg []byte) error {
	obj := s.reg.LookupObject(path.ObjectID)
	if obj == nil {
		return fmt.Errorf("%w: object %d", lwm2merr.ErrNotDefined, path.ObjectID)
	}
	res := obj.Resource(path.ResourceID)
	if res == nil {
		return fmt.Errorf("%w: resource %s", lwm2merr.ErrNotDefined, path)
	}
	if !res.Operations.Has(definition.OpExecute) {
		return fmt.Errorf("%w: %s", lwm2merr.ErrMethodNotAllowed, path)
	}
	if res.Ops.Execute == nil {
		return fmt.Errorf("%w: %s has no execute handler", lwm2merr.ErrMethodNotAllowed, path)
	}
	ectx := ctx
	ectx.Path = path
	return res.Ops.Execute(ectx, arg)
}

// InstanceIDs returns the instance IDs of oid currently in the tree, sorted.
func (s *Store) InstanceIDs(oid model.ID) []model.ID {
	insts := s.objects[oid]
	ids := make([]model.ID, 0, len(insts))
	for iid := range insts {
		ids = append(ids, iid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ResourceIDs returns the resource IDs currently populated on an instance,
// sorted — this is the "existing resources" view the codecs serialise, as
// opposed to definition.ObjectDefinition.Resources which is every resource
// the schema allows.
func (s *Store) ResourceIDs(oid, iid model.ID) []model.ID {
	inst, ok := s.objects[oid][iid]
	if !ok {
		return nil
	}
	ids := make([]model.ID, 0, len(inst.resources))
	for rid := range inst.resources {
		ids = append(ids, rid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ObjectIDs returns the object IDs that currently have at least one
// instance, sorted — used by Register/Update to build the link-format list.
func (s *Store) ObjectIDs() []model.ID {
	ids := make([]model.ID, 0, len(s.objects))
	for oid, insts := range s.objects {
		if len(insts) > 0 {
			ids = append(ids, oid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) resourceValuesOf(oid, iid, rid model.ID) (resourceValues, error) {
	insts, ok := s.objects[oid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", lwm2merr.ErrPathNotFound, model.InstancePath(oid, iid))
	}
	inst, ok := insts[iid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", lwm2merr.ErrPathNotFound, model.InstancePath(oid, iid))
	}
	rv, ok := inst.resources[rid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", lwm2merr.ErrPathNotFound, model.ResourcePath(oid, iid, rid))
	}
	return rv, nil
}

func (s *Store) lookup(path model.Path) (*definition.ResourceDefinition, resourceValues, error) {
	if path.Depth < 3 {
		return nil, nil, fmt.Errorf("%w: %s is not a resource path", lwm2merr.ErrPathInvalid, path)
	}
	obj := s.reg.LookupObject(path.ObjectID)
	if obj == nil {
		return nil, nil, fmt.Errorf("%w: object %d", lwm2merr.ErrNotDefined, path.ObjectID)
	}
	res := obj.Resource(path.ResourceID)
	if res == nil {
		return nil, nil, fmt.Errorf("%w: resource %s", lwm2merr.ErrNotDefined, path)
	}
	rv, err := s.resourceValuesOf(path.ObjectID, path.ObjectInstanceID, path.ResourceID)
	if err != nil {
		return nil, nil, err
	}
	return res, rv, nil
}

func nextFreeID(insts map[model.ID]*instance) model.ID {
	var id model.ID
	for {
		if _, taken := insts[id]; !taken {
			return id
		}
		id++
	}
}

func defaultValue(res *definition.ResourceDefinition) model.Value {
	if res.Default != nil {
		return *res.Default
	}
	switch res.Kind {
	case model.KindString:
		return model.String("")
	case model.KindInteger:
		return model.Integer(0)
	case model.KindFloat:
		return model.Float(0)
	case model.KindBoolean:
		return model.Boolean(false)
	case model.KindOpaque:
		return model.Opaque(nil)
	case model.KindTime:
		return model.Time(0)
	case model.KindObjectLink:
		return model.ObjLink(0, 0)
	default:
		return model.Value{}
	}
}
