// Package codec implements the C4 payload codecs: TLV, plain-text, opaque,
// CoRE Link-Format and JSON. Every codec converts between wire bytes and a
// flat list of (path, value) Items — the dispatcher and registration/
// bootstrap engines build or consume Items without caring which content
// format carried them.
//
// The TLV codec is grounded directly on the teacher's lwm2m_tlv.go
// (Lwm2mTLV.Marshal/Unmarshal and convertTLVValueToString/
// convertStringToTLVValue), generalized from the teacher's fixed
// resourceType byte switch to model.Kind and from its flat per-resource
// calls to a tree encoder that can emit a whole object instance at once
// (spec §4.4 "Read on an Object Instance returns every resource TLV-nested
// under it").
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/lwm2merr"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
)

// Item is one addressed value, the common currency every codec produces and
// consumes.
type Item struct {
	Path  model.Path
	Value model.Value
}

// tlvTypeOfID values (OMA-TS-LightweightM2M-V1_0_2-20180209-A §6.4.3).
const (
	tlvTypeObjectInstance  byte = 0
	tlvTypeResourceInstance byte = 1
	tlvTypeMultipleResource byte = 2
	tlvTypeResource         byte = 3
)

// tlv is one TLV element, either a leaf (Value set) or a container
// (Contents set) — mirrors the teacher's Lwm2mTLV struct.
type tlv struct {
	typeOfID byte
	id       model.ID
	value    []byte
	contents []*tlv
}

func (t *tlv) marshal() []byte {
	var payload []byte
	if t.contents != nil {
		for _, c := range t.contents {
			payload = append(payload, c.marshal()...)
		}
	} else {
		payload = t.value
	}
	length := uint32(len(payload))

	ret := make([]byte, 1)
	ret[0] = t.typeOfID << 6
	if t.id <= 0xFF {
		ret = append(ret, byte(t.id))
	} else {
		ret[0] += 1 << 5
		ret = append(ret, byte(t.id>>8), byte(t.id&0x00FF))
	}
	switch {
	case length <= 0x07:
		ret[0] += byte(length)
	case length <= 0xFF:
		ret[0] += 1 << 3
		ret = append(ret, byte(length))
	case length <= 0xFFFF:
		ret[0] += 2 << 3
		ret = append(ret, byte(length>>8), byte(length&0xFF))
	default:
		ret[0] += 3 << 3
		ret = append(ret, byte(length>>16), byte((length>>8)&0xFF), byte(length&0xFF))
	}
	return append(ret, payload...)
}

// unmarshalOne parses a single TLV element from raw and returns it plus the
// number of bytes consumed, grounded on Lwm2mTLV.Unmarshal.
func unmarshalOne(raw []byte) (*tlv, int, error) {
	if len(raw) < 1 {
		return nil, 0, fmt.Errorf("%w: empty TLV buffer", lwm2merr.ErrPayloadMalformed)
	}
	t := &tlv{typeOfID: (raw[0] >> 6) & 0x03}
	idx := 1
	if (raw[0]>>5)&0x01 == 0 {
		if len(raw) < idx+1 {
			return nil, 0, fmt.Errorf("%w: truncated TLV identifier", lwm2merr.ErrPayloadMalformed)
		}
		t.id = model.ID(raw[idx])
		idx++
	} else {
		if len(raw) < idx+2 {
			return nil, 0, fmt.Errorf("%w: truncated TLV identifier", lwm2merr.ErrPayloadMalformed)
		}
		t.id = model.ID(binary.BigEndian.Uint16(raw[idx : idx+2]))
		idx += 2
	}
	var length uint32
	switch (raw[0] >> 3) & 0x03 {
	case 0:
		length = uint32(raw[0] & 0x07)
	case 1:
		if len(raw) < idx+1 {
			return nil, 0, fmt.Errorf("%w: truncated TLV length", lwm2merr.ErrPayloadMalformed)
		}
		length = uint32(raw[idx])
		idx++
	case 2:
		if len(raw) < idx+2 {
			return nil, 0, fmt.Errorf("%w: truncated TLV length", lwm2merr.ErrPayloadMalformed)
		}
		length = uint32(binary.BigEndian.Uint16(raw[idx : idx+2]))
		idx += 2
	case 3:
		if len(raw) < idx+3 {
			return nil, 0, fmt.Errorf("%w: truncated TLV length", lwm2merr.ErrPayloadMalformed)
		}
		length = binary.BigEndian.Uint32(append([]byte{0}, raw[idx:idx+3]...))
		idx += 3
	}
	if len(raw) < idx+int(length) {
		return nil, 0, fmt.Errorf("%w: TLV value overruns buffer", lwm2merr.ErrPayloadMalformed)
	}
	payload := append([]byte(nil), raw[idx:idx+int(length)]...)
	idx += int(length)

	if t.typeOfID == tlvTypeObjectInstance || t.typeOfID == tlvTypeMultipleResource {
		children, err := unmarshalAll(payload)
		if err != nil {
			return nil, 0, err
		}
		t.contents = children
	} else {
		t.value = payload
	}
	return t, idx, nil
}

func unmarshalAll(raw []byte) ([]*tlv, error) {
	var out []*tlv
	for len(raw) > 0 {
		t, n, err := unmarshalOne(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		raw = raw[n:]
	}
	return out, nil
}

// EncodeTLVInstance builds the TLV payload for a full object instance: one
// top-level element per resource, nested resource-instance elements for
// array resources, matching what Read on an Object Instance returns.
func EncodeTLVInstance(resourceKinds map[model.ID]model.Kind, items []Item) []byte {
	byRes := groupByResource(items)
	rids := make([]model.ID, 0, len(byRes))
	for rid := range byRes {
		rids = append(rids, rid)
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })

	var elems []*tlv
	for _, rid := range rids {
		insts := byRes[rid]
		if len(insts) == 1 && insts[0].Path.Depth == 3 {
			elems = append(elems, &tlv{typeOfID: tlvTypeResource, id: rid, value: encodeValue(insts[0].Value)})
			continue
		}
		sort.Slice(insts, func(i, j int) bool { return insts[i].Path.ResourceInstanceID < insts[j].Path.ResourceInstanceID })
		var children []*tlv
		for _, it := range insts {
			children = append(children, &tlv{
				typeOfID: tlvTypeResourceInstance,
				id:       it.Path.ResourceInstanceID,
				value:    encodeValue(it.Value),
			})
		}
		elems = append(elems, &tlv{typeOfID: tlvTypeMultipleResource, id: rid, contents: children})
	}
	var ret []byte
	for _, e := range elems {
		ret = append(ret, e.marshal()...)
	}
	return ret
}

// EncodeTLVResource builds the TLV payload for a single resource (Read on a
// Resource path), which OMA TS 6.4.3 says is either a bare Resource element
// or, for array resources, a Multiple-Resource element containing one
// Resource-Instance per value.
func EncodeTLVResource(rid model.ID, items []Item) []byte {
	if len(items) == 1 && items[0].Path.Depth == 3 {
		return (&tlv{typeOfID: tlvTypeResource, id: rid, value: encodeValue(items[0].Value)}).marshal()
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path.ResourceInstanceID < items[j].Path.ResourceInstanceID })
	var children []*tlv
	for _, it := range items {
		children = append(children, &tlv{typeOfID: tlvTypeResourceInstance, id: it.Path.ResourceInstanceID, value: encodeValue(it.Value)})
	}
	return (&tlv{typeOfID: tlvTypeMultipleResource, id: rid, contents: children}).marshal()
}

// DecodeTLV parses raw into Items rooted at base (an object-instance or
// resource path). kindOf resolves a resource ID's declared type so numeric
// encodings can be told apart — TLV itself carries only byte lengths.
func DecodeTLV(raw []byte, base model.Path, kindOf func(rid model.ID) (model.Kind, bool)) ([]Item, error) {
	elems, err := unmarshalAll(raw)
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, e := range elems {
		switch e.typeOfID {
		case tlvTypeResource:
			kind, ok := kindOf(e.id)
			if !ok {
				return nil, fmt.Errorf("%w: resource %d not defined", lwm2merr.ErrNotDefined, e.id)
			}
			v, err := decodeValue(e.value, kind)
			if err != nil {
				return nil, err
			}
			items = append(items, Item{Path: model.ResourcePath(base.ObjectID, base.ObjectInstanceID, e.id), Value: v})
		case tlvTypeMultipleResource:
			kind, ok := kindOf(e.id)
			if !ok {
				return nil, fmt.Errorf("%w: resource %d not defined", lwm2merr.ErrNotDefined, e.id)
			}
			for _, c := range e.contents {
				v, err := decodeValue(c.value, kind)
				if err != nil {
					return nil, err
				}
				items = append(items, Item{
					Path:  model.ResourceInstancePath(base.ObjectID, base.ObjectInstanceID, e.id, c.id),
					Value: v,
				})
			}
		case tlvTypeObjectInstance:
			sub := base
			sub.ObjectInstanceID = e.id
			sub.Depth = 2
			for _, c := range e.contents {
				nested, err := DecodeTLV(c.marshal(), sub, kindOf)
				if err != nil {
					return nil, err
				}
				items = append(items, nested...)
			}
		default:
			return nil, fmt.Errorf("%w: unexpected TLV type-of-id %d at top level", lwm2merr.ErrPayloadMalformed, e.typeOfID)
		}
	}
	return items, nil
}

func groupByResource(items []Item) map[model.ID][]Item {
	out := make(map[model.ID][]Item)
	for _, it := range items {
		out[it.Path.ResourceID] = append(out[it.Path.ResourceID], it)
	}
	return out
}

// encodeValue renders a Value's TLV byte payload, grounded on
// convertStringToTLVValue generalized from string parsing to direct
// Value-field access.
func encodeValue(v model.Value) []byte {
	switch v.Kind {
	case model.KindInteger, model.KindTime:
		n := v.Int
		if v.Kind == model.KindTime {
			n = v.Time
		}
		switch {
		case n < 1<<7 && n >= -(1<<7):
			return []byte{byte(n)}
		case n < 1<<15 && n >= -(1<<15):
			buf := make([]byte, 2)
			binary.BigEndian.PutUint16(buf, uint16(n))
			return buf
		case n < 1<<31 && n >= -(1<<31):
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, uint32(n))
			return buf
		default:
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(n))
			return buf
		}
	case model.KindFloat:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(v.Float))
		return buf
	case model.KindBoolean:
		if v.Bool {
			return []byte{1}
		}
		return []byte{0}
	case model.KindOpaque:
		return v.Opaque
	case model.KindObjectLink:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint16(buf[0:2], v.ObjLink.ObjectID)
		binary.BigEndian.PutUint16(buf[2:4], v.ObjLink.InstanceID)
		return buf
	default:
		return []byte(v.Str)
	}
}

// decodeValue parses a TLV byte payload into a Value of the given kind,
// grounded on convertTLVValueToString.
func decodeValue(buf []byte, kind model.Kind) (model.Value, error) {
	switch kind {
	case model.KindInteger, model.KindTime:
		var n int64
		switch len(buf) {
		case 1:
			n = int64(int8(buf[0]))
		case 2:
			n = int64(int16(binary.BigEndian.Uint16(buf)))
		case 4:
			n = int64(int32(binary.BigEndian.Uint32(buf)))
		case 8:
			n = int64(binary.BigEndian.Uint64(buf))
		default:
			return model.Value{}, fmt.Errorf("%w: invalid integer TLV length %d", lwm2merr.ErrPayloadMalformed, len(buf))
		}
		if kind == model.KindTime {
			return model.Time(n), nil
		}
		return model.Integer(n), nil
	case model.KindFloat:
		switch len(buf) {
		case 4:
			return model.Float(float64(math.Float32frombits(binary.BigEndian.Uint32(buf)))), nil
		case 8:
			return model.Float(math.Float64frombits(binary.BigEndian.Uint64(buf))), nil
		default:
			return model.Value{}, fmt.Errorf("%w: invalid float TLV length %d", lwm2merr.ErrPayloadMalformed, len(buf))
		}
	case model.KindBoolean:
		if len(buf) != 1 {
			return model.Value{}, fmt.Errorf("%w: invalid boolean TLV length %d", lwm2merr.ErrPayloadMalformed, len(buf))
		}
		return model.Boolean(buf[0] != 0), nil
	case model.KindOpaque:
		return model.Opaque(append([]byte(nil), buf...)), nil
	case model.KindObjectLink:
		if len(buf) != 4 {
			return model.Value{}, fmt.Errorf("%w: invalid objlnk TLV length %d", lwm2merr.ErrPayloadMalformed, len(buf))
		}
		return model.ObjLink(binary.BigEndian.Uint16(buf[0:2]), binary.BigEndian.Uint16(buf[2:4])), nil
	default:
		return model.String(string(buf)), nil
	}
}
