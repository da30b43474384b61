package model

import (
	"fmt"
	"strconv"
)

// Kind is the tag of the sum type that replaces the source's void* resource
// value tagged by a sibling type enum (OMA-TS-LightweightM2M Appendix C).
type Kind byte

const (
	KindNone Kind = iota
	KindString
	KindInteger
	KindFloat
	KindBoolean
	KindOpaque
	KindTime
	KindObjectLink
	// array resources carry the same Kind as their element; ResourceDefinition.Array marks them
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindOpaque:
		return "opaque"
	case KindTime:
		return "time"
	case KindObjectLink:
		return "objlnk"
	default:
		return "none"
	}
}

// ObjectLink is the ObjectID:InstanceID pair carried by KindObjectLink.
type ObjectLink struct {
	ObjectID   ID
	InstanceID ID
}

func (l ObjectLink) String() string {
	return strconv.Itoa(int(l.ObjectID)) + ":" + strconv.Itoa(int(l.InstanceID))
}

// Value is a single typed resource value. Exactly one field is meaningful
// for a given Kind; arrays of a Kind are modelled one resource-instance at a
// time (the store holds one Value per ResourceInstanceID), so Value itself
// never needs an array variant — "arrays of each" in the spec is a
// cardinality property of the store, not of Value.
type Value struct {
	Kind    Kind
	Str     string
	Int     int64
	Float   float64
	Bool    bool
	Opaque  []byte
	Time    int64 // unix seconds
	ObjLink ObjectLink
}

func String(v string) Value  { return Value{Kind: KindString, Str: v} }
func Integer(v int64) Value  { return Value{Kind: KindInteger, Int: v} }
func Float(v float64) Value  { return Value{Kind: KindFloat, Float: v} }
func Boolean(v bool) Value   { return Value{Kind: KindBoolean, Bool: v} }
func Opaque(v []byte) Value  { return Value{Kind: KindOpaque, Opaque: v} }
func Time(v int64) Value     { return Value{Kind: KindTime, Time: v} }
func ObjLink(o, i ID) Value  { return Value{Kind: KindObjectLink, ObjLink: ObjectLink{ObjectID: o, InstanceID: i}} }

// Equal reports whether two values are identical, used by the observation
// engine's change detection (spec §4.6.3).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString, KindNone:
		return v.Str == o.Str
	case KindInteger:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindBoolean:
		return v.Bool == o.Bool
	case KindOpaque:
		return string(v.Opaque) == string(o.Opaque)
	case KindTime:
		return v.Time == o.Time
	case KindObjectLink:
		return v.ObjLink == o.ObjLink
	}
	return false
}

// Numeric reports whether the value participates in gt/lt/st attribute
// evaluation (spec §4.3), and its float64 projection.
func (v Value) Numeric() (float64, bool) {
	switch v.Kind {
	case KindInteger:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	case KindTime:
		return float64(v.Time), true
	default:
		return 0, false
	}
}

// GoString renders the value for logging and the plain-text codec.
func (v Value) GoString() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBoolean:
		if v.Bool {
			return "1"
		}
		return "0"
	case KindOpaque:
		return fmt.Sprintf("%x", v.Opaque)
	case KindTime:
		return strconv.FormatInt(v.Time, 10)
	case KindObjectLink:
		return v.ObjLink.String()
	default:
		return ""
	}
}
