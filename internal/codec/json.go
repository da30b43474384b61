package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/lwm2merr"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
)

// jsonRecord is one entry of a SenML-flavoured LwM2M JSON payload (OMA TS
// 6.4.4): "n" is the path relative to the request's base URI, and exactly
// one of v/sv/bv/ov carries the value depending on the resource's kind:
// integer, float and time in v; string and base64 opaque in sv; boolean in
// bv; object link in ov. New to this client — the teacher only ever produced
// TLV. EncodeJSON writes one record per Item, in the order given; a
// resource-instance is named "<rid>/<riid>".
type jsonRecord struct {
	Name        string   `json:"n"`
	Value       *float64 `json:"v,omitempty"`
	StringValue *string  `json:"sv,omitempty"`
	BoolValue   *bool    `json:"bv,omitempty"`
	ObjLinkVal  *string  `json:"ov,omitempty"`
	Time        *float64 `json:"t,omitempty"`
}

type jsonDocument struct {
	BaseName string       `json:"bn,omitempty"`
	Records  []jsonRecord `json:"e"`
}

// EncodeJSON renders items (already relative to base) as an LwM2M JSON
// document.
func EncodeJSON(base model.Path, items []Item) ([]byte, error) {
	doc := jsonDocument{BaseName: base.String(), Records: make([]jsonRecord, 0, len(items))}
	for _, it := range items {
		rec, err := toJSONRecord(base, it)
		if err != nil {
			return nil, err
		}
		doc.Records = append(doc.Records, rec)
	}
	return json.Marshal(doc)
}

func toJSONRecord(base model.Path, it Item) (jsonRecord, error) {
	rec := jsonRecord{Name: relativeName(base, it.Path)}
	switch it.Value.Kind {
	case model.KindInteger:
		f := float64(it.Value.Int)
		rec.Value = &f
	case model.KindFloat:
		f := it.Value.Float
		rec.Value = &f
	case model.KindTime:
		f := float64(it.Value.Time)
		rec.Value = &f
	case model.KindBoolean:
		b := it.Value.Bool
		rec.BoolValue = &b
	case model.KindString:
		s := it.Value.Str
		rec.StringValue = &s
	case model.KindOpaque:
		s := base64Opaque(it.Value.Opaque)
		rec.StringValue = &s
	case model.KindObjectLink:
		s := it.Value.ObjLink.String()
		rec.ObjLinkVal = &s
	default:
		return jsonRecord{}, fmt.Errorf("%w: kind %s has no JSON form", lwm2merr.ErrUnsupportedContentType, it.Value.Kind)
	}
	return rec, nil
}

// relativeName renders the "n" field: empty for the base path itself, the
// resource/instance ID chain below it otherwise.
func relativeName(base, path model.Path) string {
	var parts []string
	if path.Depth >= 3 && base.Depth < 3 {
		parts = append(parts, itoa(path.ResourceID))
	}
	if path.Depth >= 4 {
		parts = append(parts, itoa(path.ResourceInstanceID))
	}
	return strings.Join(parts, "/")
}

func itoa(id model.ID) string {
	return fmt.Sprintf("%d", id)
}

// DecodeJSON parses an LwM2M JSON document into Items rooted at base.
// kindOf resolves a resource ID's declared kind the same way DecodeTLV
// does.
func DecodeJSON(raw []byte, base model.Path, kindOf func(rid model.ID) (model.Kind, bool)) ([]Item, error) {
	var doc jsonDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", lwm2merr.ErrPayloadMalformed, err)
	}
	items := make([]Item, 0, len(doc.Records))
	for _, rec := range doc.Records {
		rid, riid, depth, err := parseName(rec.Name)
		if err != nil {
			return nil, err
		}
		kind, ok := kindOf(rid)
		if !ok {
			return nil, fmt.Errorf("%w: resource %d not defined", lwm2merr.ErrNotDefined, rid)
		}
		v, err := fromJSONRecord(rec, kind)
		if err != nil {
			return nil, err
		}
		path := base
		path.ResourceID = rid
		path.Depth = 3
		if depth == 4 {
			path.ResourceInstanceID = riid
			path.Depth = 4
		}
		items = append(items, Item{Path: path, Value: v})
	}
	return items, nil
}

func parseName(name string) (rid, riid model.ID, depth int, err error) {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return 0, 0, 0, fmt.Errorf("%w: empty JSON record name", lwm2merr.ErrPayloadMalformed)
	}
	var r, ri int
	if _, err = fmt.Sscanf(parts[0], "%d", &r); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: invalid resource id in %q", lwm2merr.ErrPayloadMalformed, name)
	}
	if len(parts) == 1 {
		return model.ID(r), 0, 3, nil
	}
	if _, err = fmt.Sscanf(parts[1], "%d", &ri); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: invalid resource-instance id in %q", lwm2merr.ErrPayloadMalformed, name)
	}
	return model.ID(r), model.ID(ri), 4, nil
}

func fromJSONRecord(rec jsonRecord, kind model.Kind) (model.Value, error) {
	switch kind {
	case model.KindInteger:
		if rec.Value == nil {
			return model.Value{}, fmt.Errorf("%w: missing v for integer resource", lwm2merr.ErrPayloadMalformed)
		}
		return model.Integer(int64(*rec.Value)), nil
	case model.KindFloat:
		if rec.Value == nil {
			return model.Value{}, fmt.Errorf("%w: missing v for float resource", lwm2merr.ErrPayloadMalformed)
		}
		return model.Float(*rec.Value), nil
	case model.KindTime:
		if rec.Value == nil {
			return model.Value{}, fmt.Errorf("%w: missing v for time resource", lwm2merr.ErrPayloadMalformed)
		}
		return model.Time(int64(*rec.Value)), nil
	case model.KindBoolean:
		if rec.BoolValue == nil {
			return model.Value{}, fmt.Errorf("%w: missing bv for boolean resource", lwm2merr.ErrPayloadMalformed)
		}
		return model.Boolean(*rec.BoolValue), nil
	case model.KindString:
		if rec.StringValue == nil {
			return model.Value{}, fmt.Errorf("%w: missing sv for string resource", lwm2merr.ErrPayloadMalformed)
		}
		return model.String(*rec.StringValue), nil
	case model.KindOpaque:
		if rec.StringValue == nil {
			return model.Value{}, fmt.Errorf("%w: missing sv for opaque resource", lwm2merr.ErrPayloadMalformed)
		}
		b, err := base64OpaqueDecode(*rec.StringValue)
		if err != nil {
			return model.Value{}, err
		}
		return model.Opaque(b), nil
	case model.KindObjectLink:
		if rec.ObjLinkVal == nil {
			return model.Value{}, fmt.Errorf("%w: missing ov for objlnk resource", lwm2merr.ErrPayloadMalformed)
		}
		var o, i int
		if _, err := fmt.Sscanf(*rec.ObjLinkVal, "%d:%d", &o, &i); err != nil {
			return model.Value{}, fmt.Errorf("%w: invalid objlnk %q", lwm2merr.ErrPayloadMalformed, *rec.ObjLinkVal)
		}
		return model.ObjLink(model.ID(o), model.ID(i)), nil
	default:
		return model.Value{}, fmt.Errorf("%w: kind %s has no JSON form", lwm2merr.ErrUnsupportedContentType, kind)
	}
}
