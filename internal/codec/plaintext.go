package codec

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/lwm2merr"
	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
)

// EncodePlainText renders a single value the way OMA TS 6.4.1 requires for
// the text/plain content format: a bare textual representation, no
// wrapping. Opaque values are not valid plain-text and must use the Opaque
// content format instead; callers should not reach here with one.
func EncodePlainText(v model.Value) []byte {
	return []byte(v.GoString())
}

// DecodePlainText parses a plain-text payload as kind.
func DecodePlainText(raw []byte, kind model.Kind) (model.Value, error) {
	s := string(raw)
	switch kind {
	case model.KindString:
		return model.String(s), nil
	case model.KindInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return model.Value{}, fmt.Errorf("%w: %v", lwm2merr.ErrPayloadMalformed, err)
		}
		return model.Integer(n), nil
	case model.KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Value{}, fmt.Errorf("%w: %v", lwm2merr.ErrPayloadMalformed, err)
		}
		return model.Float(f), nil
	case model.KindBoolean:
		switch s {
		case "1":
			return model.Boolean(true), nil
		case "0":
			return model.Boolean(false), nil
		default:
			return model.Value{}, fmt.Errorf("%w: boolean must be 0 or 1, got %q", lwm2merr.ErrPayloadMalformed, s)
		}
	case model.KindTime:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return model.Value{}, fmt.Errorf("%w: %v", lwm2merr.ErrPayloadMalformed, err)
		}
		return model.Time(n), nil
	default:
		return model.Value{}, fmt.Errorf("%w: kind %s has no plain-text form", lwm2merr.ErrUnsupportedContentType, kind)
	}
}

// EncodeOpaque renders a value as raw bytes for the Opaque content format
// (OMA TS 6.4.2); only KindOpaque has a meaningful opaque encoding.
func EncodeOpaque(v model.Value) ([]byte, error) {
	if v.Kind != model.KindOpaque {
		return nil, fmt.Errorf("%w: kind %s has no opaque form", lwm2merr.ErrUnsupportedContentType, v.Kind)
	}
	return v.Opaque, nil
}

// DecodeOpaque wraps raw bytes as a KindOpaque value.
func DecodeOpaque(raw []byte) model.Value {
	return model.Opaque(append([]byte(nil), raw...))
}

// base64Opaque is used by the JSON codec, which (per OMA TS 6.4.4) carries
// opaque resource values as base64 inside the "sv" string field.
func base64Opaque(v []byte) string { return base64.StdEncoding.EncodeToString(v) }

func base64OpaqueDecode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 opaque: %v", lwm2merr.ErrPayloadMalformed, err)
	}
	return b, nil
}
