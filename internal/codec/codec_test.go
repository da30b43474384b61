package codec

import (
	"testing"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kindOf(kinds map[model.ID]model.Kind) func(model.ID) (model.Kind, bool) {
	return func(rid model.ID) (model.Kind, bool) {
		k, ok := kinds[rid]
		return k, ok
	}
}

func TestTLVResourceRoundTripInteger(t *testing.T) {
	items := []Item{{Path: model.ResourcePath(3, 0, 1), Value: model.Integer(42)}}
	raw := EncodeTLVResource(1, items)

	kinds := map[model.ID]model.Kind{1: model.KindInteger}
	decoded, err := DecodeTLV(raw, model.InstancePath(3, 0), kindOf(kinds))
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, int64(42), decoded[0].Value.Int)
}

func TestTLVResourceRoundTripArray(t *testing.T) {
	items := []Item{
		{Path: model.ResourceInstancePath(3, 0, 11, 0), Value: model.Integer(1)},
		{Path: model.ResourceInstancePath(3, 0, 11, 1), Value: model.Integer(2)},
	}
	raw := EncodeTLVResource(11, items)

	kinds := map[model.ID]model.Kind{11: model.KindInteger}
	decoded, err := DecodeTLV(raw, model.InstancePath(3, 0), kindOf(kinds))
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, int64(1), decoded[0].Value.Int)
	assert.Equal(t, int64(2), decoded[1].Value.Int)
}

func TestTLVInstanceRoundTripMixedKinds(t *testing.T) {
	items := []Item{
		{Path: model.ResourcePath(3, 0, 0), Value: model.String("Acme")},
		{Path: model.ResourcePath(3, 0, 9), Value: model.Integer(80)},
		{Path: model.ResourcePath(3, 0, 14), Value: model.Boolean(true)},
	}
	kinds := map[model.ID]model.Kind{0: model.KindString, 9: model.KindInteger, 14: model.KindBoolean}
	raw := EncodeTLVInstance(kinds, items)

	decoded, err := DecodeTLV(raw, model.InstancePath(3, 0), kindOf(kinds))
	require.NoError(t, err)
	require.Len(t, decoded, 3)
}

func TestTLVDecodeRejectsTruncatedBuffer(t *testing.T) {
	_, err := DecodeTLV([]byte{0xC8}, model.InstancePath(3, 0), kindOf(nil))
	assert.Error(t, err)
}

func TestPlainTextRoundTripFloat(t *testing.T) {
	raw := EncodePlainText(model.Float(3.5))
	v, err := DecodePlainText(raw, model.KindFloat)
	require.NoError(t, err)
	assert.Equal(t, 3.5, v.Float)
}

func TestPlainTextBooleanRejectsGarbage(t *testing.T) {
	_, err := DecodePlainText([]byte("yes"), model.KindBoolean)
	assert.Error(t, err)
}

func TestOpaqueRoundTrip(t *testing.T) {
	raw, err := EncodeOpaque(model.Opaque([]byte{1, 2, 3}))
	require.NoError(t, err)
	v := DecodeOpaque(raw)
	assert.Equal(t, []byte{1, 2, 3}, v.Opaque)
}

func TestEncodeRegistrationLinksExcludesSecurity(t *testing.T) {
	links := EncodeRegistrationLinks("U", map[model.ID][]model.ID{
		0: {0},
		1: {0},
		3: {0},
	})
	s := string(links)
	assert.NotContains(t, s, "</0/0>")
	assert.Contains(t, s, "</1/0>")
	assert.Contains(t, s, "</3/0>")
	assert.Contains(t, s, `rt="oma.lwm2m"`)
}

func TestJSONRoundTripResource(t *testing.T) {
	items := []Item{{Path: model.ResourcePath(3, 0, 9), Value: model.Integer(95)}}
	raw, err := EncodeJSON(model.InstancePath(3, 0), items)
	require.NoError(t, err)

	kinds := map[model.ID]model.Kind{9: model.KindInteger}
	decoded, err := DecodeJSON(raw, model.InstancePath(3, 0), kindOf(kinds))
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, int64(95), decoded[0].Value.Int)
}

func TestJSONRoundTripOpaque(t *testing.T) {
	items := []Item{{Path: model.ResourcePath(3, 0, 5), Value: model.Opaque([]byte{0xDE, 0xAD})}}
	raw, err := EncodeJSON(model.InstancePath(3, 0), items)
	require.NoError(t, err)

	kinds := map[model.ID]model.Kind{5: model.KindOpaque}
	decoded, err := DecodeJSON(raw, model.InstancePath(3, 0), kindOf(kinds))
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, []byte{0xDE, 0xAD}, decoded[0].Value.Opaque)
}
