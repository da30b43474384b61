package coap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := &Message{
		Version:     1,
		Type:        TypeConfirmable,
		Code:        CodePost,
		MessageID:   0x1234,
		Token:       []byte{1, 2, 3, 4, 5, 6, 7, 8},
		TokenLength: 8,
		Options: []Option{
			NewOption(OptionURIPath, "rd"),
			ContentFormatOption(ContentFormatLinkFormat),
			NewOption(OptionURIQuery, "ep=TestClient1"),
			NewOption(OptionURIQuery, "lt=60"),
		},
		Payload: []byte("</1/0>,</3/0>"),
	}

	raw := msg.Marshal()
	parsed, err := ParseMessage(raw)
	require.NoError(t, err)

	assert.Equal(t, msg.Type, parsed.Type)
	assert.Equal(t, msg.Code, parsed.Code)
	assert.Equal(t, msg.MessageID, parsed.MessageID)
	assert.Equal(t, msg.Token, parsed.Token)
	assert.Equal(t, msg.Payload, parsed.Payload)
	assert.Equal(t, len(msg.Options), len(parsed.Options))
	assert.Equal(t, parsed.URIPathSegments(), []string{"rd"})
	assert.Contains(t, parsed.URIQueries(), "ep=TestClient1")
}

func TestParseMessageRejectsShortBuffer(t *testing.T) {
	_, err := ParseMessage([]byte{1, 2})
	assert.Error(t, err)
}

func TestObserveOptionMinimalBytes(t *testing.T) {
	assert.Len(t, ObserveOption(0).Value, 1)
	assert.Len(t, ObserveOption(0x100).Value, 2)
	assert.Len(t, ObserveOption(0x10000).Value, 3)
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "2.05", CodeContent.String())
	assert.Equal(t, "4.04", CodeNotFound.String())
	assert.Equal(t, "2.01", CodeCreated.String())
}
