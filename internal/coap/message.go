// Package coap implements the wire-level message format used to carry
// LwM2M: RFC 7252 message parsing/building. It is deliberately small — DTLS,
// UDP retransmission, and blocklist/congestion control are the concrete
// transport library's job (spec §1, "treated as external collaborators").
// Besides turning bytes into a Message and back, the package holds the
// Transport/Dialer interfaces and UDPTransport, a plain coap:// transport
// without DTLS or retransmission.
//
// Grounded on the teacher's coap.go, generalized: message/option encoding is
// unchanged, the request/response plumbing moves to Transport so the core
// never owns a socket directly (spec §9, "accept an injected capability
// object" in place of a global CoAP library handle).
package coap

import (
	"encoding/binary"
	"errors"
	"sort"
)

// Type is the CoAP message type (RFC 7252 §3).
type Type byte

const (
	TypeConfirmable     Type = 0
	TypeNonConfirmable  Type = 1
	TypeAcknowledgement Type = 2
	TypeReset           Type = 3
)

// Code is both a CoAP method code and a response code (RFC 7252 §12.1). It
// also carries Content-Format values, so it is 16 bits wide.
type Code uint16

const (
	CodeEmpty Code = 0

	CodeGet    Code = 1
	CodePost   Code = 2
	CodePut    Code = 3
	CodeDelete Code = 4

	CodeCreated           Code = 65  // 2.01
	CodeDeleted           Code = 66  // 2.02
	CodeValid             Code = 67  // 2.03
	CodeChanged           Code = 68  // 2.04
	CodeContent           Code = 69  // 2.05
	CodeBadRequest        Code = 128 // 4.00
	CodeUnauthorized      Code = 129 // 4.01
	CodeBadOption         Code = 130 // 4.02
	CodeForbidden         Code = 131 // 4.03
	CodeNotFound          Code = 132 // 4.04
	CodeMethodNotAllowed  Code = 133 // 4.05
	CodeNotAcceptable     Code = 134 // 4.06
	CodeUnsupportedMedia  Code = 143 // 4.15
	CodeInternalServerErr Code = 160 // 5.00
)

// String renders the code the "2.05"-style way used in logs and the spec.
func (c Code) String() string {
	if c == CodeEmpty {
		return "0.00"
	}
	class := byte(c) >> 5
	detail := byte(c) & 0x1F
	digits := []byte{'0' + class, '.', '0' + detail/10, '0' + detail%10}
	return string(digits)
}

// Content-Format registry values used by LwM2M (RFC 7252 §12.3 plus the OMA
// LwM2M registrations).
const (
	ContentFormatPlainText Code = 0
	ContentFormatOpaque    Code = 42
	ContentFormatLinkFormat Code = 40
	ContentFormatTLV       Code = 11542
	ContentFormatJSON      Code = 11543
)

// Option numbers used by this client (RFC 7252 §5.10, RFC 7641 §2).
const (
	OptionObserve       = 6
	OptionLocationPath  = 8
	OptionURIPath       = 11
	OptionContentFormat = 12
	OptionURIQuery      = 15
)

const (
	observeRegister   byte = 0
	observeDeregister byte = 1
)

const (
	optCodeByte = 13
	optCodeWord = 14
	optByteBase = 13
	optWordBase = 269
)

const defaultTokenLength = 8

// Option is a single CoAP option (RFC 7252 §5.10).
type Option struct {
	Number uint
	Value  []byte
}

// Message is a parsed CoAP message (RFC 7252 §3).
type Message struct {
	Version     byte
	Type        Type
	TokenLength byte
	Code        Code
	MessageID   uint16
	Token       []byte
	Options     []Option
	Payload     []byte
}

// IsObserve reports whether the message carries an Observe option.
func (m *Message) IsObserve() bool {
	for _, o := range m.Options {
		if o.Number == OptionObserve {
			return true
		}
	}
	return false
}

// ObserveSequence returns the Observe option value, for notifications.
func (m *Message) ObserveSequence() (uint32, bool) {
	for _, o := range m.Options {
		if o.Number == OptionObserve {
			var buf [4]byte
			copy(buf[4-len(o.Value):], o.Value)
			return binary.BigEndian.Uint32(buf[:]), true
		}
	}
	return 0, false
}

// ContentFormat returns the Content-Format option value, if present.
func (m *Message) ContentFormat() (Code, bool) {
	for _, o := range m.Options {
		if o.Number == OptionContentFormat {
			if len(o.Value) == 0 {
				return ContentFormatPlainText, true
			}
			var v uint16
			if len(o.Value) == 1 {
				v = uint16(o.Value[0])
			} else {
				v = binary.BigEndian.Uint16(o.Value)
			}
			return Code(v), true
		}
	}
	return 0, false
}

// URIPathSegments returns the Uri-Path option values in order, i.e. the
// LwM2M "/<oid>/<iid>/<rid>/<riid>" address split on "/".
func (m *Message) URIPathSegments() []string {
	segs := make([]string, 0, 4)
	for _, o := range m.Options {
		if o.Number == OptionURIPath {
			segs = append(segs, string(o.Value))
		}
	}
	return segs
}

// LocationPathSegments returns the Location-Path option values (#8), the
// path a 2.01 Created response carries back to the requester — distinct
// from Uri-Path (#11), which only appears on requests.
func (m *Message) LocationPathSegments() []string {
	segs := make([]string, 0, 4)
	for _, o := range m.Options {
		if o.Number == OptionLocationPath {
			segs = append(segs, string(o.Value))
		}
	}
	return segs
}

// URIQueries returns the Uri-Query option values, i.e. "ep=foo" style pairs.
func (m *Message) URIQueries() []string {
	qs := make([]string, 0, 4)
	for _, o := range m.Options {
		if o.Number == OptionURIQuery {
			qs = append(qs, string(o.Value))
		}
	}
	return qs
}

// Marshal turns a Message into wire bytes (RFC 7252 §3). A zero Version is
// written as 1, and the token length is taken from len(Token).
func (m *Message) Marshal() []byte {
	ret := make([]byte, 4)
	version := m.Version
	if version == 0 {
		version = 1
	}
	ret[0] = (version << 6) + (byte(m.Type) << 4) + byte(len(m.Token))
	ret[1] = byte(m.Code)
	binary.BigEndian.PutUint16(ret[2:4], m.MessageID)
	ret = append(ret, m.Token...)
	ret = append(ret, buildOptions(m.Options)...)
	if len(m.Payload) > 0 {
		ret = append(ret, 0xFF)
		ret = append(ret, m.Payload...)
	}
	return ret
}

// ParseMessage decodes wire bytes into a Message, or returns an error if the
// buffer is too short or malformed.
func ParseMessage(raw []byte) (*Message, error) {
	if len(raw) < 4 {
		return nil, errors.New("coap: message shorter than header")
	}
	m := &Message{}
	m.Version = raw[0] >> 6
	m.Type = Type((raw[0] >> 4) & 0x03)
	m.TokenLength = raw[0] & 0x0F
	m.Code = Code(raw[1])
	m.MessageID = (uint16(raw[2]) << 8) + uint16(raw[3])
	if len(raw) < 4+int(m.TokenLength) {
		return nil, errors.New("coap: token overruns message")
	}
	m.Token = append([]byte(nil), raw[4:4+m.TokenLength]...)
	rest := raw[4+int(m.TokenLength):]
	options, optionsLen, err := parseOptions(rest)
	if err != nil {
		return nil, err
	}
	m.Options = options
	if optionsLen < len(rest) {
		m.Payload = append([]byte(nil), rest[optionsLen:]...)
	}
	return m, nil
}

func parseOptions(raw []byte) ([]Option, int, error) {
	var options []Option
	length := 0
	var base uint
	for len(raw) > length && raw[length] != 0xFF {
		opt, n, err := parseOption(raw[length:], base)
		if err != nil {
			return nil, 0, err
		}
		options = append(options, opt)
		length += n
		base = opt.Number
	}
	if len(raw) > length && raw[length] == 0xFF {
		length++
	}
	return options, length, nil
}

func parseOption(raw []byte, base uint) (Option, int, error) {
	if len(raw) < 1 {
		return Option{}, 0, errors.New("coap: truncated option")
	}
	var delta, length uint
	deltaLen := 0
	delta = uint(raw[0]) >> 4
	switch delta {
	case optCodeByte:
		if len(raw) < 2 {
			return Option{}, 0, errors.New("coap: truncated option delta")
		}
		delta = uint(raw[1]) + optByteBase
		deltaLen = 1
	case optCodeWord:
		if len(raw) < 3 {
			return Option{}, 0, errors.New("coap: truncated option delta")
		}
		delta = uint(raw[1])<<8 + uint(raw[2]) + optWordBase
		deltaLen = 2
	}

	lengthLen := 0
	length = uint(raw[0]) & 0x0F
	switch length {
	case optCodeByte:
		if len(raw) < 2+deltaLen {
			return Option{}, 0, errors.New("coap: truncated option length")
		}
		length = uint(raw[1+deltaLen]) + optByteBase
		lengthLen = 1
	case optCodeWord:
		if len(raw) < 3+deltaLen {
			return Option{}, 0, errors.New("coap: truncated option length")
		}
		length = uint(raw[1+deltaLen])<<8 + uint(raw[2+deltaLen]) + optWordBase
		lengthLen = 2
	}

	valueStart := 1 + deltaLen + lengthLen
	valueEnd := valueStart + int(length)
	if len(raw) < valueEnd {
		return Option{}, 0, errors.New("coap: truncated option value")
	}
	value := append([]byte(nil), raw[valueStart:valueEnd]...)
	return Option{Number: base + delta, Value: value}, valueEnd, nil
}

func buildOptions(options []Option) []byte {
	sorted := append([]Option(nil), options...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	ret := make([]byte, 0)
	var base uint
	for _, o := range sorted {
		ret = append(ret, buildOption(o, base)...)
		base = o.Number
	}
	return ret
}

func buildOption(o Option, base uint) []byte {
	delta := o.Number - base
	length := uint(len(o.Value))
	ret := make([]byte, 1)
	switch {
	case delta < optByteBase:
		ret[0] += byte(delta << 4)
	case delta < optWordBase:
		ret[0] += optCodeByte << 4
		ret = append(ret, byte(delta-optByteBase))
	default:
		ret[0] += optCodeWord << 4
		ret = append(ret, byte((delta-optWordBase)>>8), byte((delta-optWordBase)&0xFF))
	}
	switch {
	case length < optByteBase:
		ret[0] += byte(length)
	case length < optWordBase:
		ret[0] += optCodeByte
		ret = append(ret, byte(length-optByteBase))
	default:
		ret[0] += optCodeWord
		ret = append(ret, byte((length-optWordBase)>>8), byte((length-optWordBase)&0xFF))
	}
	ret = append(ret, o.Value...)
	return ret
}

// NewOption builds a Uri-Path/Uri-Query/Content-Format style option from a
// string value, the common case at call sites.
func NewOption(number uint, value string) Option {
	return Option{Number: number, Value: []byte(value)}
}

// ContentFormatOption encodes a content-format option value per RFC 7252 §3.2.
func ContentFormatOption(cf Code) Option {
	if cf == ContentFormatPlainText {
		return Option{Number: OptionContentFormat, Value: []byte{}}
	}
	if cf <= 0xFF {
		return Option{Number: OptionContentFormat, Value: []byte{byte(cf)}}
	}
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(cf))
	return Option{Number: OptionContentFormat, Value: buf}
}

// ObserveOption encodes the Observe option's increasing sequence counter
// using the minimal number of bytes, the way the teacher's NotifyInstance
// packs it (RFC 7641 §3.3.1 says up to 3 bytes; this client also accepts the
// register/deregister marker values 0/1).
func ObserveOption(seq uint32) Option {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, seq)
	switch {
	case seq <= 0xFF:
		buf = buf[3:4]
	case seq <= 0xFFFF:
		buf = buf[2:4]
	case seq <= 0xFFFFFF:
		buf = buf[1:4]
	}
	return Option{Number: OptionObserve, Value: buf}
}
