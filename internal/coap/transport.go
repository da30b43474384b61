package coap

import "context"

// Transport is the injected capability the core uses to talk to a CoAP peer.
// It replaces the teacher's concrete net.Conn-backed Coap struct (and the
// global DTLS/PSK plumbing that sat behind it) with the interface the spec
// asks for: "for the transport, accept an injected capability object"
// (spec §9). Concrete DTLS/PSK/certificate transports, and the UDP
// retransmission policy, are external collaborators (spec §1) that implement
// this interface; the core never constructs a socket itself.
type Transport interface {
	// Send transmits a message and returns once it has been handed to the
	// network layer. It never blocks waiting for a reply — replies and
	// requests both arrive through Callbacks.Receive.
	Send(ctx context.Context, msg *Message) error
	// LocalEndpoint identifies this transport for logging.
	LocalEndpoint() string
	// Close releases the underlying connection.
	Close() error
}

// Callbacks is how a Transport hands inbound traffic back to the core. A
// transport implementation calls Receive for every decoded Message it gets
// off the wire; the core never polls.
type Callbacks interface {
	Receive(msg *Message)
}

// Dialer opens a Transport to a server URI ("coap://" or "coaps://"),
// performing DTLS/PSK negotiation if required. It is supplied by the
// external collaborator named in spec §1; the core depends only on the
// narrow Transport interface it returns.
type Dialer interface {
	Dial(ctx context.Context, uri string, callbacks Callbacks) (Transport, error)
}
