package coap

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// UDPTransport is the plain (non-DTLS) coap:// Transport, grounded on the
// teacher's Coap.Initialize/ReadCoapMessage read loop (coap.go). No
// third-party CoAP or DTLS library appears anywhere in the retrieved
// reference set, so coaps:// (PSK/certificate) transport is intentionally
// left unimplemented here: production deployments supply their own Dialer
// for it, built against whatever DTLS stack they standardize on, against
// this same Transport/Dialer pair.
type UDPTransport struct {
	conn      net.Conn
	callbacks Callbacks
	endpoint  string
	stop      chan struct{}
}

// UDPDialer implements Dialer for coap:// URIs only.
type UDPDialer struct{}

// Dial opens a UDP socket to uri ("coap://host:port") and starts the
// background read loop that feeds decoded messages to callbacks.Receive,
// replacing the teacher's Coap.Initialize+goroutine ReadCoapMessage pair
// with the Transport/Dialer split spec §9 calls for.
func (UDPDialer) Dial(ctx context.Context, uri string, callbacks Callbacks) (Transport, error) {
	addr, err := coapAddr(uri)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("coap: dial %s: %w", addr, err)
	}
	t := &UDPTransport{
		conn:      conn,
		callbacks: callbacks,
		endpoint:  conn.LocalAddr().String(),
		stop:      make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func coapAddr(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("coap: invalid server URI %q: %w", uri, err)
	}
	if u.Scheme != "coap" {
		return "", fmt.Errorf("coap: unsupported scheme %q (only coap:// is built in)", u.Scheme)
	}
	host := u.Host
	if !strings.Contains(host, ":") {
		host += ":5683"
	}
	return host, nil
}

// Send marshals msg and writes it to the connection. It never waits for a
// reply; the caller learns of the reply through Callbacks.Receive on the
// read loop goroutine.
func (t *UDPTransport) Send(_ context.Context, msg *Message) error {
	_, err := t.conn.Write(msg.Marshal())
	return err
}

func (t *UDPTransport) LocalEndpoint() string { return t.endpoint }

func (t *UDPTransport) Close() error {
	close(t.stop)
	return t.conn.Close()
}

func (t *UDPTransport) readLoop() {
	buf := make([]byte, 2048)
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		n, err := t.conn.Read(buf)
		if err != nil {
			return
		}
		msg, err := ParseMessage(buf[:n])
		if err != nil {
			continue
		}
		t.callbacks.Receive(msg)
	}
}
