package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// subprotocol is the WebSocket subprotocol registered for MQTT.
	subprotocol = "mqtt"
)

// Dialer opens a connection to the broker.
type Dialer interface {
	Dial(ctx context.Context) (net.Conn, error)
	String() string
}

// TCPDialer dials a broker over TCP. A non-nil TLS config enables TLS.
type TCPDialer struct {
	Address string
	TLS     *tls.Config
}

// Dial connects and, when configured, completes the TLS handshake before
// returning.
func (d *TCPDialer) Dial(ctx context.Context) (net.Conn, error) {
	if d.Address == "" {
		return nil, ErrNoAddress
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, err
	}
	if d.TLS == nil {
		return conn, nil
	}

	cfg := d.TLS.Clone()
	if cfg.ServerName == "" {
		host, _, splitErr := net.SplitHostPort(d.Address)
		if splitErr == nil {
			cfg.ServerName = host
		}
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tlsMinVersion
	}

	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		conn.Close() //nolint:errcheck // handshake error takes precedence
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return tc, nil
}

func (d *TCPDialer) String() string {
	if d.TLS != nil {
		return "ssl://" + d.Address
	}
	return "tcp://" + d.Address
}

// WebSocketDialer dials a broker that speaks MQTT over WebSocket.
// URL uses the ws or wss scheme.
type WebSocketDialer struct {
	URL    string
	TLS    *tls.Config
	Header http.Header
}

// Dial performs the WebSocket handshake and returns the connection as a
// byte stream of binary messages.
func (d *WebSocketDialer) Dial(ctx context.Context) (net.Conn, error) {
	if d.URL == "" {
		return nil, ErrNoAddress
	}

	wd := websocket.Dialer{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: d.TLS,
		Subprotocols:    []string{subprotocol},
	}
	ws, resp, err := wd.DialContext(ctx, d.URL, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // body is unused
	}
	if err != nil {
		return nil, err
	}
	if ws.Subprotocol() != subprotocol {
		ws.Close() //nolint:errcheck // rejecting the connection
		return nil, fmt.Errorf("%w: got %q", ErrSubprotocol, ws.Subprotocol())
	}
	return &wsConn{ws: ws}, nil
}

func (d *WebSocketDialer) String() string {
	return d.URL
}

// wsConn adapts a WebSocket connection to net.Conn. MQTT frames may span
// or share binary messages, so reads treat the messages as one stream.
// Non-binary messages are skipped.
//
// Supports one concurrent reader and one concurrent writer.
type wsConn struct {
	ws     *websocket.Conn
	reader io.Reader
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			typ, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
