package transport

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// Domain-specific errors for transport operations.
var (
	// ErrHandshake is returned when the TLS handshake fails.
	ErrHandshake = errors.New("transport: tls handshake failed")

	// ErrSubprotocol is returned when a WebSocket server does not accept
	// the mqtt subprotocol.
	ErrSubprotocol = errors.New("transport: websocket subprotocol not accepted")

	// ErrNoAddress is returned when a dialer has no address configured.
	ErrNoAddress = errors.New("transport: no broker address")
)

// dialStatus maps a dial failure to a status code.
func dialStatus(err error) status.Code {
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Timeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return status.Timeout
	}
	return status.SocketError
}

// readStatus maps a read failure to a status code. An orderly close by the
// peer (EOF, WebSocket close frame) is a recoverable read error; only a
// reset is reported as such.
func readStatus(err error) status.Code {
	if errors.Is(err, syscall.ECONNRESET) {
		return status.ConnectionResetByPeer
	}
	return status.SocketReadError
}

// writeStatus maps a write failure to a status code.
func writeStatus(err error) status.Code {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return status.ConnectionResetByPeer
	}
	return status.SocketWriteError
}
