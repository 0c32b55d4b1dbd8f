package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// ====================================================================
// Status mapping
// ====================================================================

func TestDialStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want status.Code
	}{
		{"deadline", context.DeadlineExceeded, status.Timeout},
		{"wrapped deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), status.Timeout},
		{"net timeout", &net.DNSError{IsTimeout: true}, status.Timeout},
		{"refused", errors.New("connection refused"), status.SocketError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dialStatus(tt.err); got != tt.want {
				t.Errorf("dialStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadStatus(t *testing.T) {
	reset := &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}

	tests := []struct {
		name string
		err  error
		want status.Code
	}{
		{"reset", reset, status.ConnectionResetByPeer},
		{"eof", io.EOF, status.SocketReadError},
		{"websocket close", &websocket.CloseError{Code: websocket.CloseNormalClosure}, status.SocketReadError},
		{"other", errors.New("boom"), status.SocketReadError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := readStatus(tt.err); got != tt.want {
				t.Errorf("readStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWriteStatus(t *testing.T) {
	pipe := &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", syscall.EPIPE)}

	if got := writeStatus(pipe); got != status.ConnectionResetByPeer {
		t.Errorf("writeStatus(EPIPE) = %v, want connection reset by peer", got)
	}
	if got := writeStatus(io.ErrClosedPipe); got != status.SocketWriteError {
		t.Errorf("writeStatus(closed pipe) = %v, want socket write error", got)
	}
}

// ====================================================================
// Dialers
// ====================================================================

func TestTCPDialer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close() //nolint:errcheck // Test cleanup

	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close() //nolint:errcheck // Test cleanup
		_, _ = io.Copy(conn, conn)
	}()

	d := &TCPDialer{Address: ln.Addr().String()}
	if got, want := d.String(), "tcp://"+ln.Addr().String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := d.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close() //nolint:errcheck // Test cleanup

	if _, err := conn.Write([]byte{0xd0, 0x00}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	buf := make([]byte, 2)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if buf[0] != 0xd0 {
		t.Errorf("echo = %x, want d000", buf)
	}
}

func TestDialer_NoAddress(t *testing.T) {
	dialers := []Dialer{&TCPDialer{}, &WebSocketDialer{}}
	for _, d := range dialers {
		if _, err := d.Dial(context.Background()); !errors.Is(err, ErrNoAddress) {
			t.Errorf("%T.Dial() error = %v, want ErrNoAddress", d, err)
		}
	}
}

// wsServer echoes binary messages. It sends a text message first so the
// client has something to skip.
func wsServer(t *testing.T, protocols []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: protocols}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close() //nolint:errcheck // Test cleanup

		if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
			return
		}
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(typ, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketDialer(t *testing.T) {
	srv := wsServer(t, []string{"mqtt"})
	d := &WebSocketDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}

	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close() //nolint:errcheck // Test cleanup

	// Two messages read back as one stream.
	if _, err := conn.Write([]byte{0x30, 0x03}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := conn.Write([]byte{0x00, 0x01, 0x61}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 5)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	want := []byte{0x30, 0x03, 0x00, 0x01, 0x61}
	if string(buf) != string(want) {
		t.Errorf("read %x, want %x", buf, want)
	}
}

func TestWebSocketDialer_SubprotocolRejected(t *testing.T) {
	srv := wsServer(t, nil)
	d := &WebSocketDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}

	_, err := d.Dial(context.Background())
	if !errors.Is(err, ErrSubprotocol) {
		t.Errorf("Dial() error = %v, want ErrSubprotocol", err)
	}
}
