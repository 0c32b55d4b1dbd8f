package transport

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/layer"
	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// Default timeouts and sizes for broker connections.
const (
	// defaultDialTimeout bounds dialling including the TLS or WebSocket
	// handshake.
	defaultDialTimeout = 10 * time.Second

	// defaultWriteTimeout bounds a single frame write.
	defaultWriteTimeout = 10 * time.Second

	// readBufferSize is the size of one socket read.
	readBufferSize = 4096

	// writeQueueSize is the number of frames handed to the writer
	// goroutine before the layer waits for confirmations.
	writeQueueSize = 32
)

// Poller dispatches a descriptor's read handle on the scheduler goroutine.
// The event loop implements it.
type Poller interface {
	Notify(kind scheduler.FDKind, fd int)
}

// Logger is the logging interface used by the transport layer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Option configures a Layer.
type Option func(*Layer)

// WithLogger sets the layer logger.
func WithLogger(l Logger) Option {
	return func(t *Layer) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithDialTimeout bounds each connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(t *Layer) {
		if d > 0 {
			t.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds each frame write. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(t *Layer) {
		t.writeTimeout = d
	}
}

// descriptors numbers connections. Descriptors are synthetic: TLS and
// WebSocket connections have no single OS descriptor to register.
var descriptors atomic.Int64

// Layer is the transport layer.
//
// Init dials in the background and reports the result with Connect.
// Frames pushed while no connection is up fail immediately. A read or
// write failure, or a Close from above, tears the connection down and is
// reported once with CloseExternally.
type Layer struct {
	layer.Passthrough

	dialer       Dialer
	poller       Poller
	dialTimeout  time.Duration
	writeTimeout time.Duration
	logger       Logger

	cur     *stream
	dialSeq uint64
	cancel  context.CancelFunc
}

// New creates a transport layer that connects with dialer.
func New(dialer Dialer, poller Poller, opts ...Option) *Layer {
	t := &Layer{
		dialer:       dialer,
		poller:       poller,
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connected reports whether a connection is up.
func (t *Layer) Connected() bool {
	return t.cur != nil
}

// Remote describes the broker endpoint.
func (t *Layer) Remote() string {
	return t.dialer.String()
}

func (t *Layer) Init(l *layer.Link, _ any, _ status.Code) status.Code {
	t.teardown(l)

	t.dialSeq++
	seq := t.dialSeq
	ctx, cancel := context.WithTimeout(context.Background(), t.dialTimeout)
	t.cancel = cancel
	sched := l.Scheduler()

	t.logger.Debug("transport: dialling", "remote", t.dialer.String())
	go func() {
		defer cancel()
		conn, err := t.dialer.Dial(ctx)
		scheduleErr := sched.RunNow(func() error {
			return t.onDialed(l, seq, conn, err).Err()
		})
		if scheduleErr != nil && conn != nil {
			conn.Close() //nolint:errcheck // nobody is left to use it
		}
	}()
	return status.OK
}

func (t *Layer) onDialed(l *layer.Link, seq uint64, conn net.Conn, err error) status.Code {
	if seq != t.dialSeq {
		// Superseded by a later Init or a Close.
		if conn != nil {
			conn.Close() //nolint:errcheck // stale attempt
		}
		return status.OK
	}
	t.cancel = nil

	if err != nil {
		code := dialStatus(err)
		t.logger.Warn("transport: dial failed", "remote", t.dialer.String(), "status", code.String(), "error", err)
		return l.ConnectOnNext(nil, code)
	}

	s := newStream(int(descriptors.Add(1)), conn)
	if regErr := l.Scheduler().RegisterFD(scheduler.SocketFD, s.fd, func() error {
		return t.onReadable(l, s)
	}); regErr != nil {
		conn.Close() //nolint:errcheck // registration failed
		t.logger.Warn("transport: registering connection failed", "fd", s.fd, "error", regErr)
		return l.ConnectOnNext(nil, status.InternalError)
	}

	t.cur = s
	go s.readLoop(t.poller)
	go s.writeLoop(t.poller, t.writeTimeout)

	t.logger.Info("transport: connected", "remote", t.dialer.String(), "fd", s.fd)
	return l.ConnectOnNext(nil, status.OK)
}

func (t *Layer) Push(l *layer.Link, data any, in status.Code) status.Code {
	if in != status.OK {
		return l.PushOnNext(data, in)
	}

	frame, ok := data.([]byte)
	if !ok {
		t.logger.Warn("transport: push without bytes")
		return l.PushOnNext(nil, status.FailedWriting)
	}

	s := t.cur
	if s == nil {
		return l.PushOnNext(nil, status.FailedWriting)
	}

	s.pending = append(s.pending, frame)
	if err := l.Scheduler().ContinueWhenEvtOnSocket(s.fd, scheduler.WantWrite, func() error {
		return t.flush(s)
	}); err != nil {
		t.logger.Warn("transport: arming write failed", "fd", s.fd, "error", err)
		return status.InternalError
	}
	return status.OK
}

func (t *Layer) Close(l *layer.Link, _ any, in status.Code) status.Code {
	t.logger.Debug("transport: close requested", "status", in.String())
	return t.shutdown(l, in)
}

// flush hands pending frames to the writer goroutine. Frames that do not
// fit stay pending until a write completes.
func (t *Layer) flush(s *stream) error {
	if t.cur != s {
		return nil
	}
	for len(s.pending) > 0 {
		select {
		case s.writes <- s.pending[0]:
			s.pending[0] = nil
			s.pending = s.pending[1:]
			s.inflight++
		default:
			return nil
		}
	}
	return nil
}

// onReadable processes what the connection goroutines queued.
func (t *Layer) onReadable(l *layer.Link, s *stream) error {
	if t.cur != s {
		return nil
	}

	for _, ev := range s.take() {
		switch ev.kind {
		case evData:
			l.PullOnNext(ev.data, status.OK)
		case evWritten:
			s.inflight--
			l.PushOnNext(nil, status.Written)
		case evReadFailed:
			code := readStatus(ev.err)
			t.logger.Warn("transport: read failed", "fd", s.fd, "status", code.String(), "error", ev.err)
			t.shutdown(l, code)
			return nil
		case evWriteFailed:
			code := writeStatus(ev.err)
			t.logger.Warn("transport: write failed", "fd", s.fd, "status", code.String(), "error", ev.err)
			t.shutdown(l, code)
			return nil
		}
	}
	return t.flush(s)
}

// shutdown closes the connection, or abandons the dial in progress, and
// reports the teardown upward.
func (t *Layer) shutdown(l *layer.Link, code status.Code) status.Code {
	t.teardown(l)
	return l.CloseExternallyOnNext(nil, code)
}

// teardown releases the connection without reporting it.
func (t *Layer) teardown(l *layer.Link) {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
		t.dialSeq++
	}

	s := t.cur
	if s == nil {
		return
	}
	t.cur = nil
	s.close()
	if err := l.Scheduler().UnregisterFD(scheduler.SocketFD, s.fd); err != nil {
		t.logger.Debug("transport: unregistering connection", "fd", s.fd, "error", err)
	}
	if n := s.inflight + len(s.pending); n > 0 {
		t.logger.Debug("transport: dropping unwritten frames", "count", n)
	}
	t.logger.Info("transport: disconnected", "remote", t.dialer.String(), "fd", s.fd)
}

type eventKind uint8

const (
	evData eventKind = iota
	evWritten
	evReadFailed
	evWriteFailed
)

type streamEvent struct {
	kind eventKind
	data []byte
	err  error
}

// stream is one live connection. pending and inflight belong to the
// scheduler goroutine; events is shared with the connection goroutines.
type stream struct {
	fd     int
	conn   net.Conn
	writes chan []byte
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	events []streamEvent

	pending  [][]byte
	inflight int
}

func newStream(fd int, conn net.Conn) *stream {
	return &stream{
		fd:     fd,
		conn:   conn,
		writes: make(chan []byte, writeQueueSize),
		done:   make(chan struct{}),
	}
}

func (s *stream) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close() //nolint:errcheck // best effort
	})
}

func (s *stream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *stream) post(p Poller, ev streamEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	p.Notify(scheduler.SocketFD, s.fd)
}

func (s *stream) take() []streamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events
	s.events = nil
	return evs
}

func (s *stream) readLoop(p Poller) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.post(p, streamEvent{kind: evData, data: chunk})
		}
		if err != nil {
			if !s.closed() {
				s.post(p, streamEvent{kind: evReadFailed, err: err})
			}
			return
		}
	}
}

func (s *stream) writeLoop(p Poller, timeout time.Duration) {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.writes:
			if timeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
			}
			if _, err := s.conn.Write(frame); err != nil {
				if !s.closed() {
					s.post(p, streamEvent{kind: evWriteFailed, err: err})
				}
				return
			}
			s.post(p, streamEvent{kind: evWritten})
		}
	}
}
