package layer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// ErrEmptyPipeline is returned when a pipeline is built without layers.
var ErrEmptyPipeline = errors.New("layer: pipeline needs at least one layer")

// Logger is the logging interface used by the pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Transition describes one scheduled cross-layer call.
type Transition struct {
	From  string
	To    string
	Op    Op
	In    status.Code
	State State // caller state after the call was scheduled
}

// Observer is notified of every scheduled cross-layer call.
type Observer func(Transition)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver installs a transition observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// Pipeline is an ordered chain of layers sharing one scheduler.
// The first descriptor is the transport, the last faces the application.
//
// Every cross-layer call is deferred through the scheduler's ready queue;
// no layer operation runs inside another.
type Pipeline struct {
	sched    *scheduler.Scheduler
	links    []*Link
	logger   Logger
	observer Observer
}

// New links the descriptors in order.
func New(sched *scheduler.Scheduler, descriptors []Descriptor, opts ...Option) (*Pipeline, error) {
	if len(descriptors) == 0 {
		return nil, ErrEmptyPipeline
	}

	p := &Pipeline{
		sched:  sched,
		links:  make([]*Link, 0, len(descriptors)),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i, d := range descriptors {
		if d.Layer == nil {
			return nil, fmt.Errorf("layer: descriptor %d (%q) has no layer", i, d.Name)
		}
		l := &Link{p: p, name: d.Name, layer: d.Layer}
		if i > 0 {
			prev := p.links[i-1]
			prev.next = l
			l.prev = prev
		}
		p.links = append(p.links, l)
	}
	return p, nil
}

// Scheduler returns the scheduler the pipeline runs on.
func (p *Pipeline) Scheduler() *scheduler.Scheduler {
	return p.sched
}

// Bottom returns the transport-side link.
func (p *Pipeline) Bottom() *Link {
	return p.links[0]
}

// Top returns the application-side link.
func (p *Pipeline) Top() *Link {
	return p.links[len(p.links)-1]
}

// Link returns the link with the given name, or nil.
func (p *Pipeline) Link(name string) *Link {
	for _, l := range p.links {
		if l.name == name {
			return l
		}
	}
	return nil
}

// Links returns the links in transport-to-application order.
func (p *Pipeline) Links() []*Link {
	out := make([]*Link, len(p.links))
	copy(out, p.links)
	return out
}

// Link binds a layer into its pipeline position.
//
// Link state is owned by the scheduler goroutine; it must only be read or
// changed from handles running on that scheduler.
type Link struct {
	p     *Pipeline
	name  string
	layer Layer
	prev  *Link
	next  *Link
	state State
}

// Name returns the descriptor name.
func (l *Link) Name() string { return l.name }

// State returns the link's lifecycle tag.
func (l *Link) State() State { return l.state }

// Layer returns the bound layer.
func (l *Link) Layer() Layer { return l.layer }

// Prev returns the neighbour toward the transport, or nil.
func (l *Link) Prev() *Link { return l.prev }

// Next returns the neighbour toward the application, or nil.
func (l *Link) Next() *Link { return l.next }

// Scheduler returns the pipeline scheduler.
func (l *Link) Scheduler() *scheduler.Scheduler { return l.p.sched }

// PushOnPrev sends data toward the transport.
func (l *Link) PushOnPrev(data any, in status.Code) status.Code {
	return l.continueWith(l.prev, OpPush, data, in)
}

// PushOnNext carries a write confirmation toward the application.
func (l *Link) PushOnNext(data any, in status.Code) status.Code {
	return l.continueWith(l.next, OpPush, data, in)
}

// PullOnNext delivers received data toward the application.
func (l *Link) PullOnNext(data any, in status.Code) status.Code {
	return l.continueWith(l.next, OpPull, data, in)
}

// InitOnPrev starts connection setup on the layer below.
func (l *Link) InitOnPrev(data any, in status.Code) status.Code {
	return l.continueWith(l.prev, OpInit, data, in)
}

// ConnectOnNext reports connection establishment upward.
func (l *Link) ConnectOnNext(data any, in status.Code) status.Code {
	return l.continueWith(l.next, OpConnect, data, in)
}

// ConnectOnThis re-enters this layer's Connect.
func (l *Link) ConnectOnThis(data any, in status.Code) status.Code {
	return l.continueWith(l, OpConnect, data, in)
}

// CloseOnPrev requests a graceful close from the layer below.
func (l *Link) CloseOnPrev(data any, in status.Code) status.Code {
	return l.continueWith(l.prev, OpClose, data, in)
}

// CloseOnThis re-enters this layer's Close.
func (l *Link) CloseOnThis(data any, in status.Code) status.Code {
	return l.continueWith(l, OpClose, data, in)
}

// CloseExternallyOnNext reports a teardown upward.
func (l *Link) CloseExternallyOnNext(data any, in status.Code) status.Code {
	return l.continueWith(l.next, OpCloseExternally, data, in)
}

// CloseExternallyOnThis re-enters this layer's CloseExternally.
func (l *Link) CloseExternallyOnThis(data any, in status.Code) status.Code {
	return l.continueWith(l, OpCloseExternally, data, in)
}

// PostConnectOnPrev notifies lower layers that the application saw the
// connection come up.
func (l *Link) PostConnectOnPrev(data any, in status.Code) status.Code {
	return l.continueWith(l.prev, OpPostConnect, data, in)
}

// continueWith schedules op on target and updates the caller's state.
// A missing neighbour makes the call a no-op.
func (l *Link) continueWith(target *Link, op Op, data any, in status.Code) status.Code {
	if target == nil {
		return status.OK
	}

	err := l.p.sched.RunNow(func() error {
		return target.execute(op, data, in)
	})
	if err != nil {
		l.p.logger.Warn("layer: failed to schedule call",
			"from", l.name, "to", target.name, "op", op.String(), "error", err)
		return status.OutOfMemory
	}

	l.state = nextState(l.state, op, in)

	l.p.logger.Debug("layer call scheduled",
		"from", l.name, "to", target.name, "op", op.String(),
		"status", in.String(), "state", l.state.String())
	if l.p.observer != nil {
		l.p.observer(Transition{From: l.name, To: target.name, Op: op, In: in, State: l.state})
	}
	return status.OK
}

func (l *Link) execute(op Op, data any, in status.Code) error {
	// A teardown that reaches an already closed layer is swallowed so a
	// failure episode is reported once.
	if op == OpCloseExternally && l.state == Closed {
		l.p.logger.Debug("layer: close_externally on closed layer dropped",
			"layer", l.name, "status", in.String())
		return nil
	}
	return invoke(l.layer, op, l, data, in).Err()
}
