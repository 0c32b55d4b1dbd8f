package layer

import (
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// State is the lifecycle tag carried by every link in a pipeline.
type State uint8

const (
	None State = iota
	Connecting
	Connected
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case None:
		return "none"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Op names one of the seven layer operations.
type Op uint8

const (
	OpPush Op = iota
	OpPull
	OpInit
	OpConnect
	OpClose
	OpCloseExternally
	OpPostConnect
)

func (o Op) String() string {
	switch o {
	case OpPush:
		return "push"
	case OpPull:
		return "pull"
	case OpInit:
		return "init"
	case OpConnect:
		return "connect"
	case OpClose:
		return "close"
	case OpCloseExternally:
		return "close_externally"
	case OpPostConnect:
		return "post_connect"
	default:
		return "unknown"
	}
}

// Layer is one stage of the pipeline.
//
// Every operation receives the link it is bound to, an opaque payload and
// the status produced by the caller. Push travels toward the transport,
// Pull toward the application. Init and Close travel toward the transport,
// Connect and CloseExternally toward the application.
type Layer interface {
	Push(l *Link, data any, in status.Code) status.Code
	Pull(l *Link, data any, in status.Code) status.Code
	Init(l *Link, data any, in status.Code) status.Code
	Connect(l *Link, data any, in status.Code) status.Code
	Close(l *Link, data any, in status.Code) status.Code
	CloseExternally(l *Link, data any, in status.Code) status.Code
	PostConnect(l *Link, data any, in status.Code) status.Code
}

// Descriptor names a layer for pipeline construction.
type Descriptor struct {
	Name  string
	Layer Layer
}

// Passthrough forwards every operation to the neighbouring layer in its
// direction of travel. Embed it to override only the operations a layer
// cares about.
type Passthrough struct{}

func (Passthrough) Push(l *Link, data any, in status.Code) status.Code {
	return l.PushOnPrev(data, in)
}

func (Passthrough) Pull(l *Link, data any, in status.Code) status.Code {
	return l.PullOnNext(data, in)
}

func (Passthrough) Init(l *Link, data any, in status.Code) status.Code {
	return l.InitOnPrev(data, in)
}

func (Passthrough) Connect(l *Link, data any, in status.Code) status.Code {
	return l.ConnectOnNext(data, in)
}

func (Passthrough) Close(l *Link, data any, in status.Code) status.Code {
	return l.CloseOnPrev(data, in)
}

func (Passthrough) CloseExternally(l *Link, data any, in status.Code) status.Code {
	return l.CloseExternallyOnNext(data, in)
}

func (Passthrough) PostConnect(l *Link, data any, in status.Code) status.Code {
	return l.PostConnectOnPrev(data, in)
}

// nextState returns the caller's state after it schedules op.
func nextState(current State, op Op, in status.Code) State {
	switch op {
	case OpInit:
		return Connecting
	case OpConnect:
		if in == status.OK {
			return Connected
		}
		return Closed
	case OpClose:
		if current == Connected {
			return Closing
		}
		return current
	case OpCloseExternally:
		return Closed
	default:
		return current
	}
}

func invoke(ly Layer, op Op, l *Link, data any, in status.Code) status.Code {
	switch op {
	case OpPush:
		return ly.Push(l, data, in)
	case OpPull:
		return ly.Pull(l, data, in)
	case OpInit:
		return ly.Init(l, data, in)
	case OpConnect:
		return ly.Connect(l, data, in)
	case OpClose:
		return ly.Close(l, data, in)
	case OpCloseExternally:
		return ly.CloseExternally(l, data, in)
	case OpPostConnect:
		return ly.PostConnect(l, data, in)
	default:
		return status.InternalError
	}
}
