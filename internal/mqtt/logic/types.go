package logic

import (
	"github.com/nerrad567/gray-logic-edge/internal/backoff"
	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
	"github.com/nerrad567/gray-logic-edge/internal/session"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// Message is an application message received on a subscription.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
	Dup     bool
}

// MessageHandler receives messages matching a subscription filter.
//
// Handlers run on the scheduler goroutine and must not block.
type MessageHandler func(Message)

// Done reports the final status of a request. It is always invoked from a
// scheduled handle, never from inside the call that queued the request.
type Done func(status.Code)

// PublishRequest asks the layer to publish an application message.
type PublishRequest struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
	Done    Done
}

// SubscribeRequest registers Handler for Filter once the broker grants the
// subscription. Done receives OK or SubscriptionFailed.
type SubscribeRequest struct {
	Filter  string
	QoS     byte
	Handler MessageHandler
	Done    Done
}

// UnsubscribeRequest removes a subscription once the broker confirms it.
type UnsubscribeRequest struct {
	Filter string
	Done   Done
}

// ShutdownRequest asks for a graceful DISCONNECT followed by a transport
// close. A second request while one is pending is dropped.
type ShutdownRequest struct{}

// Observer is notified of protocol activity. Implementations must be
// cheap; they run on the scheduler goroutine.
type Observer interface {
	PacketSent(packetType byte, result status.Code)
	PacketReceived(packetType byte)
	QueueDepth(qos0, send, receive int)
	TaskCompleted(kind string, result status.Code)
}

// Logger is the logging interface used by the logic layer.
// Compatible with *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Stats is a point-in-time view of the layer queues.
type Stats struct {
	QoS0          int
	Send          int
	Receive       int
	Held          int
	Subscriptions int
	LastMessageID uint16
	Online        bool
}

// Option configures a Layer.
type Option func(*Layer)

// WithLogger sets the layer logger.
func WithLogger(l Logger) Option {
	return func(e *Layer) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver installs an activity observer.
func WithObserver(o Observer) Option {
	return func(e *Layer) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithStore mirrors the session slot to a persistent store.
func WithStore(s session.Store) Option {
	return func(e *Layer) {
		e.store = s
	}
}

// WithAckTimeout sets how long QoS 1/2 exchanges wait for the broker before
// resending. Zero falls back to the keepalive interval.
func WithAckTimeout(ticks scheduler.Tick) Option {
	return func(e *Layer) {
		if ticks >= 0 {
			e.ackTicks = ticks
		}
	}
}

// OutcomeRecorder receives write confirmations. *backoff.Controller
// implements it.
type OutcomeRecorder interface {
	OnOutcome(code status.Code) backoff.Class
}

// WithOutcomes reports every confirmed write to r, so a penalty can decay
// while the connection carries traffic.
func WithOutcomes(r OutcomeRecorder) Option {
	return func(e *Layer) {
		e.outcomes = r
	}
}

type noopObserver struct{}

func (noopObserver) PacketSent(byte, status.Code)       {}
func (noopObserver) PacketReceived(byte)                {}
func (noopObserver) QueueDepth(int, int, int)           {}
func (noopObserver) TaskCompleted(string, status.Code) {}
