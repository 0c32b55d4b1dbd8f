package session

import (
	"fmt"

	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
)

// Type selects whether broker and client state survive a reconnect.
type Type uint8

const (
	// Clean discards subscriptions and unacknowledged messages on every connect.
	Clean Type = iota

	// Continue keeps them across reconnects.
	Continue
)

func (t Type) String() string {
	if t == Continue {
		return "continue"
	}
	return "clean"
}

// ParseType converts a configuration value to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "", "clean":
		return Clean, nil
	case "continue":
		return Continue, nil
	default:
		return Clean, fmt.Errorf("session: unknown session type %q", s)
	}
}

// State is the application-visible connection state.
type State uint8

const (
	Closed State = iota
	Opening
	OpenFailed
	Opened
	Closing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case OpenFailed:
		return "open_failed"
	case Opened:
		return "opened"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Will is the last-will message the broker publishes on an unexpected
// disconnect.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// ConnectionData describes one logical connection.
//
// It is owned by the client context and read by every layer. Only the
// protocol logic layer changes State, and only on the scheduler goroutine.
type ConnectionData struct {
	ClientID string
	Username string
	Password string

	// Keepalive is the ping interval in ticks; zero disables keepalive.
	Keepalive scheduler.Tick

	// ConnectionTimeout bounds the wait for CONNACK, in ticks.
	ConnectionTimeout scheduler.Tick

	SessionType Type
	Will        *Will

	State State
}
