// Package status defines the result codes that flow through the client
// engine: between layers of the pipeline, out of scheduled handles and into
// application completion callbacks.
//
// A Code is also an error, so failures can be returned from scheduler
// handles and matched with errors.Is:
//
//	if errors.Is(err, status.Timeout) {
//	    // the broker did not answer in time
//	}
//
// OK and Written are successful outcomes; Code.Err converts them to nil.
package status

import "fmt"

// Code is the outcome of a pipeline operation or protocol exchange.
type Code uint16

// Successful and flow-control outcomes.
const (
	// OK is the neutral success value passed between layers.
	OK Code = iota

	// Written confirms that the transport handed a message to the network.
	Written

	// FailedWriting reports that the transport could not send a message.
	FailedWriting

	// Resend asks a task to send its message again with the DUP flag set.
	Resend

	// Timeout reports that a reply or a connection attempt did not arrive in time.
	Timeout

	// WantMoreData reports that the decoder needs more bytes for a full message.
	WantMoreData

	// Aborted is delivered to tasks discarded by a connection teardown.
	Aborted
)

// Transport failures.
const (
	// ConnectionResetByPeer reports that the broker closed the connection.
	ConnectionResetByPeer Code = iota + 100

	// SocketError reports a failure to establish the connection.
	SocketError

	// SocketReadError reports a failure while reading from the connection.
	SocketReadError

	// SocketWriteError reports a failure while writing to the connection.
	SocketWriteError

	// NotConnected reports an operation that needs an open connection.
	NotConnected
)

// Broker rejections carried in the CONNACK return code.
const (
	// UnacceptableProtocolVersion is CONNACK return code 1.
	UnacceptableProtocolVersion Code = iota + 200

	// IdentifierRejected is CONNACK return code 2.
	IdentifierRejected

	// ServerUnavailable is CONNACK return code 3.
	ServerUnavailable

	// BadUsernameOrPassword is CONNACK return code 4.
	BadUsernameOrPassword

	// NotAuthorized is CONNACK return code 5.
	NotAuthorized

	// SubscriptionFailed reports a SUBACK carrying the failure return code.
	SubscriptionFailed
)

// Protocol and local invariant violations.
const (
	// ProtocolError reports bytes that could not be decoded as a message.
	ProtocolError Code = iota + 300

	// WrongMessageReceived reports a reply whose type does not match the request.
	WrongMessageReceived

	// MessageClassUnknown reports a message type that cannot be routed.
	MessageClassUnknown

	// UnknownMessageID reports an acknowledgement for an identifier with no live task.
	UnknownMessageID

	// UnsetHandler reports an attempt to run an empty continuation.
	UnsetHandler

	// InvalidParameter reports a malformed request or configuration value.
	InvalidParameter

	// BackoffTerminal closes the pipeline after a terminal backoff classification.
	BackoffTerminal
)

// Resource exhaustion and internal failures.
const (
	// OutOfMemory reports that a queue or table reached its configured capacity.
	OutOfMemory Code = iota + 400

	// ResourceExhausted reports that every message identifier is in use.
	ResourceExhausted

	// InternalError reports a broken internal invariant.
	InternalError
)

var names = map[Code]string{
	OK:                          "ok",
	Written:                     "written",
	FailedWriting:               "failed writing",
	Resend:                      "resend",
	Timeout:                     "timeout",
	WantMoreData:                "want more data",
	Aborted:                     "aborted",
	ConnectionResetByPeer:       "connection reset by peer",
	SocketError:                 "socket error",
	SocketReadError:             "socket read error",
	SocketWriteError:            "socket write error",
	NotConnected:                "not connected",
	UnacceptableProtocolVersion: "unacceptable protocol version",
	IdentifierRejected:          "identifier rejected",
	ServerUnavailable:           "server unavailable",
	BadUsernameOrPassword:       "bad username or password",
	NotAuthorized:               "not authorized",
	SubscriptionFailed:          "subscription failed",
	ProtocolError:               "protocol error",
	WrongMessageReceived:        "wrong message received",
	MessageClassUnknown:         "message class unknown",
	UnknownMessageID:            "unknown message id",
	UnsetHandler:                "unset handler",
	InvalidParameter:            "invalid parameter",
	BackoffTerminal:             "backoff terminal",
	OutOfMemory:                 "out of memory",
	ResourceExhausted:           "resource exhausted",
	InternalError:               "internal error",
}

// String returns the human-readable name of the code.
func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint16(c))
}

// Error implements the error interface.
func (c Code) Error() string {
	return "status: " + c.String()
}

// Err returns nil for successful codes and the code itself otherwise.
func (c Code) Err() error {
	if c.Success() {
		return nil
	}
	return c
}

// Success reports whether the code is OK or Written.
func (c Code) Success() bool {
	return c == OK || c == Written
}

// IsFatal reports whether the code indicates a failure the scheduler
// cannot continue past when it comes out of a timed event.
func (c Code) IsFatal() bool {
	switch c {
	case OutOfMemory, InternalError, UnknownMessageID, UnsetHandler:
		return true
	default:
		return false
	}
}

// FromConnack maps a CONNACK return code to a Code.
// Unknown non-zero return codes map to ProtocolError.
func FromConnack(returnCode byte) Code {
	switch returnCode {
	case 0x00:
		return OK
	case 0x01:
		return UnacceptableProtocolVersion
	case 0x02:
		return IdentifierRejected
	case 0x03:
		return ServerUnavailable
	case 0x04:
		return BadUsernameOrPassword
	case 0x05:
		return NotAuthorized
	default:
		return ProtocolError
	}
}
