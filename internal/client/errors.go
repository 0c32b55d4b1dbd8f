package client

import "errors"

// Domain-specific errors for client operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned by HealthCheck while no connection is open.
	ErrNotConnected = errors.New("client: not connected")

	// ErrShuttingDown is returned for requests made after Shutdown.
	ErrShuttingDown = errors.New("client: shutting down")

	// ErrNotRunning is returned when the scheduler has stopped.
	ErrNotRunning = errors.New("client: scheduler not running")

	// ErrPublishFailed is returned when a publish request is rejected.
	ErrPublishFailed = errors.New("client: publish failed")

	// ErrSubscribeFailed is returned when a subscribe request is rejected.
	ErrSubscribeFailed = errors.New("client: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("client: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("client: topic cannot be empty")
)
