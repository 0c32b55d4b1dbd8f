package influxdb

import "errors"

// Sentinel errors for InfluxDB operations. Point writes are asynchronous,
// so their failures reach the SetOnError callback instead.
var (
	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps a failed or unhealthy ping in Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when telemetry export is turned off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrNoClientID is returned by Connect without a client ID to tag points with.
	ErrNoClientID = errors.New("influxdb: client id required")

	// ErrWritesRejected is returned by HealthCheck after a recent batch failure.
	ErrWritesRejected = errors.New("influxdb: writes rejected")
)
