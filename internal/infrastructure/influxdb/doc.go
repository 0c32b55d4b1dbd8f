// Package influxdb provides InfluxDB connectivity for edge client telemetry.
//
// It wraps the official influxdb-client-go v2 library. A Client is bound to
// one edge client ID, which is attached to every point as the client_id tag.
//
// # Purpose
//
// This package records:
//   - Connection state changes with the backoff level
//   - Request outcomes (publish, subscribe, keepalive, ...)
//   - Request queue depths
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, clientID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteRequestOutcome("publish", "ok")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are reported via a callback.
// A rejected batch also fails HealthCheck for two flush periods, so the
// health endpoint shows telemetry export as degraded.
package influxdb
