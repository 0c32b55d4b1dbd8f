// Package client is the application-facing side of the edge MQTT engine.
//
// A Client owns one connection context: the connection data, the session
// holding slot, the backoff controller and the layer pipeline
// [transport, codec, logic, client]. The top layer of that pipeline lives
// here; it turns connection outcomes into state notifications and
// reconnect decisions.
//
// Reconnect policy:
//   - A successful CONNACK resets the backoff penalty.
//   - Any other failure raises it and schedules a new attempt after the
//     backoff delay.
//   - Terminal failures (credentials rejected, identifier rejected, reset
//     by peer) stop the client instead.
//
// Thread Safety:
//   - Publish, Subscribe, Unsubscribe, Shutdown, Stats and the state
//     accessors are safe for concurrent use. They only enqueue work on the
//     scheduler; completion callbacks and message handlers run on the
//     scheduler goroutine.
package client
