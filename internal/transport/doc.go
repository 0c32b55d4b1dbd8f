// Package transport is the lowest layer of the client pipeline.
//
// It owns the network connection to the broker: dialling (plain TCP, TCP
// with TLS, or MQTT over WebSocket), writing frames handed down by the
// codec layer and delivering received bytes upward. Write outcomes are
// reported up the pipeline as status.Written or status.FailedWriting, one
// per frame and in order.
//
// Blocking socket I/O runs on a reader and a writer goroutine per
// connection. Those goroutines never touch layer state: they queue events
// on the connection and ask the Poller to dispatch the connection's
// descriptor, and the event loop then runs the layer's read handle on the
// scheduler goroutine.
//
// Thread Safety:
//   - Layer methods run on the scheduler goroutine only.
//   - Dialer implementations must be safe to call from a new goroutine.
package transport
