// Package session holds the per-connection data shared by every pipeline
// layer and the stores that keep unacknowledged publishes across restarts.
//
// Within one process the protocol logic keeps its session in memory between
// reconnects. A Store mirrors the part of it that can be rebuilt without
// application callbacks (pending QoS 1/2 publishes and the last message
// identifier) so a restarted process can resume a continue session.
//
// Two stores are provided:
//   - MemoryStore for tests and devices without writable storage
//   - SQLiteStore backed by the embedded migrations, records encoded as CBOR
package session
