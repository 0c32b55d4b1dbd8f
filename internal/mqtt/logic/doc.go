// Package logic implements the MQTT 3.1.1 protocol logic layer.
//
// The layer turns application requests (publish, subscribe, unsubscribe,
// shutdown) and its own housekeeping (connect, keepalive, inbound
// acknowledgements) into tasks. Each task is a small state machine resumed
// by events: a write confirmation from the transport, a reply from the
// broker, a timeout or a resend.
//
// # Queues
//
// Tasks are kept in three queues:
//
//   - QoS 0 queue: connect, keepalive, shutdown and QoS 0 publishes. Only
//     the head is in flight; connect and shutdown jump ahead of waiting
//     tasks but never preempt the current one.
//   - Send queue: outbound QoS 1/2 publishes, subscribes and unsubscribes,
//     keyed by message identifier.
//   - Receive queue: inbound QoS 1/2 publishes awaiting acknowledgement,
//     keyed by the broker's message identifier.
//
// # Session continuity
//
// With a continue session, a teardown moves subscription handlers and every
// written but unacknowledged task into a Slot owned by the client. The next
// init restores them and post_connect resends them with DUP set. When a
// session.Store is configured, the slot is mirrored to it so unacknowledged
// publishes survive a process restart.
//
// Thread Safety:
//   - A Layer belongs to one scheduler. All methods except New and Restore
//     must run on handles executed by that scheduler.
package logic
