// Package layer implements the bidirectional layer pipeline that the edge
// client is assembled from.
//
// A pipeline is an ordered list of layers, transport first:
//
//	transport ↔ codec ↔ mqtt logic ↔ client
//
// Layers never call each other directly. A Link helper such as PushOnPrev
// enqueues the neighbour's operation on the shared scheduler and records
// the caller's new lifecycle state:
//
//   - init            → Connecting
//   - connect         → Connected on OK, Closed otherwise
//   - close           → Closing when Connected, unchanged otherwise
//   - close_externally → Closed
//   - push, pull, post_connect leave the state unchanged
//
// A close_externally that reaches a layer already in the Closed state is
// dropped, so one failure produces one teardown.
package layer
