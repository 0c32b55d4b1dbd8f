package telemetry

import (
	"github.com/nerrad567/gray-logic-edge/internal/client"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// Sink receives time-series points. *influxdb.Client implements it.
type Sink interface {
	WriteConnectionState(s influxdb.ConnectionState)
	WriteRequestOutcome(kind, result string)
	WriteQueueDepth(qos0, send, receive int)
}

// Recorder writes client activity to a Sink. Packet-level events are not
// recorded; Prometheus covers them.
//
// It runs on the scheduler goroutine only.
type Recorder struct {
	sink Sink

	depth    [3]int
	hasDepth bool
}

// NewRecorder returns a Recorder writing to sink. The sink tags points
// with the client ID.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink}
}

func (r *Recorder) PacketSent(byte, status.Code) {}

func (r *Recorder) PacketReceived(byte) {}

// QueueDepth writes a point only when a depth changed.
func (r *Recorder) QueueDepth(qos0, send, receive int) {
	depth := [3]int{qos0, send, receive}
	if r.hasDepth && depth == r.depth {
		return
	}
	r.depth, r.hasDepth = depth, true
	r.sink.WriteQueueDepth(qos0, send, receive)
}

func (r *Recorder) TaskCompleted(kind string, result status.Code) {
	r.sink.WriteRequestOutcome(kind, result.String())
}

// OnStateChange is a client.StateHandler.
func (r *Recorder) OnStateChange(ev client.StateChange) {
	r.sink.WriteConnectionState(influxdb.ConnectionState{
		State:        ev.State.String(),
		Status:       ev.Status.String(),
		BackoffLevel: ev.BackoffLevel,
		Reconnecting: ev.Reconnecting,
	})
}
