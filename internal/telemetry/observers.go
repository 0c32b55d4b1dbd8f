package telemetry

import (
	"github.com/nerrad567/gray-logic-edge/internal/mqtt/logic"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// Observers forwards every notification to each observer in order.
type Observers []logic.Observer

func (o Observers) PacketSent(packetType byte, result status.Code) {
	for _, ob := range o {
		ob.PacketSent(packetType, result)
	}
}

func (o Observers) PacketReceived(packetType byte) {
	for _, ob := range o {
		ob.PacketReceived(packetType)
	}
}

func (o Observers) QueueDepth(qos0, send, receive int) {
	for _, ob := range o {
		ob.QueueDepth(qos0, send, receive)
	}
}

func (o Observers) TaskCompleted(kind string, result status.Code) {
	for _, ob := range o {
		ob.TaskCompleted(kind, result)
	}
}
