package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the edge client.
const (
	MeasurementConnection = "edge_connection"
	MeasurementRequest    = "edge_request"
	MeasurementQueue      = "edge_queue"
)

// ConnectionState is one connection state notification.
type ConnectionState struct {
	State        string
	Status       string
	BackoffLevel int
	Reconnecting bool
}

// WriteConnectionState records a connection state change, tagged by state.
func (c *Client) WriteConnectionState(s ConnectionState) {
	c.write(MeasurementConnection,
		map[string]string{"state": s.State},
		map[string]interface{}{
			"status":        s.Status,
			"backoff_level": s.BackoffLevel,
			"reconnecting":  s.Reconnecting,
		})
}

// WriteRequestOutcome counts one finished request.
//
// kind is the request kind ("publish", "subscribe", "keepalive", ...) and
// result the final status name.
func (c *Client) WriteRequestOutcome(kind, result string) {
	c.write(MeasurementRequest,
		map[string]string{"kind": kind, "result": result},
		map[string]interface{}{"count": 1})
}

// WriteQueueDepth records the sizes of the request queues.
func (c *Client) WriteQueueDepth(qos0, send, receive int) {
	c.write(MeasurementQueue, nil, map[string]interface{}{
		"qos0":    qos0,
		"send":    send,
		"receive": receive,
	})
}

// write queues a point. Points written after Close are dropped.
func (c *Client) write(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
