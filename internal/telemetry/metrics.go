package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-edge/internal/client"
	"github.com/nerrad567/gray-logic-edge/internal/mqtt/codec"
	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
	"github.com/nerrad567/gray-logic-edge/internal/session"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

const (
	namespace = "graylogic_edge"
	subsystem = "mqtt"
)

// states lists every connection state exported by the state gauge.
var states = []session.State{
	session.Closed,
	session.Opening,
	session.OpenFailed,
	session.Opened,
	session.Closing,
}

// Metrics holds the Prometheus collectors for one client.
type Metrics struct {
	packetsSent     *prometheus.CounterVec // By type and result
	packetsReceived *prometheus.CounterVec // By type
	requests        *prometheus.CounterVec // By kind and result
	queueDepth      *prometheus.GaugeVec   // By queue

	connectionState *prometheus.GaugeVec   // 1 for the current state
	stateChanges    *prometheus.CounterVec // By state and status
	reconnects      prometheus.Counter
	backoffLevel    prometheus.Gauge

	schedReady  prometheus.GaugeFunc
	schedTimers prometheus.GaugeFunc
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Packets handed to the transport, by write outcome",
		}, []string{"type", "result"}),

		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Packets decoded from the broker",
		}, []string{"type"}),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Finished requests, by kind and final status",
		}, []string{"kind", "result"}),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Requests waiting in each queue",
		}, []string{"queue"}),

		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),

		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_changes_total",
			Help:      "Connection state notifications, by state and status",
		}, []string{"state", "status"}),

		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after a failure",
		}),

		backoffLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backoff_level",
			Help:      "Current reconnect penalty level",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.packetsSent, m.packetsReceived, m.requests, m.queueDepth,
		m.connectionState, m.stateChanges, m.reconnects, m.backoffLevel,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("telemetry: registering collector: %w", err)
		}
	}

	m.setState(session.Closed)
	return m, nil
}

// RegisterScheduler exports the ready queue and timer counts of s.
func (m *Metrics) RegisterScheduler(reg prometheus.Registerer, s *scheduler.Scheduler) error {
	m.schedReady = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "ready_handles",
		Help:      "Handles waiting in the ready queue",
	}, func() float64 {
		ready, _ := s.Pending()
		return float64(ready)
	})
	m.schedTimers = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "timers",
		Help:      "Live timed handles",
	}, func() float64 {
		_, timers := s.Pending()
		return float64(timers)
	})

	if err := reg.Register(m.schedReady); err != nil {
		return fmt.Errorf("telemetry: registering scheduler collector: %w", err)
	}
	if err := reg.Register(m.schedTimers); err != nil {
		return fmt.Errorf("telemetry: registering scheduler collector: %w", err)
	}
	return nil
}

func (m *Metrics) PacketSent(packetType byte, result status.Code) {
	m.packetsSent.WithLabelValues(codec.TypeName(packetType), result.String()).Inc()
}

func (m *Metrics) PacketReceived(packetType byte) {
	m.packetsReceived.WithLabelValues(codec.TypeName(packetType)).Inc()
}

func (m *Metrics) QueueDepth(qos0, send, receive int) {
	m.queueDepth.WithLabelValues("qos0").Set(float64(qos0))
	m.queueDepth.WithLabelValues("send").Set(float64(send))
	m.queueDepth.WithLabelValues("receive").Set(float64(receive))
}

func (m *Metrics) TaskCompleted(kind string, result status.Code) {
	m.requests.WithLabelValues(kind, result.String()).Inc()
}

// OnStateChange is a client.StateHandler.
func (m *Metrics) OnStateChange(ev client.StateChange) {
	m.setState(ev.State)
	m.stateChanges.WithLabelValues(ev.State.String(), ev.Status.String()).Inc()
	m.backoffLevel.Set(float64(ev.BackoffLevel))
	if ev.Reconnecting {
		m.reconnects.Inc()
	}
}

func (m *Metrics) setState(current session.State) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.connectionState.WithLabelValues(s.String()).Set(v)
	}
}
