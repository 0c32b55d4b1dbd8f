package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-edge/internal/backoff"
	"github.com/nerrad567/gray-logic-edge/internal/layer"
	"github.com/nerrad567/gray-logic-edge/internal/mqtt/codec"
	"github.com/nerrad567/gray-logic-edge/internal/mqtt/logic"
	"github.com/nerrad567/gray-logic-edge/internal/mqtt/topic"
	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
	"github.com/nerrad567/gray-logic-edge/internal/session"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

const (
	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// maxPayloadSize bounds application payloads (1MB).
	maxPayloadSize = 1 << 20

	// clientIDPrefix starts generated client identifiers.
	clientIDPrefix = "edge-"

	// maxClientIDLength is the longest identifier every MQTT 3.1.1 broker
	// must accept.
	maxClientIDLength = 23
)

// Logger is the logging interface used by the client.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on the scheduler goroutine and must not block. A returned
// error is logged; a panic is recovered and logged.
type MessageHandler func(topic string, payload []byte) error

// Done receives the final status of a request.
type Done func(status.Code)

// StateChange describes one connection state notification.
type StateChange struct {
	State  session.State
	Status status.Code

	// BackoffLevel is the penalty level after the outcome was recorded.
	BackoffLevel int

	// Reconnecting is true when another attempt has been scheduled.
	Reconnecting bool
}

// StateHandler is notified of connection state changes on the scheduler
// goroutine.
type StateHandler func(StateChange)

// Stats is a snapshot of the client.
type Stats struct {
	logic.Stats

	ClientID         string
	State            session.State
	BackoffLevel     int
	ReconnectPending bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger shared by the client and its layers.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStateHandler adds a connection state handler.
func WithStateHandler(h StateHandler) Option {
	return func(c *Client) {
		if h != nil {
			c.handlers = append(c.handlers, h)
		}
	}
}

// WithStore mirrors the held session to s.
func WithStore(s session.Store) Option {
	return func(c *Client) {
		c.logicOpts = append(c.logicOpts, logic.WithStore(s))
	}
}

// WithObserver receives protocol events from the logic layer.
func WithObserver(o logic.Observer) Option {
	return func(c *Client) {
		c.logicOpts = append(c.logicOpts, logic.WithObserver(o))
	}
}

// WithAckTimeout sets how many ticks to wait for an acknowledgement before
// resending. Zero uses the keepalive interval.
func WithAckTimeout(ticks scheduler.Tick) Option {
	return func(c *Client) {
		c.logicOpts = append(c.logicOpts, logic.WithAckTimeout(ticks))
	}
}

// WithMaxPacketSize bounds inbound packets.
func WithMaxPacketSize(n int) Option {
	return func(c *Client) {
		c.maxPacket = n
	}
}

// WithBackoffTables replaces the reconnect delay and decay tables.
func WithBackoffTables(lut, decay []scheduler.Tick) Option {
	return func(c *Client) {
		c.lut, c.decay = lut, decay
	}
}

// WithJitter randomises reconnect delays.
func WithJitter() Option {
	return func(c *Client) {
		c.backoffOpts = append(c.backoffOpts, backoff.WithJitter(nil))
	}
}

// WithPipelineObserver receives every cross-layer call.
func WithPipelineObserver(o layer.Observer) Option {
	return func(c *Client) {
		c.pipelineOpts = append(c.pipelineOpts, layer.WithObserver(o))
	}
}

// WithStatusTopics publishes a retained online status after every connect
// and an offline status on shutdown. Unless a will is configured, the
// will becomes the offline status too.
func WithStatusTopics(t topic.Topics) Option {
	return func(c *Client) {
		c.topics = &t
	}
}

// Client is one MQTT connection context.
type Client struct {
	sched    *scheduler.Scheduler
	conn     *session.ConnectionData
	slot     *logic.Slot
	logic    *logic.Layer
	backoff  *backoff.Controller
	pipeline *layer.Pipeline
	logger   Logger
	topics   *topic.Topics
	handlers []StateHandler

	maxPacket    int
	lut, decay   []scheduler.Tick
	logicOpts    []logic.Option
	backoffOpts  []backoff.Option
	pipelineOpts []layer.Option

	// Scheduler goroutine only.
	started   bool
	finalized bool

	closing atomic.Bool
	mu      sync.RWMutex
	state   session.State
	done    chan struct{}
}

// New builds a client on sched with transport as the lowest layer.
// An empty client identifier is replaced by a generated one.
func New(sched *scheduler.Scheduler, conn session.ConnectionData, transport layer.Layer, opts ...Option) (*Client, error) {
	c := &Client{
		sched:  sched,
		conn:   &conn,
		slot:   logic.NewSlot(),
		logger: slog.New(slog.DiscardHandler),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.conn.ClientID == "" {
		c.conn.ClientID = GenerateClientID()
	}
	if c.topics != nil && c.conn.Will == nil {
		c.conn.Will = &session.Will{
			Topic:   c.topics.Status(c.conn.ClientID),
			Payload: []byte(topic.OfflinePayload(c.conn.ClientID, "unexpected_disconnect", time.Now())),
			QoS:     1,
			Retain:  true,
		}
	}

	c.backoff = backoff.New(sched, append([]backoff.Option{backoff.WithLogger(c.logger)}, c.backoffOpts...)...)
	if c.lut != nil || c.decay != nil {
		if err := c.backoff.Configure(c.lut, c.decay); err != nil {
			return nil, fmt.Errorf("client: %w", err)
		}
	}

	c.logic = logic.New(c.conn, c.slot, append([]logic.Option{logic.WithLogger(c.logger), logic.WithOutcomes(c.backoff)}, c.logicOpts...)...)

	p, err := layer.New(sched, []layer.Descriptor{
		{Name: "transport", Layer: transport},
		{Name: "codec", Layer: codec.NewLayer(c.maxPacket, c.logger)},
		{Name: "logic", Layer: c.logic},
		{Name: "client", Layer: &app{c: c}},
	}, append([]layer.Option{layer.WithLogger(c.logger)}, c.pipelineOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("client: building pipeline: %w", err)
	}
	c.pipeline = p
	return c, nil
}

// GenerateClientID returns a random identifier short enough for any
// MQTT 3.1.1 broker.
func GenerateClientID() string {
	id := clientIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:maxClientIDLength]
}

// Start restores a persisted session and schedules the first connect.
// It must be called before the event loop starts running the scheduler.
func (c *Client) Start(ctx context.Context) error {
	if err := c.logic.Restore(ctx); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if err := c.sched.RunNow(c.open); err != nil {
		return fmt.Errorf("client: scheduling connect: %w", err)
	}
	return nil
}

// ClientID returns the identifier sent in CONNECT.
func (c *Client) ClientID() string {
	return c.conn.ClientID
}

// Pipeline returns the layer pipeline.
func (c *Client) Pipeline() *layer.Pipeline {
	return c.pipeline
}

// State returns the last reported connection state.
func (c *Client) State() session.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the connection is open.
func (c *Client) IsConnected() bool {
	return c.State() == session.Opened
}

// Done is closed once the client has stopped for good.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// HealthCheck reports whether the connection is open.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("client health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return fmt.Errorf("%w: state %s", ErrNotConnected, c.State())
	}
	return nil
}

// Publish sends a message. done receives the outcome: OK once the broker
// has acknowledged it (QoS 1/2) or it has been written (QoS 0).
//
// QoS 1/2 messages published while disconnected are sent after the next
// connect.
func (c *Client) Publish(topicName string, payload []byte, qos byte, retained bool, done Done) error {
	if topicName == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	return c.submit(&logic.PublishRequest{
		Topic:   topicName,
		Payload: payload,
		QoS:     qos,
		Retain:  retained,
		Done:    logic.Done(done),
	})
}

// PublishString is a convenience method that publishes a string payload.
func (c *Client) PublishString(topicName, payload string, qos byte, retained bool, done Done) error {
	return c.Publish(topicName, []byte(payload), qos, retained, done)
}

// Subscribe registers handler for messages matching filter once the
// broker grants the subscription.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler, done Done) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	return c.submit(&logic.SubscribeRequest{
		Filter:  filter,
		QoS:     qos,
		Handler: c.wrapHandler(handler),
		Done:    logic.Done(done),
	})
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(filter string, done Done) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	return c.submit(&logic.UnsubscribeRequest{Filter: filter, Done: logic.Done(done)})
}

// Shutdown disconnects gracefully and stops the client. Requests still
// pending complete with status.Aborted. Calling it again has no effect.
func (c *Client) Shutdown() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	if c.sched.Stopped() {
		return ErrNotRunning
	}
	if err := c.sched.RunNow(c.shutdown); err != nil {
		return fmt.Errorf("%w: %w", ErrNotRunning, err)
	}
	return nil
}

// Stats returns a snapshot taken on the scheduler goroutine. It blocks
// until the event loop has processed the request or ctx is done.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	if c.sched.Stopped() {
		return Stats{}, ErrNotRunning
	}
	result := make(chan Stats, 1)
	if err := c.sched.RunNow(func() error {
		result <- Stats{
			Stats:            c.logic.Stats(),
			ClientID:         c.conn.ClientID,
			State:            c.conn.State,
			BackoffLevel:     c.backoff.Level(),
			ReconnectPending: c.backoff.ReconnectPending(),
		}
		return nil
	}); err != nil {
		return Stats{}, fmt.Errorf("%w: %w", ErrNotRunning, err)
	}

	select {
	case st := <-result:
		return st, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (c *Client) submit(req any) error {
	if c.closing.Load() {
		return ErrShuttingDown
	}
	if c.sched.Stopped() {
		return ErrNotRunning
	}
	if err := c.sched.RunNow(func() error {
		return c.top().PushOnPrev(req, status.OK).Err()
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrNotRunning, err)
	}
	return nil
}

// wrapHandler wraps a MessageHandler with panic recovery and logging.
func (c *Client) wrapHandler(handler MessageHandler) logic.MessageHandler {
	return func(msg logic.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("client: message handler panic recovered",
					"topic", msg.Topic,
					"panic", r,
				)
			}
		}()

		if err := handler(msg.Topic, msg.Payload); err != nil {
			c.logger.Warn("client: message handler returned error",
				"topic", msg.Topic,
				"error", err,
			)
		}
	}
}

func (c *Client) top() *layer.Link {
	return c.pipeline.Top()
}
