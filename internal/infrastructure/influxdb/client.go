package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize    = 100
	defaultFlushSeconds = 10

	// TagClientID is attached to every point the exporter writes.
	TagClientID = "client_id"
)

// Client exports the telemetry of one edge client. Every point is tagged
// with the client ID given to Connect.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Writes are batched and never block the scheduler goroutine.
type Client struct {
	influx   influxdb2.Client
	writer   api.WriteAPI
	clientID string

	// rejectWindow is how long a rejected batch keeps HealthCheck failing.
	rejectWindow time.Duration

	mu        sync.RWMutex
	open      bool
	onError   func(err error)
	lastErr   error
	lastErrAt time.Time
}

// Connect pings the server and starts a batching exporter for clientID.
//
// Returns ErrDisabled when export is turned off in cfg.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, clientID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if clientID == "" {
		return nil, ErrNoClientID
	}

	opts, flush := exportOptions(cfg, clientID)
	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	if err := ping(ctx, influx, connectTimeout); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		influx:       influx,
		writer:       influx.WriteAPI(cfg.Org, cfg.Bucket),
		clientID:     clientID,
		rejectWindow: 2 * flush,
		open:         true,
	}
	go c.collectErrors(c.writer.Errors())
	return c, nil
}

// exportOptions batches points, stamps them in milliseconds and adds the
// client ID tag. It also returns the flush period.
func exportOptions(cfg config.InfluxDBConfig, clientID string) (*influxdb2.Options, time.Duration) {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	seconds := cfg.FlushInterval
	if seconds <= 0 {
		seconds = defaultFlushSeconds
	}
	flush := time.Duration(seconds) * time.Second

	// #nosec G115 -- both values are positive here
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush.Milliseconds())).
		SetPrecision(time.Millisecond).
		AddDefaultTag(TagClientID, clientID)
	return opts, flush
}

func ping(ctx context.Context, influx influxdb2.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	healthy, err := influx.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return errors.New("server not healthy")
	}
	return nil
}

// collectErrors records batch failures and forwards them to the callback.
func (c *Client) collectErrors(errs <-chan error) {
	for err := range errs {
		c.mu.Lock()
		c.lastErr, c.lastErrAt = err, time.Now()
		callback := c.onError
		c.mu.Unlock()

		if callback != nil {
			callback(err)
		}
	}
}

// ClientID returns the tag value attached to every point.
func (c *Client) ClientID() string {
	return c.clientID
}

// HealthCheck pings the server. It also fails with ErrWritesRejected while
// a batch was rejected within the last two flush periods.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	open, lastErr, lastErrAt := c.open, c.lastErr, c.lastErrAt
	c.mu.RUnlock()

	if !open {
		return ErrNotConnected
	}
	if err := ping(ctx, c.influx, pingTimeout); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if lastErr != nil && time.Since(lastErrAt) < c.rejectWindow {
		return fmt.Errorf("%w: %w", ErrWritesRejected, lastErr)
	}
	return nil
}

// IsConnected reports whether the exporter is still accepting points.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// SetOnError sets the callback for rejected batches. It runs on the
// exporter's error goroutine.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush blocks until buffered points are sent. It is a no-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writer.Flush()
	}
}

// Close flushes pending points and releases the client. Calling it more
// than once is safe.
func (c *Client) Close() error {
	if c == nil || c.influx == nil {
		return nil
	}

	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()

	if wasOpen {
		c.writer.Flush()
		c.influx.Close()
	}
	return nil
}
