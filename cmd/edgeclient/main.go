// Gray Logic Edge - MQTT client daemon
//
// This is the main entry point for the edge client. It keeps a single
// MQTT 3.1.1 session to the site broker alive on a cooperative scheduler,
// persists unacknowledged messages across restarts and exports the
// connection health for monitoring.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/gray-logic-edge/migrations"

	"github.com/nerrad567/gray-logic-edge/internal/api"
	"github.com/nerrad567/gray-logic-edge/internal/client"
	"github.com/nerrad567/gray-logic-edge/internal/eventloop"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-edge/internal/mqtt/logic"
	"github.com/nerrad567/gray-logic-edge/internal/mqtt/topic"
	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
	"github.com/nerrad567/gray-logic-edge/internal/session"
	"github.com/nerrad567/gray-logic-edge/internal/telemetry"
	"github.com/nerrad567/gray-logic-edge/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// shutdownGrace bounds the wait for the DISCONNECT exchange after a
// shutdown signal.
const shutdownGrace = 10 * time.Second

// errClientStopped is returned when the client gives up without being
// asked to.
var errClientStopped = errors.New("client stopped")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Edge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Nothing left to log to
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	clientID := cfg.Client.ID
	if clientID == "" {
		clientID = client.GenerateClientID()
		log.Info("generated client id", "client_id", clientID)
	}

	checks := make(map[string]api.HealthChecker)
	var opts []client.Option

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Session store (optional)
	if cfg.SessionStore.Enabled {
		db, storeErr := openSessionStore(ctx, cfg.SessionStore)
		if storeErr != nil {
			return storeErr
		}
		defer func() {
			log.Info("closing session store")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing session store", "error", closeErr)
			}
		}()
		store, storeErr := session.NewSQLiteStore(db)
		if storeErr != nil {
			return fmt.Errorf("creating session store: %w", storeErr)
		}
		opts = append(opts, client.WithStore(store))
		checks["session_store"] = db
		reg.MustRegister(collectors.NewDBStatsCollector(db.DB, "session_store"))
		log.Info("session store ready", "path", cfg.SessionStore.Path)
	} else {
		log.Info("session store disabled")
	}

	// Metrics
	metrics, err := telemetry.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}
	observers := telemetry.Observers{metrics}
	opts = append(opts, client.WithStateHandler(metrics.OnStateChange))

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB, clientID)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recorder := telemetry.NewRecorder(influxClient)
		observers = append(observers, recorder)
		opts = append(opts, client.WithStateHandler(recorder.OnStateChange))
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Scheduler, event loop and transport
	sched := scheduler.New(
		scheduler.WithLogger(log),
		scheduler.WithLimits(cfg.Scheduler.MaxReady, cfg.Scheduler.MaxTimers),
	)
	if regErr := metrics.RegisterScheduler(reg, sched); regErr != nil {
		return fmt.Errorf("registering scheduler metrics: %w", regErr)
	}
	loop := eventloop.New(sched,
		eventloop.WithTick(cfg.TickDuration()),
		eventloop.WithLogger(log),
	)

	dialer, err := newDialer(cfg.Broker)
	if err != nil {
		return err
	}
	tr := transport.New(dialer, loop,
		transport.WithLogger(log),
		transport.WithDialTimeout(cfg.GetDialTimeout()),
		transport.WithWriteTimeout(cfg.GetWriteTimeout()),
	)

	conn, err := connectionData(cfg, clientID)
	if err != nil {
		return err
	}

	var lastState client.StateChange
	opts = append(opts,
		client.WithLogger(log),
		client.WithObserver(observers),
		client.WithAckTimeout(scheduler.Tick(cfg.Ticks(cfg.Client.AckTimeout))),
		client.WithMaxPacketSize(cfg.Client.MaxPacketSize),
		client.WithBackoffTables(ticks(cfg.TickTable(cfg.Backoff.Delays)), ticks(cfg.TickTable(cfg.Backoff.Decay))),
		client.WithStateHandler(func(ev client.StateChange) {
			lastState = ev
			logStateChange(log, ev)
		}),
	)
	if cfg.Backoff.Jitter {
		opts = append(opts, client.WithJitter())
	}
	if cfg.Client.StatusTopics {
		opts = append(opts, client.WithStatusTopics(topic.Topics{Prefix: cfg.Client.TopicPrefix}))
	}

	c, err := client.New(sched, conn, tr, opts...)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	if startErr := c.Start(ctx); startErr != nil {
		return fmt.Errorf("starting client: %w", startErr)
	}
	log.Info("client started",
		"client_id", c.ClientID(),
		"broker", dialer.String(),
		"session", conn.SessionType,
	)

	// API server (optional)
	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Client:   c,
			Gatherer: reg,
			Checks:   checks,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- loop.Run(loopCtx)
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case err := <-loopErr:
		// The loop returned on its own: the client hit a terminal failure.
		if err != nil {
			return fmt.Errorf("event loop: %w", err)
		}
		return fmt.Errorf("%w: %s (%s)", errClientStopped, lastState.State, lastState.Status)
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, disconnecting")
	if err := c.Shutdown(); err != nil {
		log.Warn("client shutdown request failed", "error", err)
	}

	timer := time.NewTimer(shutdownGrace)
	defer timer.Stop()
	select {
	case err := <-loopErr:
		if err != nil {
			log.Error("event loop stopped with error", "error", err)
		}
	case <-timer.C:
		log.Warn("graceful disconnect timed out", "timeout", shutdownGrace)
		stopLoop()
		<-loopErr
	}

	log.Info("Gray Logic Edge stopped")
	return nil
}

// getConfigPath returns the configuration file path from GRAYEDGE_CONFIG.
// An empty result means the built-in defaults are used.
func getConfigPath() string {
	return os.Getenv("GRAYEDGE_CONFIG")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg, err := config.Default()
		if err != nil {
			return nil, fmt.Errorf("loading default config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openSessionStore opens the SQLite database and applies migrations.
func openSessionStore(ctx context.Context, cfg config.SessionStoreConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // migration error takes precedence
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// newDialer builds the broker dialer for the configured transport.
func newDialer(cfg config.BrokerConfig) (transport.Dialer, error) {
	var tlsCfg *tls.Config
	if cfg.Transport == config.TransportTLS || cfg.TLS.Enabled() {
		var err error
		if tlsCfg, err = buildTLSConfig(cfg.TLS); err != nil {
			return nil, err
		}
	}

	switch cfg.Transport {
	case config.TransportWebSocket:
		return &transport.WebSocketDialer{URL: cfg.WebSocketURL(), TLS: tlsCfg}, nil
	case config.TransportTCP, config.TransportTLS, "":
		return &transport.TCPDialer{Address: cfg.Address(), TLS: tlsCfg}, nil
	default:
		return nil, fmt.Errorf("unknown broker transport %q", cfg.Transport)
	}
}

func buildTLSConfig(cfg config.BrokerTLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // Opt-in for lab brokers
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}

// connectionData converts the client section to scheduler ticks.
func connectionData(cfg *config.Config, clientID string) (session.ConnectionData, error) {
	sessionType, err := session.ParseType(cfg.Client.Session)
	if err != nil {
		return session.ConnectionData{}, err
	}

	conn := session.ConnectionData{
		ClientID:          clientID,
		Username:          cfg.Auth.Username,
		Password:          cfg.Auth.Password,
		Keepalive:         scheduler.Tick(cfg.Ticks(cfg.Client.Keepalive)),
		ConnectionTimeout: scheduler.Tick(cfg.Ticks(cfg.Client.ConnectionTimeout)),
		SessionType:       sessionType,
	}
	if cfg.Will.Topic != "" {
		conn.Will = &session.Will{
			Topic:   cfg.Will.Topic,
			Payload: []byte(cfg.Will.Payload),
			QoS:     byte(cfg.Will.QoS), //nolint:gosec // Validated to 0..2
			Retain:  cfg.Will.Retain,
		}
	}
	return conn, nil
}

func ticks(in []int) []scheduler.Tick {
	if len(in) == 0 {
		return nil
	}
	out := make([]scheduler.Tick, len(in))
	for i, v := range in {
		out[i] = scheduler.Tick(v)
	}
	return out
}

func logStateChange(log *logging.Logger, ev client.StateChange) {
	args := []any{
		"state", ev.State.String(),
		"status", ev.Status.String(),
		"backoff_level", ev.BackoffLevel,
		"reconnecting", ev.Reconnecting,
	}
	switch ev.State {
	case session.Opened:
		log.Info("MQTT connected", args...)
	case session.OpenFailed:
		log.Warn("MQTT connect failed", args...)
	default:
		log.Warn("MQTT disconnected", args...)
	}
}

// Compile-time interface checks.
var (
	_ api.HealthChecker = (*database.DB)(nil)
	_ api.HealthChecker = (*influxdb.Client)(nil)
	_ logic.Observer    = telemetry.Observers(nil)
)
