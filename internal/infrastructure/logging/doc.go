// Package logging provides structured logging for the edge client.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the client and its layers.
// Every core package accepts a small Logger interface that both
// *slog.Logger and *logging.Logger satisfy.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Rotating file output via lumberjack
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file:
//	    path: "/var/log/graylogic/edge.log"
//	    max_size: 10     # megabytes
//	    max_backups: 5
//	    max_age: 28      # days
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	logger.Info("connecting", "broker", cfg.Broker.Address())
//
// # Security
//
// Never log broker passwords or InfluxDB tokens.
package logging
