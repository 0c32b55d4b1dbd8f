// Package api serves the edge client's health, status and metrics over HTTP.
//
// Routes:
//   - GET /healthz        liveness probe
//   - GET /metrics        Prometheus scrape endpoint
//   - GET /api/v1/health  client and component health (503 when degraded)
//   - GET /api/v1/status  client snapshot: state, backoff, queue sizes
//   - GET /api/v1/system  Go runtime statistics
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Status snapshots are taken on the client's scheduler goroutine, so a
// stalled event loop shows up as a status timeout rather than stale data.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
