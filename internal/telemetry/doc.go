// Package telemetry turns client engine activity into metrics.
//
// Two sinks are provided, both fed from the scheduler goroutine through
// the logic layer Observer interface and the client state handler:
//
//   - Metrics exports Prometheus collectors (packets, request outcomes,
//     queue depths, connection state, backoff level and scheduler load).
//   - Recorder writes connection state changes, request outcomes and queue
//     depths to InfluxDB.
//
// Observers fans one observer slot out to several sinks:
//
//	m, _ := telemetry.NewMetrics(prometheus.DefaultRegisterer)
//	rec := telemetry.NewRecorder(influxClient)
//	c, _ := client.New(sched, conn, transport,
//	    client.WithObserver(telemetry.Observers{m, rec}),
//	    client.WithStateHandler(m.OnStateChange),
//	    client.WithStateHandler(rec.OnStateChange),
//	)
package telemetry
