// Package api hosts the status HTTP server for a running ingest. Routes:
//   - GET /healthz and /readyz for Kubernetes probes; readyz fails once the
//     engine stops admitting tasks.
//   - GET /metrics for Prometheus scraping.
//   - GET /stats for engine, pump and consumer counters as JSON.
package api
