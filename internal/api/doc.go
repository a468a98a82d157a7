// Package api hosts the status server that runs alongside watch mode.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs/last for the summary of the most recent pass.
package api
