// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/filings for facade searches.
//   - POST /v1/downloads and /v1/downloads/batch for filing retrieval.
//   - GET /v1/feeds/status and /v1/tasks/... for introspection.
package api
