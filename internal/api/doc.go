// Package api hosts the HTTP server, middleware, and REST handlers for the
// production line. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a run, GET /v1/state for the current state and
//     GET /v1/events for a websocket stream of state changes.
//   - GET /v1/runs/current/preview renders buffered posts as HTML.
//   - GET/DELETE /v1/archive for the archived subjects.
//   - PUT/DELETE /v1/settings/key for the generative API credential.
//   - GET /v1/downloads/{name} streams a delivered archive.
package api
