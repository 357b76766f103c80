// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/tasks and /v1/tasks/batch for publish task submission.
//   - GET /v1/tasks/{task_id}, /v1/stats, and /v1/stores/{store_id}/summary
//     for task and scheduling visibility.
package api
