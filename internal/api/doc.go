// Package api hosts the ops HTTP server for the rates crawler. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/runs and /api/runs/{run_id} for backfill run history via the
//     store.RunRepository interface.
//   - POST /api/runs to start a resumed backfill when a Trigger is wired.
package api
