// Package api exposes the crawl manager over HTTP. Routes:
//   - POST /v1/crawls, GET /v1/crawls, GET|DELETE /v1/crawls/{id},
//     POST /v1/crawls/{id}/stop for the crawl lifecycle.
//   - GET /v1/campaigns, GET /v1/campaigns/{id} for campaign reads.
//   - GET /v1/load for per-platform queue depth.
//   - GET /healthz, /readyz and /metrics for operators.
package api
