// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/websites for website and category management.
//   - /v1/jobs for starting, controlling and listing crawl jobs.
//   - /v1/articles and /v1/dashboard for reading results.
package api
