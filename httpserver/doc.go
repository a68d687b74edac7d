/*
Package httpserver hosts the API handlers of the ledger and relayer binaries.

Besides the routes contributed by each RouteRegistrar the server exposes:

  - GET /livez - always 200 while the process serves requests
  - GET /readyz - 200 when ready, 503 while draining
  - GET /drain - mark not ready and wait DrainDuration
  - GET /undrain - mark ready again
  - /debug/pprof - when EnablePprof is set

Prometheus metrics are served on a separate listener at MetricsAddr.
*/
package httpserver
