// Package gateway runs the relay's servers.
//
// # Overview
//
// A Gateway owns one HTTP listener, plain TCP or a Tailscale tsnet node, and
// the long-running frontends. Run starts everything under one errgroup: when
// the context is cancelled or any component fails, the HTTP server is shut
// down, open web chat sockets are closed and the Matrix sync stops.
//
// # HTTP Routes
//
//   - GET /            - web chat page (when the web frontend is enabled)
//   - GET /ws          - web chat websocket
//   - GET /health      - liveness check
//   - GET /health/ready - agent service credentials work
//   - GET /metrics     - Prometheus metrics (path configurable)
//
// # Tailscale
//
// With tailscale.enabled the listener is on the tailnet instead of
// server.http_addr:
//
//   - funnel: public HTTPS on :443 through Tailscale Funnel
//   - https:  tailnet HTTPS on :443 with auto-provisioned certificates
//   - otherwise plain HTTP on :80
package gateway
