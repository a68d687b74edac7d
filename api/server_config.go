package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig configures the listener shared by the ledger server and the
// relayer. Both binaries fill it through flags.ConfigureServer.
type HTTPServerConfig struct {
	// ListenAddr serves the ledger or relayer API.
	ListenAddr string

	// MetricsAddr serves Prometheus metrics. Empty disables the listener.
	MetricsAddr string

	// EnablePprof mounts /debug/pprof on the API router.
	EnablePprof bool

	Log *slog.Logger

	// DrainDuration is how long /drain keeps the server up while reporting
	// not ready.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds in-flight requests on shutdown. Pending
	// oracle callbacks that do not finish are retried by the relayer.
	GracefulShutdownDuration time.Duration

	// ReadHeaderTimeout bounds reading request headers. Zero falls back to
	// ReadTimeout.
	ReadHeaderTimeout time.Duration

	// ReadTimeout covers the whole request. Submissions carry three
	// ciphertexts, so it needs headroom over ReadHeaderTimeout.
	ReadTimeout time.Duration

	WriteTimeout time.Duration

	// IdleTimeout closes idle keep-alive connections, such as a relayer's
	// callback client between deliveries.
	IdleTimeout time.Duration
}
