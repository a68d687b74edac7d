// Package metrics exposes the Prometheus metrics of the ledger and relayer.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves /metrics on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server and registers an info gauge labelled with name.
func New(name string, addr string) (*MetricsServer, error) {
	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "ledger_app_info",
		Help:        "Constant 1, labelled with the application name",
		ConstLabels: prometheus.Labels{"app": name},
	})
	if err := prometheus.Register(info); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
	} else {
		info.Set(1)
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
