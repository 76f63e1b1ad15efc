package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autoTrader/internal/ports"
)

// Server handles Prometheus metrics export
type Server struct {
	addr    string
	metrics *Metrics
	logger  ports.Logger
	srv     *http.Server
}

// NewServer creates a new metrics server listening on addr.
func NewServer(addr string, m *Metrics, logger ports.Logger) (*Server, error) {
	if m == nil || logger == nil {
		return nil, fmt.Errorf("metrics and logger are required for metrics server")
	}
	return &Server{addr: addr, metrics: m, logger: logger}, nil
}

// Handler returns the /metrics handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	return mux
}

// Start starts the metrics HTTP server
func (s *Server) Start(ctx context.Context) {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info(ctx, "Starting Prometheus metrics server", map[string]interface{}{"addr": s.addr})
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(ctx, err, "Metrics server failed")
		}
	}()
}

// Stop gracefully stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info(ctx, "Stopping metrics server")
	return s.srv.Shutdown(ctx)
}
