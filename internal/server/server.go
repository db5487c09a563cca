// Package server exposes health probes and Prometheus metrics over HTTP
// while a run is in progress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker interface for checking component health.
type HealthChecker interface {
	Liveness() bool
	Readiness(ctx context.Context) bool
	IsHealthy() bool
	GetStatus() map[string]string
}

// Config contains HTTP server configuration. When both ports are equal a
// single listener serves health and metrics.
type Config struct {
	HealthPort  int
	MetricsPort int
}

// Server represents the HTTP server for health and metrics.
type Server struct {
	servers []*http.Server
	logger  *slog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg Config,
	healthChecker HealthChecker,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *Server {
	healthMux := http.NewServeMux()
	RegisterHealth(healthMux, healthChecker, logger)

	metricsMux := healthMux
	if cfg.MetricsPort != cfg.HealthPort {
		metricsMux = http.NewServeMux()
	}
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s := &Server{logger: logger}
	s.servers = append(s.servers, newHTTPServer(cfg.HealthPort, healthMux))
	if cfg.MetricsPort != cfg.HealthPort {
		s.servers = append(s.servers, newHTTPServer(cfg.MetricsPort, metricsMux))
	}
	return s
}

func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// RegisterHealth registers the probe handlers on mux.
func RegisterHealth(mux *http.ServeMux, checker HealthChecker, logger *slog.Logger) {
	mux.HandleFunc("/health/live", LivenessHandler(checker, logger))
	mux.HandleFunc("/health/ready", ReadinessHandler(checker, logger))
	mux.HandleFunc("/health/status", StatusHandler(checker, logger))
}

// Addrs returns the listen addresses.
func (s *Server) Addrs() []string {
	addrs := make([]string, 0, len(s.servers))
	for _, srv := range s.servers {
		addrs = append(addrs, srv.Addr)
	}
	return addrs
}

// Start starts the listeners in the background.
func (s *Server) Start() error {
	for _, srv := range s.servers {
		srv := srv
		go func() {
			s.logger.Info("starting HTTP server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("HTTP server failed", "addr", srv.Addr, "error", err)
			}
		}()
	}
	return nil
}

// Shutdown gracefully shuts down all listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP servers")

	errChan := make(chan error, len(s.servers))
	for _, srv := range s.servers {
		srv := srv
		go func() {
			errChan <- srv.Shutdown(ctx)
		}()
	}

	var errs []error
	for range s.servers {
		if err := <-errChan; err != nil {
			s.logger.Error("error shutting down server", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
