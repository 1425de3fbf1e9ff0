package host

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/eventgateway/internal/metrics"
	"github.com/kenneth/eventgateway/internal/middleware"
)

// AdminServer exposes ops-only endpoints — health, readiness, liveness, and
// Prometheus metrics — never event ingestion: that surface belongs to
// whatever CLI/HTTP host the operator puts in front of Raiser, which this
// repository does not provide (spec.md §1).
type AdminServer struct {
	httpServer *http.Server
	logger     *logrus.Entry
	draining   atomic.Bool
}

// SinkHealthCheck is checked by the /readyz endpoint, e.g. reachability of
// the configured SNS endpoint.
type SinkHealthCheck func(context.Context) error

// NewAdminServer builds the admin server listening on addr. sinkHealthCheck
// may be nil, in which case /readyz only reports the drain state.
func NewAdminServer(addr string, sinkHealthCheck SinkHealthCheck, logger *logrus.Logger) *AdminServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &AdminServer{logger: logger.WithField("component", "admin_server")}

	router := mux.NewRouter()
	router.Handle("/healthz", metrics.HealthHandler()).Methods(http.MethodGet)
	router.Handle("/livez", metrics.LivenessHandler()).Methods(http.MethodGet)
	router.Handle("/readyz", metrics.ReadinessHandler(s.readyCheck(sinkHealthCheck))).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	var handler http.Handler = router
	handler = middleware.RecoveryMiddleware(logger)(handler)
	handler = middleware.LoggingMiddleware(logger)(handler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// readyCheck reports not-ready while the host is draining its shutdown
// deadline, in addition to any sink reachability check.
func (s *AdminServer) readyCheck(sinkHealthCheck SinkHealthCheck) func(context.Context) error {
	return func(ctx context.Context) error {
		if s.draining.Load() {
			return errDraining
		}
		if sinkHealthCheck != nil {
			return sinkHealthCheck(ctx)
		}
		return nil
	}
}

// Start runs the admin server in the background. Listen errors other than
// http.ErrServerClosed are logged.
func (s *AdminServer) Start() {
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("admin server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("admin server failed")
		}
	}()
}

// MarkDraining flips /readyz to report not-ready, for use while Stop is
// waiting out a worker's shutdown deadline.
func (s *AdminServer) MarkDraining() {
	s.draining.Store(true)
}

// Stop gracefully shuts down the admin server, bounded by ctx.
func (s *AdminServer) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type drainingError string

func (e drainingError) Error() string { return string(e) }

const errDraining = drainingError("host is draining")
