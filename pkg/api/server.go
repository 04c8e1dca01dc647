package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/enx-analytics/pkg/httputil"
	"github.com/platinummonkey/enx-analytics/pkg/observability"
	"github.com/platinummonkey/enx-analytics/pkg/recorder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultMaxBodyBytes caps request bodies
const DefaultMaxBodyBytes = 64 * 1024

// Config configures the HTTP bridge
type Config struct {
	Recorder *recorder.Recorder

	// Health backs /healthz; nil serves a bare liveness check
	Health *observability.HealthChecker
	// Gatherer backs /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer
	// Metrics instruments routes; nil disables HTTP metrics
	Metrics *observability.Metrics

	MaxBodyBytes int64
	Log          *logrus.Logger
}

// Server is the local HTTP bridge that lets host code outside this process
// record events, toggle consent and trigger flushes
type Server struct {
	recorder *recorder.Recorder
	health   *observability.HealthChecker
	router   *mux.Router
	handler  http.Handler
	log      *logrus.Logger
}

// NewServer creates the bridge and registers its routes
func NewServer(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = logrus.New()
	}
	if cfg.Health == nil {
		cfg.Health = observability.NewHealthChecker("")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		recorder: cfg.Recorder,
		health:   cfg.Health,
		router:   mux.NewRouter(),
		log:      cfg.Log,
	}

	if cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}
	s.setupRoutes()
	if cfg.Gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(cfg.Gatherer)).Methods("GET")
	}

	s.handler = otelhttp.NewHandler(httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(cfg.Log),
		httputil.RecoveryMiddleware(cfg.Log),
		httputil.MaxBytesMiddleware(cfg.MaxBodyBytes),
		httputil.ContentTypeMiddleware,
	)(s.router), "enx-analytics-bridge")

	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Consent routes
	s.router.HandleFunc("/api/v1/consent", s.getConsent).Methods("GET")
	s.router.HandleFunc("/api/v1/consent", s.putConsent).Methods("PUT")

	// Recording routes
	s.router.HandleFunc("/api/v1/events", s.recordEvent).Methods("POST")
	s.router.HandleFunc("/api/v1/flush", s.flush).Methods("POST")

	// Health checks
	s.router.HandleFunc("/healthz", s.health.Readiness).Methods("GET")
	s.router.HandleFunc("/livez", s.health.Liveness).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
