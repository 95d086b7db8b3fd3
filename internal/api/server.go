// Package api provides the exporter's operational HTTP endpoints: liveness,
// readiness, build info, and optionally Prometheus metrics.
package api

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/pkg/logger"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/pkg/versions"
)

// Readiness flips once the first collection cycle attempt completes,
// successful or not. The zero value reports not ready.
type Readiness struct {
	ready atomic.Bool
}

// MarkReady records that a cycle attempt has completed.
func (r *Readiness) MarkReady() {
	r.ready.Store(true)
}

// Ready reports whether a cycle attempt has completed.
func (r *Readiness) Ready() bool {
	return r.ready.Load()
}

// ServerOption configures the operational API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	readiness   *Readiness
	metrics     http.Handler
	middlewares []func(http.Handler) http.Handler
}

// WithReadiness wires the readiness probe to the given tracker.
func WithReadiness(r *Readiness) ServerOption {
	return func(cfg *serverConfig) {
		cfg.readiness = r
	}
}

// WithMetricsHandler mounts a metrics endpoint, typically promhttp.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metrics = h
	}
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// NewServer creates and configures the HTTP router with the given options.
// Without WithReadiness the readiness probe stays unready; without
// WithMetricsHandler there is no /metrics route.
func NewServer(opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{
		readiness:   &Readiness{},
		middlewares: []func(http.Handler) http.Handler{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler)
	r.Get("/readyz", readyHandler(cfg.readiness))
	r.Get("/version", versionHandler)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	log := logger.For("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Debugf("HTTP %s %s %d %s %s",
			r.Method,
			r.URL.Path,
			ww.Status(),
			time.Since(start),
			middleware.GetReqID(r.Context()),
		)
	})
}

// healthHandler reports process liveness.
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readyHandler reports readiness: 503 until the first collection cycle
// attempt completes.
func readyHandler(readiness *Readiness) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !readiness.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, ErrorResponse{Error: "waiting for the first collection cycle"})
			return
		}
		w.WriteHeader(http.StatusOK)
		writeJSON(w, ReadinessResponse{Status: "ready"})
	}
}

// versionHandler reports build information.
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	writeJSON(w, versions.GetVersionInfo())
}

func writeJSON(w http.ResponseWriter, data any) {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.For("api").Errorw("Failed to encode response", "error", err)
	}
}
