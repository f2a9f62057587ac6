// Package http provides the HTTP server and handlers for the SSO gateway.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/aldari-app/sso-gateway/internal/gate"
	"github.com/aldari-app/sso-gateway/internal/metrics"
)

// Server represents the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	gate   *gate.Gate
	logger *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new HTTP server with default middleware. The gate
// middleware runs on every request before routing decisions; prom is the
// metrics sink whose middleware and scrape handler are mounted when
// non-nil.
func NewServer(addr string, g *gate.Gate, prom *metrics.Prometheus, opts ...Option) *Server {
	r := chi.NewRouter()

	s := &Server{
		router: r,
		gate:   g,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Default middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Coarse per-IP throttle across the whole surface; the gate applies
	// the fine-grained per-action limits behind it.
	r.Use(httprate.LimitByIP(300, time.Minute))

	if prom != nil {
		r.Use(prom.Middleware)
	}

	// Request logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				s.logger.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	})

	// Edge gate on every request before routing.
	r.Use(s.gateMiddleware)

	// Health endpoints
	health := NewHealthHandler()
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	if prom != nil {
		r.Handle("/metrics", prom.Handler())
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Router returns the chi router for adding routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.server.Shutdown(ctx)
}
