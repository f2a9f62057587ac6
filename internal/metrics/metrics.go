// Package metrics provides an injectable metrics sink backed by Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink is the capability services record metrics through. Core logic never
// touches a package-level singleton; a Sink is passed at construction.
type Sink interface {
	// IncCounter increments a named counter with optional label values.
	IncCounter(name string, labels ...string)
	// ObserveDuration records a request duration for a method/path pair.
	ObserveDuration(method, path string, d time.Duration)
}

// Nop is a Sink that discards everything. Useful in tests.
type Nop struct{}

func (Nop) IncCounter(string, ...string) {}

func (Nop) ObserveDuration(string, string, time.Duration) {}

// Counter names recorded by the gateway.
const (
	CounterTokensIssued       = "tokens_issued"
	CounterTokensConsumed     = "tokens_consumed"
	CounterTokenReplays       = "token_replays"
	CounterTokenFailures      = "token_failures"
	CounterSessionsCreated    = "sessions_created"
	CounterSessionsRevoked    = "sessions_revoked"
	CounterLoginAttempts      = "login_attempts"
	CounterRateLimitExceeded  = "rate_limit_exceeded"
	CounterOriginRejected     = "origin_rejected"
	CounterCSRFRejected       = "csrf_rejected"
	CounterSecurityEvents     = "security_events"
	CounterGateRedirects      = "gate_redirects"
)

// Prometheus implements Sink with collectors registered on a registry at
// construction time.
type Prometheus struct {
	counters map[string]*prometheus.CounterVec
	duration *prometheus.HistogramVec
	requests *prometheus.CounterVec
	registry *prometheus.Registry
}

// NewPrometheus creates a Prometheus sink with its own registry.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()

	p := &Prometheus{
		counters: make(map[string]*prometheus.CounterVec),
		registry: registry,
	}

	counterNames := []string{
		CounterTokensIssued,
		CounterTokensConsumed,
		CounterTokenReplays,
		CounterTokenFailures,
		CounterSessionsCreated,
		CounterSessionsRevoked,
		CounterLoginAttempts,
		CounterRateLimitExceeded,
		CounterOriginRejected,
		CounterCSRFRejected,
		CounterSecurityEvents,
		CounterGateRedirects,
	}
	for _, name := range counterNames {
		vec := prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sso_" + name + "_total",
				Help: "Total number of " + name + " events",
			},
			[]string{"label"},
		)
		registry.MustRegister(vec)
		p.counters[name] = vec
	}

	p.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sso_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	registry.MustRegister(p.duration)

	p.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sso_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	registry.MustRegister(p.requests)

	return p
}

// IncCounter implements Sink.
func (p *Prometheus) IncCounter(name string, labels ...string) {
	vec, ok := p.counters[name]
	if !ok {
		return
	}
	label := ""
	if len(labels) > 0 {
		label = labels[0]
	}
	vec.WithLabelValues(label).Inc()
}

// ObserveDuration implements Sink.
func (p *Prometheus) ObserveDuration(method, path string, d time.Duration) {
	p.duration.WithLabelValues(method, normalizePath(path)).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler for this sink's registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Middleware returns an HTTP middleware that records request metrics.
func (p *Prometheus) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		p.requests.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		p.duration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes the path for metrics to avoid high cardinality.
func normalizePath(path string) string {
	knownPaths := []string{
		"/healthz",
		"/readyz",
		"/metrics",
		"/monitoring",
		"/auth/csrf",
		"/auth/token",
		"/auth/sign-in",
		"/auth/sign-out",
	}

	for _, known := range knownPaths {
		if path == known {
			return path
		}
	}

	return "/other"
}

// Recorder is a Sink that keeps in-memory totals alongside another sink.
// The monitoring endpoint reads snapshots from it.
type Recorder struct {
	next Sink

	mu     sync.RWMutex
	totals map[string]int64
}

// NewRecorder wraps a Sink with snapshot bookkeeping.
func NewRecorder(next Sink) *Recorder {
	return &Recorder{
		next:   next,
		totals: make(map[string]int64),
	}
}

// IncCounter implements Sink.
func (r *Recorder) IncCounter(name string, labels ...string) {
	r.mu.Lock()
	r.totals[name]++
	r.mu.Unlock()

	r.next.IncCounter(name, labels...)
}

// ObserveDuration implements Sink.
func (r *Recorder) ObserveDuration(method, path string, d time.Duration) {
	r.next.ObserveDuration(method, path, d)
}

// Snapshot returns a copy of the counter totals.
func (r *Recorder) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]int64, len(r.totals))
	for name, total := range r.totals {
		snapshot[name] = total
	}
	return snapshot
}
