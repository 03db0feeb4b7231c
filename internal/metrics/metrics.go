// Package metrics provides Prometheus instrumentation for gatherin.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PriceLookups counts resolved tickers by outcome: hit, miss, error, fallback.
	PriceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatherin_price_lookups_total",
		Help: "Tickers looked up in the price cache, by result",
	}, []string{"result"})

	// PriceCacheRetries counts batched cache reads that had to be retried.
	PriceCacheRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatherin_price_cache_retries_total",
		Help: "Price cache reads retried after an error",
	})

	// SearchRequests counts asset searches partitioned by the source that answered.
	SearchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatherin_search_requests_total",
		Help: "Asset searches by answering source",
	}, []string{"source"})

	// SearchFailures counts searches where both the cache and the provider failed.
	SearchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatherin_search_failures_total",
		Help: "Asset searches that failed on both cache and fallback",
	})

	ValuationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gatherin_valuation_latency_seconds",
		Help:    "Portfolio valuation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// RecommendationRequests counts recommendation reads by variant
	// (global, asset, personalized).
	RecommendationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatherin_recommendation_requests_total",
		Help: "Recommendation reads by variant",
	}, []string{"variant"})

	// SnapshotAgeHours is the age of the newest snapshot in the price cache.
	SnapshotAgeHours = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gatherin_snapshot_age_hours",
		Help: "Hours since the most recent price snapshot update",
	})

	// ActiveSnapshots tracks the number of active snapshots by asset type.
	ActiveSnapshots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gatherin_active_snapshots",
		Help: "Active price snapshots by asset type",
	}, []string{"type"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gatherin_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatherin_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatherin_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern (/wallet/assets/{assetId}) rather
// than raw path so ids do not explode cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
