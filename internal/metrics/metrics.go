// Package metrics provides Prometheus instrumentation for the trading
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts total trades executed, partitioned by match type
	// (DIRECT/MINT/MERGE) — the throughput the single-writer matcher must
	// sustain at the target of thousands of matches per second per
	// market.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_trades_total",
		Help: "Total number of trades executed",
	}, []string{"type"})

	// MatchLatency is the time from intake to a committed matching event,
	// from the matcher's perspective (excludes HTTP-layer overhead).
	MatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_match_latency_seconds",
		Help:    "Matching event latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// ActiveMarkets tracks the number of ACTIVE markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_active_markets",
		Help: "Number of currently active markets",
	})

	// IntakeQueueDepth is a per-market gauge for the backlog on a
	// market's matcher queue. It is registered here, but no code in this
	// module sets it, so it reports no values.
	IntakeQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engine_intake_queue_depth",
		Help: "Pending orders queued for a market's matcher",
	}, []string{"market_id"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// ExposureLimitRejections counts orders rejected by the risk limiter.
	ExposureLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_exposure_limit_rejections_total",
		Help: "Orders rejected by the exposure limiter",
	}, []string{"reason"})

	// MarketVolume tracks cumulative trade volume (quantity) per market.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_market_volume_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"market_id", "type"})
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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
