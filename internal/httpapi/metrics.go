package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics instruments the router with a request counter and a latency
// histogram, labeled by chi route pattern so path parameters do not explode
// the cardinality.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		registry: reg,
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sunray_http_requests_total",
				Help: "Counter for HTTP requests by method, status, route",
			},
			[]string{"method", "status", "route"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sunray_http_request_duration_seconds",
				Help:    "Histogram of latencies for HTTP requests by method, status, route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status", "route"},
		),
	}
}

// Handler serves the scrape endpoint from this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records one observation per request. The route pattern is only
// known after the handler ran, so labels are resolved on the way out.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(ww.Status())
		m.requests.WithLabelValues(r.Method, status, route).Inc()
		m.duration.WithLabelValues(r.Method, status, route).Observe(time.Since(start).Seconds())
	})
}
