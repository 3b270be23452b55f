package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// TasksPublishedTotal counts messages the producer pushed to the broker.
	TasksPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tasks_published_total",
			Help: "Total number of task messages published",
		},
	)
	// TasksConsumedTotal counts consumed deliveries by outcome.
	TasksConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_consumed_total",
			Help: "Total number of task deliveries by outcome",
		},
		[]string{"outcome"},
	)
	// TasksInFlight is a gauge of deliveries currently dispatched to the pool.
	TasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasks_in_flight",
			Help: "Number of deliveries currently being processed",
		},
	)
)

var registerOnce sync.Once

// InitMetrics registers all collectors once per process.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			TasksPublishedTotal,
			TasksConsumedTotal,
			TasksInFlight,
		)
	})
}

// Delivery outcome labels for TasksConsumedTotal.
const (
	OutcomeAcked    = "acked"
	OutcomeRejected = "rejected"
	OutcomeRequeued = "requeued"
)

// HTTPMetricsMiddleware records request counts and durations per route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
