package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LoginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	RefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh token exchanges by outcome.",
		},
		[]string{"outcome"},
	)

	PermissionCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_cache_total",
			Help: "Permission resolver cache lookups by result.",
		},
		[]string{"result"},
	)

	GuardFailOpen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_fail_open_total",
			Help: "Brute-force checks allowed because the cache store was unavailable.",
		},
		[]string{"counter"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(LoginTotal, RefreshTotal, PermissionCache, GuardFailOpen, httpRequestsTotal, httpRequestDuration)
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Instrument records request count and latency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
