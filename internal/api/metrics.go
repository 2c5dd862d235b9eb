package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/snapcrop/internal/editor"
	"github.com/dunamismax/snapcrop/internal/transform"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	transforms        *prometheus.CounterVec
	resizeAttempts    *prometheus.CounterVec
	bgRemove          *prometheus.CounterVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapcrop_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "snapcrop_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		transforms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapcrop_api_transforms_total",
			Help: "Crop and resize calls by outcome.",
		}, []string{"operation", "outcome"}),
		resizeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapcrop_api_resize_attempts_total",
			Help: "Resize strategy attempts by strategy and result.",
		}, []string{"strategy", "result"}),
		bgRemove: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapcrop_api_bg_remove_total",
			Help: "Background removal calls by outcome.",
		}, []string{"outcome"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapcrop_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapcrop_queue_jobs_enqueued_total",
			Help: "Total jobs enqueued to the processing queue.",
		}, []string{"queue"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.transforms,
		m.resizeAttempts,
		m.bgRemove,
		m.rateLimitRejected,
		m.queueEnqueued,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := routeLabel(r)
		status := statusLabel(ww.Status())

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func (m *metrics) observeTransform(op string, err error) {
	m.transforms.WithLabelValues(op, transformOutcome(err)).Inc()
}

func (m *metrics) observeAttempts(attempts []transform.Attempt) {
	for _, a := range attempts {
		result := "ok"
		if !a.OK() {
			result = "failed"
		}
		m.resizeAttempts.WithLabelValues(a.Strategy, result).Inc()
	}
}

func transformOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, editor.ErrStale):
		return "stale"
	case errors.Is(err, transform.ErrDecode):
		return "decode_error"
	case errors.Is(err, transform.ErrSurfaceUnavailable):
		return "surface_unavailable"
	case errors.Is(err, transform.ErrResizeFailed):
		return "resize_failed"
	default:
		return "error"
	}
}

func statusLabel(status int) string {
	if status == 0 {
		status = http.StatusOK
	}
	return strconv.Itoa(status)
}

// routeLabel uses the matched chi pattern so ids never become label values.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
