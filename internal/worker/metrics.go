package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry      *prometheus.Registry
	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	activeJobs    prometheus.Gauge
	retriesTotal  *prometheus.CounterVec
	strategyTotal *prometheus.CounterVec
	pixelsTotal   *prometheus.CounterVec
	bytesTotal    *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapcrop_worker_jobs_total",
			Help: "Worker jobs by operation and final status.",
		}, []string{"operation", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "snapcrop_worker_job_duration_seconds",
			Help:    "Processing duration for each worker job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snapcrop_worker_active_jobs",
			Help: "Jobs currently holding a processing slot.",
		}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapcrop_worker_retries_total",
			Help: "Transient job failures handed back to the queue.",
		}, []string{"operation"}),
		strategyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapcrop_worker_resize_strategy_total",
			Help: "Resize results by the strategy that produced them.",
		}, []string{"strategy"}),
		pixelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapcrop_worker_output_pixels_total",
			Help: "Pixels written across successful jobs.",
		}, []string{"operation"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapcrop_worker_bytes_total",
			Help: "Source and result bytes handled by successful jobs.",
		}, []string{"direction"}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.retriesTotal,
		m.strategyTotal,
		m.pixelsTotal,
		m.bytesTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
