// Package metrics exposes Prometheus collectors for the crawl scheduler and
// response pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service records.
type Metrics struct {
	jobsTotal          *prometheus.CounterVec
	runningJobs        *prometheus.GaugeVec
	jobRuntimeSeconds  *prometheus.HistogramVec
	pagesTotal         *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
	rateLimitDelays    *prometheus.HistogramVec
	itemsTotal         *prometheus.CounterVec
	itemsRejectedTotal *prometheus.CounterVec
	batchesTotal       *prometheus.CounterVec
	filesRotatedTotal  *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
	httpRequestSeconds *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	m := &Metrics{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apicrawler_jobs_total",
			Help: "Jobs that left a worker, labeled by platform and outcome.",
		}, []string{"platform", "outcome"}),
		runningJobs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "apicrawler_running_jobs",
			Help: "Jobs currently running, labeled by platform.",
		}, []string{"platform"}),
		jobRuntimeSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apicrawler_job_runtime_seconds",
			Help:    "Wall time of finished jobs.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}, []string{"platform"}),
		pagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apicrawler_pages_total",
			Help: "Pages fetched, labeled by platform and outcome.",
		}, []string{"platform", "outcome"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "apicrawler_queue_depth",
			Help: "Pending jobs per platform queue.",
		}, []string{"platform"}),
		rateLimitDelays: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apicrawler_rate_limit_delay_seconds",
			Help:    "Time spent waiting for an API rate limit token.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"server"}),
		itemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apicrawler_pipeline_items_total",
			Help: "Items accepted by a pipeline sink.",
		}, []string{"sink"}),
		itemsRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apicrawler_pipeline_items_rejected_total",
			Help: "Content items dropped for lacking an identifying field.",
		}, []string{"server", "interaction"}),
		batchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apicrawler_pipeline_batches_total",
			Help: "Batches flushed, labeled by sink and result (delivered, backed_up, lost).",
		}, []string{"sink", "result"}),
		filesRotatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apicrawler_files_rotated_total",
			Help: "Output files closed by rotation, labeled by kind.",
		}, []string{"kind"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apicrawler_http_requests_total",
			Help: "HTTP API requests, labeled by method, route and code.",
		}, []string{"method", "route", "code"}),
		httpRequestSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apicrawler_http_request_duration_seconds",
			Help:    "HTTP API latency, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 90},
		}, []string{"method", "route"}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler exposes the registry the collectors were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveJob records a job leaving a worker. outcome is a job status or
// "dropped_stopped"/"dropped_expired".
func (m *Metrics) ObserveJob(platform, outcome string, runtime time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(platform, outcome).Inc()
	if runtime > 0 {
		m.jobRuntimeSeconds.WithLabelValues(platform).Observe(runtime.Seconds())
	}
}

// JobStarted increments the running gauge.
func (m *Metrics) JobStarted(platform string) {
	if m == nil {
		return
	}
	m.runningJobs.WithLabelValues(platform).Inc()
}

// JobEnded decrements the running gauge.
func (m *Metrics) JobEnded(platform string) {
	if m == nil {
		return
	}
	m.runningJobs.WithLabelValues(platform).Dec()
}

// ObservePage counts one page fetch.
func (m *Metrics) ObservePage(platform string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.pagesTotal.WithLabelValues(platform, outcome).Inc()
}

// SetQueueDepth records the pending jobs of one platform.
func (m *Metrics) SetQueueDepth(platform string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(platform).Set(float64(depth))
}

// ObserveRateLimitDelay records a rate limit wait.
func (m *Metrics) ObserveRateLimitDelay(server string, d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitDelays.WithLabelValues(server).Observe(d.Seconds())
}

// AddItems counts items accepted by a sink.
func (m *Metrics) AddItems(sink string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsTotal.WithLabelValues(sink).Add(float64(n))
}

// ItemRejected counts one rejected content item.
func (m *Metrics) ItemRejected(server, interaction string) {
	if m == nil {
		return
	}
	m.itemsRejectedTotal.WithLabelValues(server, interaction).Inc()
}

// ObserveBatch counts one flushed batch.
func (m *Metrics) ObserveBatch(sink, result string) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(sink, result).Inc()
}

// FileRotated counts one rotated output file.
func (m *Metrics) FileRotated(kind string) {
	if m == nil {
		return
	}
	m.filesRotatedTotal.WithLabelValues(kind).Inc()
}

// ObserveHTTPRequest records one API request.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpRequestSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
