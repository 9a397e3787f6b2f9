// Package metrics exposes Prometheus collectors for archive operations,
// document mutations, actor lookups and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recordkeeper"

var durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// Metrics implements the recorder interfaces of the exchange, document and
// actor packages.
type Metrics struct {
	registry *prometheus.Registry

	ArchiveOperations *prometheus.CounterVec
	ArchiveDuration   *prometheus.HistogramVec
	ImportRows        *prometheus.CounterVec
	DocumentMutations *prometheus.CounterVec
	ActorLookups      *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ArchiveOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_operations_total",
			Help:      "Archive exports, imports and verifications by result",
		}, []string{"op", "result"}),
		ArchiveDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_operation_duration_seconds",
			Help:      "Duration of archive operations",
			Buckets:   durationBuckets,
		}, []string{"op"}),
		ImportRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Imported rows by entity and outcome",
		}, []string{"entity", "outcome"}),
		DocumentMutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_mutations_total",
			Help:      "Document mutations by action and result",
		}, []string{"action", "result"}),
		ActorLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actor_lookups_total",
			Help:      "Actor cache lookups by result",
		}, []string{"result"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ArchiveOperation implements exchange.Recorder.
func (m *Metrics) ArchiveOperation(op, result string, elapsed time.Duration) {
	m.ArchiveOperations.WithLabelValues(op, result).Inc()
	m.ArchiveDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ImportRow implements exchange.Recorder.
func (m *Metrics) ImportRow(entity, outcome string) {
	m.ImportRows.WithLabelValues(entity, outcome).Inc()
}

// DocumentMutation implements document.Recorder.
func (m *Metrics) DocumentMutation(action, result string) {
	m.DocumentMutations.WithLabelValues(action, result).Inc()
}

// ActorLookup implements actor.Recorder.
func (m *Metrics) ActorLookup(result string) {
	m.ActorLookups.WithLabelValues(result).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
