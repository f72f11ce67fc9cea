// Package metrics provides Prometheus metrics for the harvesting pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the harvester.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	fetchBuckets     []float64
	registry         prometheus.Registerer

	// Pipeline outcome metrics
	itemsByOutcome      *prometheus.CounterVec
	resolutionsBySource *prometheus.CounterVec
	itemLatency         prometheus.Histogram
	runsTotal           prometheus.Counter
	lastRunItems        prometheus.Gauge

	// Fetch metrics
	fetchErrorsByKind *prometheus.CounterVec
	fetchLatency      prometheus.Histogram
	fetchRetries      prometheus.Counter

	// Queue metrics
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge
	bucketSize    *prometheus.GaugeVec
	queueEnqueued prometheus.Counter
	queueDequeued prometheus.Counter
	queueRejected prometheus.Counter

	// Persistence metrics
	persistLatency        prometheus.Histogram
	combinationDuplicates prometheus.Counter
	storeRecords          *prometheus.GaugeVec

	// Export metrics
	exportChunks        prometheus.Counter
	exportBytes         prometheus.Counter
	exportEmergencySize prometheus.Counter

	// Worker metrics
	workerActiveCount prometheus.Gauge

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorsByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "bikeharvest",
		subsystem:        "pipeline",
		histogramBuckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		fetchBuckets:     []float64{250, 500, 1000, 2500, 5000, 10000, 20000, 30000, 60000, 120000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   m.histogramBuckets,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.itemsByOutcome = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "items_total",
		Help:      "Work items finished, by outcome",
	}, []string{"outcome"})

	m.resolutionsBySource = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "resolutions_total",
		Help:      "Successful resolutions, by source tier",
	}, []string{"source"})

	m.itemLatency = m.histogram("item_latency_milliseconds", "End-to-end latency of one work item")
	m.runsTotal = m.counter("runs_total", "Completed pipeline runs")
	m.lastRunItems = m.gauge("last_run_items", "Number of work items attempted by the last run")

	m.fetchErrorsByKind = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fetch_errors_total",
		Help:      "Fetch failures, by classified kind",
	}, []string{"kind"})

	m.fetchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fetch_latency_milliseconds",
		Help:      "Page fetch latency including settle waits",
		Buckets:   m.fetchBuckets,
	})
	m.fetchRetries = m.counter("fetch_retries_total", "Fetch attempts beyond the first")

	m.queueSize = m.gauge("queue_size", "Work items waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.bucketSize = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "bucket_size",
		Help:      "Work items per priority bucket in the last built queue",
	}, []string{"priority"})
	m.queueEnqueued = m.counter("queue_enqueue_total", "Work items enqueued")
	m.queueDequeued = m.counter("queue_dequeue_total", "Work items dequeued")
	m.queueRejected = m.counter("queue_rejected_total", "Work items rejected by a full or closed queue")

	m.persistLatency = m.histogram("persist_latency_milliseconds", "Persistence gate transaction latency")
	m.combinationDuplicates = m.counter("combination_duplicates_total", "Canonical records sharing make/model/year/variant with another key")
	m.storeRecords = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_records",
		Help:      "Records held per store tier",
	}, []string{"store"})

	m.exportChunks = m.counter("export_files_total", "Export files written, chunks and single files")
	m.exportBytes = m.counter("export_bytes_total", "Bytes written by the exporter")
	m.exportEmergencySize = m.counter("export_emergency_splits_total", "Chunks re-split at the emergency size after a write failure")

	m.workerActiveCount = m.gauge("worker_active_count", "Number of running pipeline workers")

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Ops HTTP requests, by endpoint, method and status",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_milliseconds",
		Help:      "Ops HTTP request duration",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "errors_by_component_total",
		Help:      "Errors, by component and type",
	}, []string{"component", "error_type"})

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordItemOutcome counts a finished work item.
func RecordItemOutcome(outcome string) {
	globalManager.itemsByOutcome.WithLabelValues(outcome).Inc()
}

// RecordResolution counts a resolution served by a tier.
func RecordResolution(source string) {
	globalManager.resolutionsBySource.WithLabelValues(source).Inc()
}

// RecordItemLatency records the end-to-end latency of one item in milliseconds.
func RecordItemLatency(latencyMs float64) {
	globalManager.itemLatency.Observe(latencyMs)
}

// RecordRun counts a completed run and the items it attempted.
func RecordRun(items int) {
	globalManager.runsTotal.Inc()
	globalManager.lastRunItems.Set(float64(items))
}

// RecordFetchError counts a classified fetch failure.
func RecordFetchError(kind string) {
	globalManager.fetchErrorsByKind.WithLabelValues(kind).Inc()
}

// RecordFetchLatency records fetch latency in milliseconds.
func RecordFetchLatency(latencyMs float64) {
	globalManager.fetchLatency.Observe(latencyMs)
}

// RecordFetchRetry counts a retried fetch attempt.
func RecordFetchRetry() {
	globalManager.fetchRetries.Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateBucketSize sets the size of one priority bucket.
func UpdateBucketSize(priority string, size int) {
	globalManager.bucketSize.WithLabelValues(priority).Set(float64(size))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueRejected increments the rejected counter.
func RecordQueueRejected() {
	globalManager.queueRejected.Inc()
}

// RecordPersistLatency records gate transaction latency in milliseconds.
func RecordPersistLatency(latencyMs float64) {
	globalManager.persistLatency.Observe(latencyMs)
}

// RecordCombinationDuplicate counts a combination duplicate.
func RecordCombinationDuplicate() {
	globalManager.combinationDuplicates.Inc()
}

// UpdateStoreRecords sets the number of records held by one store.
func UpdateStoreRecords(store string, count int) {
	globalManager.storeRecords.WithLabelValues(store).Set(float64(count))
}

// RecordExportFile counts one written export file and its size.
func RecordExportFile(bytes int) {
	globalManager.exportChunks.Inc()
	globalManager.exportBytes.Add(float64(bytes))
}

// RecordExportEmergencySplit counts a chunk re-split after a failed write.
func RecordExportEmergencySplit() {
	globalManager.exportEmergencySize.Inc()
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordHTTPRequest counts an ops HTTP request and records its duration in
// milliseconds.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
