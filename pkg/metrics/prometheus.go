// Package metrics provides Prometheus metrics for the insight engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rule outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomePanic   = "panic"
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Rule evaluation
	ruleEvaluations *prometheus.CounterVec
	ruleLatency     *prometheus.HistogramVec
	insightsEmitted *prometheus.CounterVec
	insightsServed  *prometheus.CounterVec

	// Batches
	batchesTotal  *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	batchFailures *prometheus.CounterVec

	// Per-pass memoisation
	memoHits   *prometheus.CounterVec
	memoMisses *prometheus.CounterVec

	// Entity store
	storeQueryLatency *prometheus.HistogramVec
	storeQueryErrors  *prometheus.CounterVec

	// Queue
	queueCapacity    prometheus.Gauge
	queueSize        prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueDequeued    prometheus.Counter
	queueEnqueueErrs prometheus.Counter

	// Workers
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram

	// Registry
	registeredRules prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// customRegistry avoids the default Go collectors.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithRegisterer(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "insights",
		subsystem:        "engine",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.ruleEvaluations = m.counterVec("rule_evaluations_total",
		"Rule evaluations by rule id and outcome", "rule", "outcome")
	m.ruleLatency = m.histogramVec("rule_latency_milliseconds",
		"Rule evaluation latency in milliseconds", "rule")
	m.insightsEmitted = m.counterVec("insights_emitted_total",
		"Insight items produced by rules", "type", "domain")
	m.insightsServed = m.counterVec("insights_served_total",
		"Insight items returned to callers after audience filtering", "type")

	m.batchesTotal = m.counterVec("batches_total", "Batch evaluations by mode", "mode")
	m.batchDuration = m.histogramVec("batch_duration_milliseconds",
		"Wall-clock duration of batch evaluations in milliseconds", "mode")
	m.batchFailures = m.counterVec("batch_rule_failures_total",
		"Rules isolated as failed inside a batch", "rule", "reason")

	m.memoHits = m.counterVec("memo_hits_total", "Per-pass memo cache hits", "cache")
	m.memoMisses = m.counterVec("memo_misses_total", "Per-pass memo cache misses", "cache")

	m.storeQueryLatency = m.histogramVec("store_query_latency_milliseconds",
		"Entity store query latency in milliseconds", "query")
	m.storeQueryErrors = m.counterVec("store_query_errors_total",
		"Entity store query failures", "query")

	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the rule task queue")
	m.queueSize = m.gauge("queue_size", "Rule tasks waiting in the queue")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Rule tasks enqueued")
	m.queueDequeued = m.counter("queue_dequeued_total", "Rule tasks dequeued")
	m.queueEnqueueErrs = m.counter("queue_enqueue_errors_total", "Rule tasks rejected by the queue")

	m.workerActiveCount = m.gauge("worker_active_count", "Workers currently running rule tasks")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Worker task processing latency in milliseconds")
	m.workerErrors = m.counter("worker_errors_total", "Rule tasks that ended in error")

	m.httpRequests = m.counterVec("http_requests_total",
		"HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and type", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total",
		"Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total",
		"Errors by endpoint, method and type", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Allocated heap bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause in milliseconds")

	m.registeredRules = m.gauge("registered_rules", "Rules in the active registry")
}

// RecordRuleEvaluation counts one evaluation with its outcome and latency.
func RecordRuleEvaluation(ruleID, outcome string, latencyMs float64) {
	globalManager.ruleEvaluations.WithLabelValues(ruleID, outcome).Inc()
	globalManager.ruleLatency.WithLabelValues(ruleID).Observe(latencyMs)
}

// RecordInsightEmitted counts an item produced by a rule.
func RecordInsightEmitted(insightType, domain string) {
	globalManager.insightsEmitted.WithLabelValues(insightType, domain).Inc()
}

// RecordInsightsServed counts items returned to a caller.
func RecordInsightsServed(insightType string, n int) {
	globalManager.insightsServed.WithLabelValues(insightType).Add(float64(n))
}

// RecordBatch records a finished batch.
func RecordBatch(mode string, durationMs float64) {
	globalManager.batchesTotal.WithLabelValues(mode).Inc()
	globalManager.batchDuration.WithLabelValues(mode).Observe(durationMs)
}

// RecordBatchFailure counts a rule isolated as failed inside a batch.
func RecordBatchFailure(ruleID, reason string) {
	globalManager.batchFailures.WithLabelValues(ruleID, reason).Inc()
}

// RecordMemoHit counts a memo cache hit.
func RecordMemoHit(cache string) {
	globalManager.memoHits.WithLabelValues(cache).Inc()
}

// RecordMemoMiss counts a memo cache miss.
func RecordMemoMiss(cache string) {
	globalManager.memoMisses.WithLabelValues(cache).Inc()
}

// RecordStoreQuery records the latency of an entity store query.
func RecordStoreQuery(query string, latencyMs float64, err error) {
	globalManager.storeQueryLatency.WithLabelValues(query).Observe(latencyMs)
	if err != nil {
		globalManager.storeQueryErrors.WithLabelValues(query).Inc()
	}
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueSize sets the number of queued tasks.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrs.Inc()
}

// AddWorkerActive adjusts the active worker gauge by delta.
func AddWorkerActive(delta int) {
	globalManager.workerActiveCount.Add(float64(delta))
}

// RecordWorkerProcessingLatency records worker task latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method and type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the allocated heap bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// UpdateRegisteredRules sets the number of rules in the active registry.
func UpdateRegisteredRules(count int) {
	globalManager.registeredRules.Set(float64(count))
}

// Init replaces the process-wide manager with one built from opts on a fresh
// registry. Call it once at start-up, before anything records or serves metrics.
func Init(opts ...Option) {
	reg := prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithRegisterer(reg))...)
	customRegistry = reg
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
