// Package metrics provides Prometheus metrics for the headwind scoring service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the headwind service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Ingestion Metrics - Arrival event intake quality
	eventsIngested  prometheus.Counter
	eventsDuplicate prometheus.Counter
	eventsMalformed prometheus.Counter

	// Scoring Metrics - The core of the service
	headwaysExtracted prometheus.Counter
	rowsScored        prometheus.Counter
	anomaliesFlagged  prometheus.Counter
	highAnomalies     prometheus.Counter
	scoringLatency    prometheus.Histogram
	modelUpdates      prometheus.Counter
	rejectedUpdates   prometheus.Counter
	driftEvents       prometheus.Counter
	keysEvicted       prometheus.Counter

	// Model State Gauges - Mirrored from the engine telemetry snapshot
	trackedKeys prometheus.Gauge
	maeEMA      prometheus.Gauge
	residualQ90 prometheus.Gauge
	residualQ99 prometheus.Gauge

	// Queue Metrics - Arrival queue performance
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker Metrics - Shard lane performance
	workerCount             prometheus.Gauge
	workerBatchSize         prometheus.Histogram
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Repository Metrics - Scored event store
	repositoryRecords                 prometheus.Gauge
	repositoryQueryLatency            prometheus.Histogram
	repositorySnapshotCount           prometheus.Counter
	repositorySnapshotLastUnix        prometheus.Gauge
	repositorySnapshotRebuildDuration prometheus.Histogram

	// Sink Metrics - SQLite persistence
	sinkRowsWritten   prometheus.Counter
	sinkWriteErrors   prometheus.Counter
	sinkFlushDuration prometheus.Histogram

	// Stream Metrics - WebSocket fan-out
	streamSubscribers prometheus.Gauge
	streamDropped     prometheus.Counter

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics - Detailed error tracking
	errorRateByComponent *prometheus.CounterVec

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
		namespace:        "headwind",
		subsystem:        "scoring",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// Initialize metrics
	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	// Ingestion Metrics
	m.eventsIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_ingested_total",
		Help:      "Total number of arrival events accepted for scoring",
	})

	m.eventsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_duplicate_total",
		Help:      "Total number of duplicate arrival events detected (feed replay indicator)",
	})

	m.eventsMalformed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_malformed_total",
		Help:      "Total number of malformed arrival events dropped",
	})

	// Scoring Metrics
	m.headwaysExtracted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "headways_extracted_total",
		Help:      "Total number of headway observations derived from arrivals",
	})

	m.rowsScored = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rows_scored_total",
		Help:      "Total number of headway observations scored",
	})

	m.anomaliesFlagged = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "anomalies_total",
		Help:      "Total number of scored observations at or above the anomaly threshold",
	})

	m.highAnomalies = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "high_anomalies_total",
		Help:      "Total number of scored observations at or above the high anomaly threshold",
	})

	m.scoringLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scoring_latency_milliseconds",
		Help:      "Histogram of per-batch scoring latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.modelUpdates = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "model_updates_total",
		Help:      "Total number of successful online model updates",
	})

	m.rejectedUpdates = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rejected_updates_total",
		Help:      "Total number of model updates rejected for numeric instability",
	})

	m.driftEvents = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "drift_events_total",
		Help:      "Total number of residual drift detections",
	})

	m.keysEvicted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "keys_evicted_total",
		Help:      "Total number of per-key model states evicted at capacity",
	})

	// Model State Gauges
	m.trackedKeys = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "tracked_keys",
		Help:      "Current number of (stop, route) keys with live model state",
	})

	m.maeEMA = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "mae_ema_seconds",
		Help:      "Exponential moving average of absolute residual in seconds",
	})

	m.residualQ90 = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "residual_q90_seconds",
		Help:      "Streaming 90th percentile of absolute residual in seconds",
	})

	m.residualQ99 = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "residual_q99_seconds",
		Help:      "Streaming 99th percentile of absolute residual in seconds",
	})

	// Queue Metrics
	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current size of the arrival queue (backlog indicator)",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Maximum arrival queue capacity",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_utilization_ratio",
		Help:      "Arrival queue utilization ratio (current size / capacity)",
	})

	m.queueEnqueueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_total",
		Help:      "Total number of arrivals enqueued",
	})

	m.queueDequeueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_dequeue_total",
		Help:      "Total number of arrivals dequeued",
	})

	m.queueEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_errors_total",
		Help:      "Total number of enqueue rejections (queue full)",
	})

	// Worker Metrics
	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Number of shard lanes draining the arrival queue",
	})

	m.workerBatchSize = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_batch_size",
		Help:      "Number of arrivals scored per worker batch",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	})

	m.workerProcessingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_processing_latency_milliseconds",
		Help:      "Worker processing latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.workerErrorRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Total number of worker errors",
	})

	// Repository Metrics
	m.repositoryRecords = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_records_total",
		Help:      "Number of scored events retained in the query window",
	})

	m.repositoryQueryLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_query_latency_milliseconds",
		Help:      "Repository query operation latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.repositorySnapshotCount = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_snapshot_count_total",
		Help:      "Total number of repository snapshots published",
	})

	m.repositorySnapshotLastUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_snapshot_last_unix",
		Help:      "Unix timestamp of the last repository snapshot publish",
	})

	m.repositorySnapshotRebuildDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "repository_snapshot_rebuild_duration_milliseconds",
		Help:      "Repository snapshot rebuild duration in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	// Sink Metrics
	m.sinkRowsWritten = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sink_rows_written_total",
		Help:      "Total number of scored events persisted to the sink",
	})

	m.sinkWriteErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sink_write_errors_total",
		Help:      "Total number of sink write failures",
	})

	m.sinkFlushDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sink_flush_duration_milliseconds",
		Help:      "Sink flush duration in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	// Stream Metrics
	m.streamSubscribers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stream_subscribers",
		Help:      "Current number of live score stream subscribers",
	})

	m.streamDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stream_dropped_total",
		Help:      "Total number of scored events dropped on slow stream subscribers",
	})

	// HTTP Performance Metrics
	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	// Error Metrics
	m.errorRateByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_by_component_total",
			Help:      "Total number of errors by component",
		},
		[]string{"component", "error_type"},
	)

	// System Performance Metrics
	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "System memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutine_count",
		Help:      "Number of goroutines",
	})
}

// RecordEventIngested increments the ingested events counter.
func RecordEventIngested() {
	globalManager.eventsIngested.Inc()
}

// RecordEventDuplicate increments the duplicate events counter.
func RecordEventDuplicate() {
	globalManager.eventsDuplicate.Inc()
}

// RecordEventMalformed increments the malformed events counter.
func RecordEventMalformed() {
	globalManager.eventsMalformed.Inc()
}

// RecordHeadwayExtracted increments the extracted headways counter.
func RecordHeadwayExtracted() {
	globalManager.headwaysExtracted.Inc()
}

// RecordRowScored increments the scored rows counter.
func RecordRowScored() {
	globalManager.rowsScored.Inc()
}

// RecordAnomaly increments the anomaly counter, and the high anomaly
// counter when the score also clears the high threshold.
func RecordAnomaly(high bool) {
	globalManager.anomaliesFlagged.Inc()
	if high {
		globalManager.highAnomalies.Inc()
	}
}

// RecordScoringLatency records per-batch scoring latency in milliseconds.
func RecordScoringLatency(latencyMs float64) {
	globalManager.scoringLatency.Observe(latencyMs)
}

// RecordModelUpdate increments the model updates counter.
func RecordModelUpdate() {
	globalManager.modelUpdates.Inc()
}

// RecordRejectedUpdate increments the rejected updates counter.
func RecordRejectedUpdate() {
	globalManager.rejectedUpdates.Inc()
}

// RecordDriftEvent increments the drift detections counter.
func RecordDriftEvent() {
	globalManager.driftEvents.Inc()
}

// RecordKeyEvicted increments the evicted keys counter.
func RecordKeyEvicted() {
	globalManager.keysEvicted.Inc()
}

// UpdateTrackedKeys sets the current tracked key count.
func UpdateTrackedKeys(count int) {
	globalManager.trackedKeys.Set(float64(count))
}

// UpdateMAEEMA sets the residual MAE moving average gauge.
func UpdateMAEEMA(sec float64) {
	globalManager.maeEMA.Set(sec)
}

// UpdateResidualQuantiles sets the residual quantile gauges.
func UpdateResidualQuantiles(q90, q99 float64) {
	globalManager.residualQ90.Set(q90)
	globalManager.residualQ99.Set(q99)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the shard lane count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerBatchSize records the size of a scored batch.
func RecordWorkerBatchSize(n int) {
	globalManager.workerBatchSize.Observe(float64(n))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// UpdateRepositoryRecords sets the retained scored event count.
func UpdateRepositoryRecords(count int) {
	globalManager.repositoryRecords.Set(float64(count))
}

// RecordRepositoryQueryLatency records repository query operation latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// RecordRepositorySnapshot records a snapshot publish and its rebuild duration.
func RecordRepositorySnapshot(durationMs float64) {
	globalManager.repositorySnapshotCount.Inc()
	globalManager.repositorySnapshotLastUnix.Set(float64(time.Now().Unix()))
	globalManager.repositorySnapshotRebuildDuration.Observe(durationMs)
}

// RecordSinkRowsWritten adds to the persisted rows counter.
func RecordSinkRowsWritten(n int) {
	globalManager.sinkRowsWritten.Add(float64(n))
}

// RecordSinkWriteError increments the sink write error counter.
func RecordSinkWriteError() {
	globalManager.sinkWriteErrors.Inc()
}

// RecordSinkFlushDuration records sink flush duration in milliseconds.
func RecordSinkFlushDuration(durationMs float64) {
	globalManager.sinkFlushDuration.Observe(durationMs)
}

// UpdateStreamSubscribers sets the live subscriber count.
func UpdateStreamSubscribers(count int) {
	globalManager.streamSubscribers.Set(float64(count))
}

// RecordStreamDropped increments the dropped stream events counter.
func RecordStreamDropped() {
	globalManager.streamDropped.Inc()
}

// RecordHTTPRequest records an HTTP request.
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
