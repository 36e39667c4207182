// Package metrics provides Prometheus metrics for the rentrank presence and scoring service.
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

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Presence Metrics - what the realtime store tells us
	presenceEvents      *prometheus.CounterVec
	presenceTransitions *prometheus.CounterVec
	flickersSuppressed  prometheus.Counter
	autoRevivals        prometheus.Counter
	disconnectHooks     prometheus.Counter
	trackedUsers        prometheus.Gauge

	// Recalculation Metrics
	recalculations       *prometheus.CounterVec
	recalculationLatency prometheus.Histogram
	profilesTouched      prometheus.Counter
	profilesMissing      prometheus.Counter

	// Sweep Metrics
	sweepRuns     *prometheus.CounterVec
	sweepUsers    *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepLastUnix prometheus.Gauge

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue Metrics
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram
	jobsCoalesced          prometheus.Counter

	// Worker Metrics
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "rentrank",
		subsystem:        "presence",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	constLabels := prometheus.Labels(m.customLabels)

	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		})
	}
	histogram := func(name, help string, buckets []float64) prometheus.Histogram {
		return auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels, Buckets: buckets,
		})
	}
	histogramVec := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels, Buckets: m.histogramBuckets,
		}, labels)
	}

	// Presence
	m.presenceEvents = counterVec("events_total", "Presence record changes observed from the store, by state", "state")
	m.presenceTransitions = counterVec("transitions_total", "Debounced presence transitions emitted, by target state and cause", "state", "cause")
	m.flickersSuppressed = counter("flickers_suppressed_total", "Offline events absorbed by a reconnect inside the grace period")
	m.autoRevivals = counter("auto_revivals_total", "Online re-assertions written by client sessions after the grace period")
	m.disconnectHooks = counter("disconnect_hooks_fired_total", "Disconnect hooks applied after a connection dropped")
	m.trackedUsers = gauge("tracked_users", "Users with a live state machine in the central listener")

	// Recalculation
	m.recalculations = counterVec("recalculations_total", "Composite score recalculations by trigger and result", "trigger", "result")
	m.recalculationLatency = histogram("recalculation_latency_milliseconds", "Latency of a single-user recalculation in milliseconds", m.histogramBuckets)
	m.profilesTouched = counter("profiles_touched_total", "Profiles whose lastActiveAt was stamped on an offline transition")
	m.profilesMissing = counter("profiles_missing_total", "Recalculations skipped because the profile does not exist")

	// Sweep
	m.sweepRuns = counterVec("sweep_runs_total", "Offline-user sweeps by result", "result")
	m.sweepUsers = counterVec("sweep_users_total", "Users processed by sweeps, by result", "result")
	m.sweepDuration = histogram("sweep_duration_milliseconds", "Duration of a full offline-user sweep in milliseconds",
		[]float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000, 300000})
	m.sweepLastUnix = gauge("sweep_last_run_unix", "Unix time of the last completed sweep")

	// HTTP
	m.httpRequests = counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	// Queue
	m.queueSize = gauge("queue_size", "Current number of queued recalculation jobs")
	m.queueCapacity = gauge("queue_capacity", "Maximum capacity of the job queue")
	m.queueUtilization = gauge("queue_utilization_ratio", "Current queue utilization ratio (0.0 to 1.0)")
	m.queueEnqueueRate = counter("queue_enqueue_total", "Total number of jobs enqueued")
	m.queueDequeueRate = counter("queue_dequeue_total", "Total number of jobs dequeued")
	m.queueEnqueueErrors = counter("queue_enqueue_errors_total", "Total number of enqueue failures")
	m.queueProcessingLatency = histogram("queue_processing_latency_milliseconds", "Time spent in enqueue in milliseconds", m.histogramBuckets)
	m.jobsCoalesced = counter("jobs_coalesced_total", "Jobs dropped because an identical job was already pending")

	// Worker
	m.workerCount = gauge("worker_count", "Current number of workers")
	m.workerProcessingLatency = histogram("worker_processing_latency_milliseconds", "Time a worker spends on one job in milliseconds", m.histogramBuckets)
	m.workerErrorRate = counter("worker_errors_total", "Total number of failed jobs")

	// Errors
	m.errorRateByComponent = counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByType = counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = counterVec("errors_by_endpoint_total", "HTTP errors by endpoint, method and type", "endpoint", "method", "error_type")
	m.errorLatency = histogramVec("error_latency_milliseconds", "Latency of operations that resulted in an error", "component", "error_type")

	// System
	m.systemMemoryUsage = gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Presence Metrics Functions.

// RecordPresenceEvent counts a record change observed from the presence store.
func RecordPresenceEvent(state string) {
	globalManager.presenceEvents.WithLabelValues(state).Inc()
}

// RecordPresenceTransition counts a debounced transition.
func RecordPresenceTransition(state, cause string) {
	globalManager.presenceTransitions.WithLabelValues(state, cause).Inc()
}

// RecordFlickerSuppressed counts an offline event absorbed by a reconnect.
func RecordFlickerSuppressed() {
	globalManager.flickersSuppressed.Inc()
}

// RecordAutoRevival counts an online re-assertion after the grace period.
func RecordAutoRevival() {
	globalManager.autoRevivals.Inc()
}

// RecordDisconnectHookFired counts a disconnect hook applied by the store.
func RecordDisconnectHookFired() {
	globalManager.disconnectHooks.Inc()
}

// UpdateTrackedUsers sets the number of users tracked by the listener.
func UpdateTrackedUsers(count int) {
	globalManager.trackedUsers.Set(float64(count))
}

// Recalculation Metrics Functions.

// RecordRecalculation counts a recalculation outcome.
func RecordRecalculation(trigger, result string) {
	globalManager.recalculations.WithLabelValues(trigger, result).Inc()
}

// RecordRecalculationLatency records recalculation latency in milliseconds.
func RecordRecalculationLatency(latencyMs float64) {
	globalManager.recalculationLatency.Observe(latencyMs)
}

// RecordProfileTouched counts a lastActiveAt stamp.
func RecordProfileTouched() {
	globalManager.profilesTouched.Inc()
}

// RecordProfileMissing counts a recalculation for an unknown profile.
func RecordProfileMissing() {
	globalManager.profilesMissing.Inc()
}

// Sweep Metrics Functions.

// RecordSweep records a completed or failed sweep.
func RecordSweep(result string, succeeded, failed int, durationMs float64) {
	globalManager.sweepRuns.WithLabelValues(result).Inc()
	globalManager.sweepUsers.WithLabelValues("succeeded").Add(float64(succeeded))
	globalManager.sweepUsers.WithLabelValues("failed").Add(float64(failed))
	globalManager.sweepDuration.Observe(durationMs)
	globalManager.sweepLastUnix.Set(float64(time.Now().Unix()))
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Queue Metrics Functions.

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

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// RecordJobCoalesced counts a job dropped as a duplicate of a pending one.
func RecordJobCoalesced() {
	globalManager.jobsCoalesced.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
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

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
