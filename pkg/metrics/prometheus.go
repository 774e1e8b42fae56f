// Package metrics provides Prometheus metrics for the presence verification service.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var defaultLatencyBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Manager owns every Prometheus collector the service exports.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	constLabels    map[string]string
	registry       prometheus.Registerer

	// Liveness
	livenessFrames   *prometheus.CounterVec
	livenessScore    prometheus.Histogram
	poseFallbacks    prometheus.Counter
	poseSolveLatency prometheus.Histogram
	activeSessions   prometheus.Gauge

	// Decisions
	stageOutcomes    *prometheus.CounterVec
	checkIns         *prometheus.CounterVec
	enrollments      *prometheus.CounterVec
	enrollmentFrames prometheus.Histogram
	gpsInvalid       *prometheus.CounterVec

	// Side effects
	auditWrites           *prometheus.CounterVec
	notifications         *prometheus.CounterVec
	instructorConnections prometheus.Gauge

	// Offload pool
	queueSize       prometheus.Gauge
	queueCapacity   prometheus.Gauge
	queueRejections prometheus.Counter
	workerCount     prometheus.Gauge
	workerBusy      prometheus.Gauge
	taskLatency     prometheus.Histogram
	taskErrors      prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRateLimited     *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton collector set

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // avoids default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a Manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "presence",
		subsystem:      "verification",
		latencyBuckets: defaultLatencyBuckets,
		constLabels:    map[string]string{},
		registry:       prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.livenessFrames = auto.NewCounterVec(m.counterOpts("liveness_frames_total",
		"Frames analysed for liveness, by resulting status"), []string{"status"})
	m.livenessScore = auto.NewHistogram(m.histogramOpts("liveness_score",
		"Distribution of per-frame liveness scores", prometheus.LinearBuckets(0, 0.1, 11)))
	m.poseFallbacks = auto.NewCounter(m.counterOpts("pose_fallback_total",
		"Pose estimates that fell back to the face-box offset heuristic"))
	m.poseSolveLatency = auto.NewHistogram(m.histogramOpts("pose_solve_latency_milliseconds",
		"Time spent solving head pose", m.latencyBuckets))
	m.activeSessions = auto.NewGauge(m.gaugeOpts("liveness_sessions_active",
		"Liveness sessions currently held in memory"))

	m.stageOutcomes = auto.NewCounterVec(m.counterOpts("stage_outcomes_total",
		"Check-in stage evaluations by stage and outcome"), []string{"stage", "outcome"})
	m.checkIns = auto.NewCounterVec(m.counterOpts("checkins_total",
		"Check-in decisions by result"), []string{"result"})
	m.enrollments = auto.NewCounterVec(m.counterOpts("enrollments_total",
		"Enrollment attempts by result"), []string{"result"})
	m.enrollmentFrames = auto.NewHistogram(m.histogramOpts("enrollment_valid_frames",
		"Frames surviving enrollment filtering", prometheus.LinearBuckets(0, 5, 11)))
	m.gpsInvalid = auto.NewCounterVec(m.counterOpts("gps_invalid_attempts_total",
		"Out-of-range check-in attempts"), []string{"blocked"})

	m.auditWrites = auto.NewCounterVec(m.counterOpts("audit_writes_total",
		"Audit log writes by entry kind and store result"), []string{"kind", "result"})
	m.notifications = auto.NewCounterVec(m.counterOpts("notifications_total",
		"Instructor notifications by delivery outcome"), []string{"delivery"})
	m.instructorConnections = auto.NewGauge(m.gaugeOpts("instructor_connections",
		"Open instructor WebSocket connections"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Tasks waiting for a worker"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Task queue capacity"))
	m.queueRejections = auto.NewCounter(m.counterOpts("queue_rejections_total",
		"Tasks rejected because the queue was full or closed"))
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Workers in the offload pool"))
	m.workerBusy = auto.NewGauge(m.gaugeOpts("worker_busy", "Workers currently running a task"))
	m.taskLatency = auto.NewHistogram(m.histogramOpts("task_latency_milliseconds",
		"Time from dequeue to task completion", m.latencyBuckets))
	m.taskErrors = auto.NewCounter(m.counterOpts("task_errors_total", "Tasks that returned an error"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request latency", m.latencyBuckets), []string{"endpoint", "method", "status_code"})
	m.httpRateLimited = auto.NewCounterVec(m.counterOpts("http_rate_limited_total",
		"Requests refused by the rate limiter"), []string{"endpoint"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
}

// RecordLivenessFrame counts one analysed frame and observes its score.
func RecordLivenessFrame(status string, score float64) {
	globalManager.livenessFrames.WithLabelValues(status).Inc()
	globalManager.livenessScore.Observe(score)
}

// RecordPoseFallback counts a pose produced by the fallback estimator.
func RecordPoseFallback() {
	globalManager.poseFallbacks.Inc()
}

// RecordPoseSolveLatency records pose solving time in milliseconds.
func RecordPoseSolveLatency(latencyMs float64) {
	globalManager.poseSolveLatency.Observe(latencyMs)
}

// UpdateActiveSessions sets the number of live sessions.
func UpdateActiveSessions(n int) {
	globalManager.activeSessions.Set(float64(n))
}

// RecordStageOutcome counts a check-in stage evaluation.
func RecordStageOutcome(stage, outcome string) {
	globalManager.stageOutcomes.WithLabelValues(stage, outcome).Inc()
}

// RecordCheckIn counts a check-in decision.
func RecordCheckIn(result string) {
	globalManager.checkIns.WithLabelValues(result).Inc()
}

// RecordEnrollment counts an enrollment attempt and the frames it kept.
func RecordEnrollment(result string, validFrames int) {
	globalManager.enrollments.WithLabelValues(result).Inc()
	globalManager.enrollmentFrames.Observe(float64(validFrames))
}

// RecordGPSInvalidAttempt counts an out-of-range attempt.
func RecordGPSInvalidAttempt(blocked bool) {
	globalManager.gpsInvalid.WithLabelValues(strconv.FormatBool(blocked)).Inc()
}

// RecordAuditWrite counts an audit write against the backing store.
func RecordAuditWrite(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "degraded"
	}
	globalManager.auditWrites.WithLabelValues(kind, result).Inc()
}

// RecordNotification counts a notification by delivery outcome (delivered, queued, failed).
func RecordNotification(delivery string) {
	globalManager.notifications.WithLabelValues(delivery).Inc()
}

// UpdateInstructorConnections sets the number of open instructor sockets.
func UpdateInstructorConnections(n int) {
	globalManager.instructorConnections.Set(float64(n))
}

// UpdateQueueSize sets the number of queued tasks.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueRejection counts a refused enqueue.
func RecordQueueRejection() {
	globalManager.queueRejections.Inc()
}

// UpdateWorkerCount sets the pool size.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// AddWorkerBusy adjusts the busy worker gauge by delta.
func AddWorkerBusy(delta int) {
	globalManager.workerBusy.Add(float64(delta))
}

// RecordTaskLatency records task run time in milliseconds.
func RecordTaskLatency(latencyMs float64) {
	globalManager.taskLatency.Observe(latencyMs)
}

// RecordTaskError counts a failed task.
func RecordTaskError() {
	globalManager.taskErrors.Inc()
}

// RecordHTTPRequest records an HTTP request and its duration in milliseconds.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordRateLimited counts a request refused by the limiter.
func RecordRateLimited(endpoint string) {
	globalManager.httpRateLimited.WithLabelValues(endpoint).Inc()
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
