// Package metrics provides Prometheus metrics for the keyprint risk service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	scoreBuckets   []float64
	registry       prometheus.Registerer

	// Capture
	sessionsStarted *prometheus.CounterVec
	sessionsOpen    prometheus.Gauge
	sessionsExpired prometheus.Counter
	eventsRecorded  prometheus.Counter
	eventsDropped   *prometheus.CounterVec
	batchDuplicate  prometheus.Counter

	// Scoring
	assessments       *prometheus.CounterVec
	riskScore         prometheus.Histogram
	extractionLatency prometheus.Histogram
	scoringLatency    prometheus.Histogram
	ruleReloads       *prometheus.CounterVec
	rulesActive       prometheus.Gauge

	// Baselines
	baselineLookups  *prometheus.CounterVec
	baselineUpdates  *prometheus.CounterVec
	baselineFailures prometheus.Counter

	// Learning pipeline
	queueSize       prometheus.Gauge
	queueCapacity   prometheus.Gauge
	queueEnqueued   prometheus.Counter
	queueRejected   prometheus.Counter
	workerCount     prometheus.Gauge
	workerLatency   prometheus.Histogram
	workerErrors    prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

var runtimeOnce sync.Once //nolint:gochecknoglobals // guards runtime collector registration

// RegisterRuntimeCollectors adds Go runtime and process metrics to the
// service registry. Safe to call more than once.
func RegisterRuntimeCollectors() {
	runtimeOnce.Do(func() {
		customRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "keyprint",
		subsystem:      "risk",
		latencyBuckets: prometheus.DefBuckets,
		scoreBuckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		registry:       prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() {
	m.sessionsStarted = m.counterVec("sessions_started_total", "Tracked sessions started by purpose", "purpose")
	m.sessionsOpen = m.gauge("sessions_open", "Tracked sessions currently capturing events")
	m.sessionsExpired = m.counter("sessions_expired_total", "Tracked sessions discarded after their TTL")
	m.eventsRecorded = m.counter("events_recorded_total", "Interaction events appended to a capture buffer")
	m.eventsDropped = m.counterVec("events_dropped_total", "Interaction events dropped by reason", "reason")
	m.batchDuplicate = m.counter("event_batches_duplicate_total", "Event batches ignored as retries")

	m.assessments = m.counterVec("assessments_total", "Risk assessments by action and baseline usage", "action", "baseline")
	m.riskScore = m.histogram("risk_score", "Distribution of clamped risk scores", m.scoreBuckets)
	m.extractionLatency = m.histogram("extraction_latency_milliseconds", "Feature extraction latency in milliseconds", m.latencyBuckets)
	m.scoringLatency = m.histogram("scoring_latency_milliseconds", "Rule evaluation latency in milliseconds", m.latencyBuckets)
	m.ruleReloads = m.counterVec("rule_reloads_total", "Rule table reload attempts by result", "result")
	m.rulesActive = m.gauge("rules_active", "Rules in the active rule table")

	m.baselineLookups = m.counterVec("baseline_lookups_total", "Baseline lookups by status", "status")
	m.baselineUpdates = m.counterVec("baseline_updates_total", "Baseline writes by kind", "kind")
	m.baselineFailures = m.counter("baseline_update_failures_total", "Baseline writes that failed")

	m.queueSize = m.gauge("training_queue_size", "Pending baseline training jobs")
	m.queueCapacity = m.gauge("training_queue_capacity", "Training queue capacity")
	m.queueEnqueued = m.counter("training_enqueued_total", "Training jobs accepted by the queue")
	m.queueRejected = m.counter("training_rejected_total", "Training jobs rejected by a full or closed queue")
	m.workerCount = m.gauge("worker_count", "Training workers running")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Training job latency in milliseconds", m.latencyBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Training jobs that failed")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.latencyBuckets,
	}, []string{"endpoint", "method", "status_code"})
}

// RecordSessionStarted counts a new tracked session.
func RecordSessionStarted(purpose string) {
	globalManager.sessionsStarted.WithLabelValues(purpose).Inc()
}

// UpdateOpenSessions sets the number of sessions still capturing.
func UpdateOpenSessions(n int) { globalManager.sessionsOpen.Set(float64(n)) }

// RecordSessionExpired counts a session discarded by the sweeper.
func RecordSessionExpired() { globalManager.sessionsExpired.Inc() }

// RecordEventsRecorded adds n captured events.
func RecordEventsRecorded(n int) { globalManager.eventsRecorded.Add(float64(n)) }

// RecordEventDropped counts a rejected event.
func RecordEventDropped(reason string) {
	globalManager.eventsDropped.WithLabelValues(reason).Inc()
}

// RecordBatchDuplicate counts a retried event batch.
func RecordBatchDuplicate() { globalManager.batchDuplicate.Inc() }

// RecordAssessment counts an assessment and observes its score.
func RecordAssessment(action string, baselineUsed bool, score float64) {
	b := "false"
	if baselineUsed {
		b = "true"
	}
	globalManager.assessments.WithLabelValues(action, b).Inc()
	globalManager.riskScore.Observe(score)
}

// RecordExtractionLatency records feature extraction latency.
func RecordExtractionLatency(ms float64) { globalManager.extractionLatency.Observe(ms) }

// RecordScoringLatency records rule evaluation latency.
func RecordScoringLatency(ms float64) { globalManager.scoringLatency.Observe(ms) }

// RecordRuleReload counts a reload attempt; result is "ok" or "error".
func RecordRuleReload(result string) {
	globalManager.ruleReloads.WithLabelValues(result).Inc()
}

// UpdateRulesActive sets the size of the active rule table.
func UpdateRulesActive(n int) { globalManager.rulesActive.Set(float64(n)) }

// RecordBaselineLookup counts a lookup by status.
func RecordBaselineLookup(status string) {
	globalManager.baselineLookups.WithLabelValues(status).Inc()
}

// RecordBaselineUpdate counts a baseline write; kind is "established" or "updated".
func RecordBaselineUpdate(kind string) {
	globalManager.baselineUpdates.WithLabelValues(kind).Inc()
}

// RecordBaselineFailure counts a failed baseline write.
func RecordBaselineFailure() { globalManager.baselineFailures.Inc() }

// UpdateQueueSize sets the pending training job count.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the training queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue counts an accepted training job.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueRejected counts a training job the queue refused.
func RecordQueueRejected() { globalManager.queueRejected.Inc() }

// UpdateWorkerCount sets the number of running training workers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records training job latency.
func RecordWorkerProcessingLatency(ms float64) { globalManager.workerLatency.Observe(ms) }

// RecordWorkerError counts a failed training job.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
