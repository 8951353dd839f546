// Package metrics provides Prometheus metrics for the jumplab test engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Signal pipeline
	samplesIngested prometheus.Counter
	samplesDropped  prometheus.Counter
	samplesCorrupt  prometheus.Counter
	queueSize       prometheus.Gauge
	queueCapacity   prometheus.Gauge
	queueUtil       prometheus.Gauge

	// Detector
	phaseTransitions *prometheus.CounterVec
	phaseTimeouts    prometheus.Counter

	// Calibration
	calibrationAttempts prometheus.Counter
	calibrationFailures prometheus.Counter

	// Sessions
	sessionsStarted   prometheus.Counter
	sessionsCompleted prometheus.Counter
	sessionsAborted   prometheus.Counter
	finalizeLatency   prometheus.Histogram
	qualityScore      prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "jumplab",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.samplesIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "samples_ingested_total",
		Help:      "Total number of force samples accepted into the pipeline",
	})

	m.samplesDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "samples_dropped_total",
		Help:      "Total number of samples dropped by the bounded queue under backpressure",
	})

	m.samplesCorrupt = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "samples_corrupt_total",
		Help:      "Total number of samples rejected for non-monotonic timestamps or non-finite values",
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current number of samples waiting in the queue",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Configured capacity of the sample queue",
	})

	m.queueUtil = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_utilization",
		Help:      "Queue fill ratio, 0.0 to 1.0",
	})

	m.phaseTransitions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "phase_transitions_total",
		Help:      "Total number of phase transitions, labelled by target phase",
	}, []string{"phase"})

	m.phaseTimeouts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "phase_timeouts_total",
		Help:      "Total number of tests aborted by the max-phase-duration guard",
	})

	m.calibrationAttempts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "calibration_attempts_total",
		Help:      "Total number of calibration attempts",
	})

	m.calibrationFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "calibration_failures_total",
		Help:      "Total number of calibration attempts rejected for excessive noise",
	})

	m.sessionsStarted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_started_total",
		Help:      "Total number of test sessions started",
	})

	m.sessionsCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_completed_total",
		Help:      "Total number of test sessions finalized with a complete result",
	})

	m.sessionsAborted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_aborted_total",
		Help:      "Total number of test sessions aborted or finalized incomplete",
	})

	m.finalizeLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "finalize_latency_milliseconds",
		Help:      "Histogram of metric finalization latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.qualityScore = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "quality_score",
		Help:      "Histogram of finalized quality scores, 0 to 100",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})
}

// Package-level helpers operating on the global manager.

// RecordSampleIngested increments the ingested-sample counter.
func RecordSampleIngested() {
	globalManager.samplesIngested.Inc()
}

// RecordSamplesDropped adds n to the dropped-sample counter.
func RecordSamplesDropped(n int) {
	globalManager.samplesDropped.Add(float64(n))
}

// RecordSampleCorrupt increments the corrupt-sample counter.
func RecordSampleCorrupt() {
	globalManager.samplesCorrupt.Inc()
}

// UpdateQueueSize sets the queue size gauge and derived utilization.
func UpdateQueueSize(size, capacity int) {
	globalManager.queueSize.Set(float64(size))
	globalManager.queueCapacity.Set(float64(capacity))
	if capacity > 0 {
		globalManager.queueUtil.Set(float64(size) / float64(capacity))
	}
}

// RecordPhaseTransition increments the transition counter for a phase name.
func RecordPhaseTransition(phase string) {
	globalManager.phaseTransitions.WithLabelValues(phase).Inc()
}

// RecordPhaseTimeout increments the max-phase-duration abort counter.
func RecordPhaseTimeout() {
	globalManager.phaseTimeouts.Inc()
}

// RecordCalibrationAttempt increments the calibration attempt counter.
func RecordCalibrationAttempt() {
	globalManager.calibrationAttempts.Inc()
}

// RecordCalibrationFailure increments the calibration failure counter.
func RecordCalibrationFailure() {
	globalManager.calibrationFailures.Inc()
}

// RecordSessionStarted increments the started-session counter.
func RecordSessionStarted() {
	globalManager.sessionsStarted.Inc()
}

// RecordSessionCompleted increments the completed-session counter.
func RecordSessionCompleted() {
	globalManager.sessionsCompleted.Inc()
}

// RecordSessionAborted increments the aborted-session counter.
func RecordSessionAborted() {
	globalManager.sessionsAborted.Inc()
}

// RecordFinalizeLatency observes a finalization latency in milliseconds.
func RecordFinalizeLatency(latencyMs float64) {
	globalManager.finalizeLatency.Observe(latencyMs)
}

// RecordQualityScore observes a finalized quality score.
func RecordQualityScore(score float64) {
	globalManager.qualityScore.Observe(score)
}

// GetRegistry returns the custom registry for the /metrics handler.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
