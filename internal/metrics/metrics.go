package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Pacer
type Metrics struct {
	// Planning counters
	PlansComputedTotal *prometheus.CounterVec
	PlanWarningsTotal  *prometheus.CounterVec

	// Content scoring
	ContentValidationsTotal *prometheus.CounterVec
	ContentScore            *prometheus.HistogramVec

	// Audience resolution
	SegmentsResolvedTotal   prometheus.Counter
	SchedulesEstimatedTotal prometheus.Counter

	// Dispatch counters
	MessagesSentTotal   *prometheus.CounterVec
	MessagesFailedTotal *prometheus.CounterVec

	// Job gauges
	JobsPending prometheus.Gauge
	JobsRunning prometheus.Gauge
	JobsPaused  prometheus.Gauge

	// Rate limiting
	RateLimitExceededTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		// Planning counters
		PlansComputedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_plans_computed_total",
				Help: "Total number of rate limit plans computed",
			},
			[]string{"channel"},
		),
		PlanWarningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_plan_warnings_total",
				Help: "Total number of warnings attached to computed plans",
			},
			[]string{"channel"},
		),

		// Content scoring
		ContentValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_content_validations_total",
				Help: "Total number of content risk validations",
			},
			[]string{"channel"},
		),
		ContentScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pacer_content_score",
				Help:    "Distribution of content risk scores",
				Buckets: []float64{0, 20, 40, 60, 70, 80, 90, 95, 100},
			},
			[]string{"channel"},
		),

		// Audience resolution
		SegmentsResolvedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pacer_segments_resolved_total",
				Help: "Total number of audience segment resolutions",
			},
		),
		SchedulesEstimatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pacer_schedules_estimated_total",
				Help: "Total number of schedule estimates computed",
			},
		),

		// Dispatch counters
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_messages_sent_total",
				Help: "Total number of messages dispatched successfully",
			},
			[]string{"channel"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_messages_failed_total",
				Help: "Total number of failed message sends",
			},
			[]string{"channel", "error_type"},
		),

		// Job gauges
		JobsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pacer_jobs_pending",
				Help: "Number of campaign jobs waiting for dispatch",
			},
		),
		JobsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pacer_jobs_running",
				Help: "Number of campaign jobs currently dispatching",
			},
		),
		JobsPaused: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pacer_jobs_paused",
				Help: "Number of paused campaign jobs",
			},
		),

		// Rate limiting
		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_ratelimit_exceeded_total",
				Help: "Total number of rate limit exceeded events",
			},
			[]string{"level"},
		),

		// API metrics
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pacer_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pacer_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		// System metrics
		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pacer_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pacer_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pacer_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	// Register all metrics
	reg.MustRegister(
		m.PlansComputedTotal,
		m.PlanWarningsTotal,
		m.ContentValidationsTotal,
		m.ContentScore,
		m.SegmentsResolvedTotal,
		m.SchedulesEstimatedTotal,
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.JobsPending,
		m.JobsRunning,
		m.JobsPaused,
		m.RateLimitExceededTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObservePlan records a computed plan and its warnings
func ObservePlan(channel string, warnings int) {
	m := Global()
	if m != nil {
		m.PlansComputedTotal.WithLabelValues(channel).Inc()
		if warnings > 0 {
			m.PlanWarningsTotal.WithLabelValues(channel).Add(float64(warnings))
		}
	}
}

// ObserveContentScore records a content validation result
func ObserveContentScore(channel string, score int) {
	m := Global()
	if m != nil {
		m.ContentValidationsTotal.WithLabelValues(channel).Inc()
		m.ContentScore.WithLabelValues(channel).Observe(float64(score))
	}
}

// IncSegmentsResolved increments the segment resolution counter
func IncSegmentsResolved() {
	m := Global()
	if m != nil {
		m.SegmentsResolvedTotal.Inc()
	}
}

// IncSchedulesEstimated increments the schedule estimate counter
func IncSchedulesEstimated() {
	m := Global()
	if m != nil {
		m.SchedulesEstimatedTotal.Inc()
	}
}

// IncMessagesSent increments the sent message counter
func IncMessagesSent(channel string) {
	m := Global()
	if m != nil {
		m.MessagesSentTotal.WithLabelValues(channel).Inc()
	}
}

// IncMessagesFailed increments the failed message counter
func IncMessagesFailed(channel, errorType string) {
	m := Global()
	if m != nil {
		m.MessagesFailedTotal.WithLabelValues(channel, errorType).Inc()
	}
}

// IncRateLimitExceeded increments rate limit exceeded counter
func IncRateLimitExceeded(level string) {
	m := Global()
	if m != nil {
		m.RateLimitExceededTotal.WithLabelValues(level).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
