package observability

import (
	"strconv"
	"time"

	"github.com/gsoc2/novu/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "admission"

// Metrics holds every Prometheus collector of the service.
type Metrics struct {
	RateLimitDecisions *prometheus.CounterVec
	StoreErrors        *prometheus.CounterVec
	ProbeAttempts      *prometheus.CounterVec
	QueuesReady        prometheus.Gauge
	WorkerTransitions  *prometheus.CounterVec
	WorkerPaused       *prometheus.GaugeVec
	JobsTotal          *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
}

// NewMetrics registers every collector on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RateLimitDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_decisions_total",
				Help:      "Rate limit evaluations by category, outcome and decision source",
			},
			[]string{"category", "allowed", "source"},
		),
		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_store_errors_total",
				Help:      "Quota store failures by operation",
			},
			[]string{"operation"},
		),
		ProbeAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "readiness_probe_attempts_total",
				Help:      "Readiness probe attempts by outcome",
			},
			[]string{"healthy"},
		),
		QueuesReady: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queues_ready",
				Help:      "1 when the last readiness probe succeeded",
			},
		),
		WorkerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_transitions_total",
				Help:      "Worker pause and resume calls by topic and result",
			},
			[]string{"topic", "operation", "result"},
		),
		WorkerPaused: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_paused",
				Help:      "1 while the worker of a topic is paused",
			},
			[]string{"topic"},
		),
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Processed jobs by topic and outcome",
			},
			[]string{"topic", "outcome"},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Job processing latency in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"topic"},
		),
	}
}

// RecordDecision counts one rate limit evaluation.
func (m *Metrics) RecordDecision(category domain.Category, allowed bool, source string) {
	m.RateLimitDecisions.WithLabelValues(string(category), strconv.FormatBool(allowed), source).Inc()
}

// RecordStoreError counts one quota store failure.
func (m *Metrics) RecordStoreError(operation string) {
	m.StoreErrors.WithLabelValues(operation).Inc()
}

// RecordProbeAttempt counts one readiness probe attempt.
func (m *Metrics) RecordProbeAttempt(healthy bool) {
	m.ProbeAttempts.WithLabelValues(strconv.FormatBool(healthy)).Inc()
}

// RecordReadiness publishes the last probe outcome.
func (m *Metrics) RecordReadiness(ready bool) {
	if ready {
		m.QueuesReady.Set(1)
		return
	}
	m.QueuesReady.Set(0)
}

// RecordWorkerTransition counts one pause or resume call.
func (m *Metrics) RecordWorkerTransition(topic, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.WorkerTransitions.WithLabelValues(topic, operation, result).Inc()
}

// RecordWorkerState publishes whether the worker of topic is paused.
func (m *Metrics) RecordWorkerState(topic string, paused bool) {
	v := 0.0
	if paused {
		v = 1
	}
	m.WorkerPaused.WithLabelValues(topic).Set(v)
}

// RecordJob counts one processed job and observes its latency.
func (m *Metrics) RecordJob(topic, outcome string, duration time.Duration) {
	m.JobsTotal.WithLabelValues(topic, outcome).Inc()
	m.JobDuration.WithLabelValues(topic).Observe(duration.Seconds())
}
