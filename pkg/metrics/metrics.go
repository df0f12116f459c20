// Package metrics provides Prometheus-based recording for engine step
// execution, suspensions, and retrieval retries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements graph.Metrics on Prometheus collectors.
type Recorder struct {
	stepsTotal     *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	suspendsTotal  *prometheus.CounterVec
	retrievalTotal prometheus.Counter
	threadsActive  prometheus.Gauge
}

// NewRecorder creates a recorder registered on a fresh registry and returns
// both. The registry backs the /metrics endpoint.
func NewRecorder() (*Recorder, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_steps_total",
				Help: "Total engine step executions by step name and outcome",
			},
			[]string{"step", "outcome"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_step_duration_seconds",
				Help:    "Duration of engine step executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		suspendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_suspensions_total",
				Help: "Total workflow suspensions awaiting a caller decision",
			},
			[]string{"step"},
		),
		retrievalTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_retrieval_attempts_total",
				Help: "Total knowledge retrieval attempts including retries",
			},
		),
		threadsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_threads_active",
				Help: "Threads with an in-flight engine execution",
			},
		),
	}, reg
}

// StepExecuted records one step execution.
func (r *Recorder) StepExecuted(step, outcome string, seconds float64) {
	r.stepsTotal.WithLabelValues(step, outcome).Inc()
	r.stepDuration.WithLabelValues(step).Observe(seconds)
	if step == "retrieve" && outcome == "ok" {
		r.retrievalTotal.Inc()
	}
}

// Suspended records a workflow suspension.
func (r *Recorder) Suspended(step string) {
	r.suspendsTotal.WithLabelValues(step).Inc()
}

// ThreadStarted marks an execution as in flight.
func (r *Recorder) ThreadStarted() { r.threadsActive.Inc() }

// ThreadFinished marks an execution as done.
func (r *Recorder) ThreadFinished() { r.threadsActive.Dec() }
