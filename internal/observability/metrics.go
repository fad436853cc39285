package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rahul/taskpilot/internal/engine"
	"github.com/rahul/taskpilot/internal/plan"
)

// Metrics records step and run statistics in a Prometheus registry.
type Metrics struct {
	registry     *prometheus.Registry
	steps        *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	retries      *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	runDuration  prometheus.Histogram
}

// NewMetrics registers the collectors in a fresh registry. A nil reg
// creates one.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpilot_steps_total",
			Help: "Steps that reached a terminal state, by tool and status.",
		}, []string{"tool", "status"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpilot_step_attempts_total",
			Help: "Tool invocations made, including retries.",
		}, []string{"tool"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpilot_step_retries_total",
			Help: "Retries scheduled after a retryable failure.",
		}, []string{"tool"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskpilot_step_duration_seconds",
			Help:    "Wall time of a step including retries.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"tool"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskpilot_run_duration_seconds",
			Help:    "Wall time of a whole plan run.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) WaveStarted(context.Context, int, []plan.StepID) {}

func (m *Metrics) StepRetrying(_ context.Context, step plan.Step, _ int, _ time.Duration, _ error) {
	m.retries.WithLabelValues(step.Tool).Inc()
}

func (m *Metrics) StepFinished(_ context.Context, res engine.ExecutionResult) {
	m.steps.WithLabelValues(res.Tool, string(res.Status)).Inc()
	if res.Attempts > 0 {
		m.attempts.WithLabelValues(res.Tool).Add(float64(res.Attempts))
		m.stepDuration.WithLabelValues(res.Tool).Observe(res.Elapsed.Seconds())
	}
}

func (m *Metrics) RunFinished(_ context.Context, _ []engine.ExecutionResult, elapsed time.Duration) {
	m.runDuration.Observe(elapsed.Seconds())
}

var _ engine.Observer = (*Metrics)(nil)
