// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/openserve/model-orchestrator/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	runsTotalCounter      *prometheus.CounterVec
	stepsTotalCounter     *prometheus.CounterVec
	stepDurationMetric    *prometheus.HistogramVec
	pollIterationsCounter *prometheus.CounterVec
	claimLatencyMetric    prometheus.Histogram
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		runsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_runs_total",
				Help: "Total number of run terminal transitions by operation and status.",
			},
			[]string{"operation", "status"},
		)

		stepsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_steps_total",
				Help: "Total number of step completions by step and outcome.",
			},
			[]string{"step", "outcome"},
		)

		stepDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lifecycle_step_duration_seconds",
				Help:    "Duration of single step invocations in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		)

		pollIterationsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_poll_iterations_total",
				Help: "Total number of poll loop iterations by step.",
			},
			[]string{"step"},
		)

		claimLatencyMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lifecycle_worker_claim_latency_seconds",
				Help:    "Latency of worker run claim queries in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		prometheus.MustRegister(
			runsTotalCounter,
			stepsTotalCounter,
			stepDurationMetric,
			pollIterationsCounter,
			claimLatencyMetric,
		)

		// Ensure run counters are visible at /metrics before the first
		// terminal transition.
		for _, op := range []domain.Operation{domain.OpCreate, domain.OpUpdate, domain.OpDelete} {
			for _, status := range []domain.RunStatus{
				domain.RunSuccess,
				domain.RunFailed,
				domain.RunAborted,
			} {
				runsTotalCounter.WithLabelValues(string(op), string(status))
			}
		}
	})
}

func IncRunTerminal(operation, status string) {
	Init()
	runsTotalCounter.WithLabelValues(operation, status).Inc()
}

func IncStepOutcome(step, outcome string) {
	Init()
	stepsTotalCounter.WithLabelValues(step, outcome).Inc()
}

func ObserveStepDuration(step string, d time.Duration) {
	Init()
	stepDurationMetric.WithLabelValues(step).Observe(d.Seconds())
}

func IncPollIterations(step string) {
	Init()
	pollIterationsCounter.WithLabelValues(step).Inc()
}

func ObserveClaimLatency(d time.Duration) {
	Init()
	claimLatencyMetric.Observe(d.Seconds())
}
