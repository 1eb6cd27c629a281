package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heal_engine",
			Name:      "cycles_total",
			Help:      "Total number of control-loop cycles, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "heal_engine",
			Name:      "cycle_seconds",
			Help:      "Control-loop cycle latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heal_engine",
			Name:      "metric_fetches_total",
			Help:      "Total metric source polls, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heal_engine",
			Name:      "anomalies_total",
			Help:      "Total anomalies classified, partitioned by severity.",
		},
		[]string{"severity"},
	)

	remediationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heal_engine",
			Name:      "remediations_total",
			Help:      "Total remediation plans finished, partitioned by status.",
		},
		[]string{"status"},
	)

	actionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "heal_engine",
			Name:      "action_seconds",
			Help:      "Remediation action latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)
)

// Register attaches heal-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		fetchesTotal,
		anomaliesTotal,
		remediationsTotal,
		actionDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records a completed cycle duration and outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	cyclesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetch counts a metric source poll by outcome.
func ObserveFetch(outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	fetchesTotal.WithLabelValues(label).Inc()
}

// ObserveAnomaly counts a classified anomaly by severity.
func ObserveAnomaly(severity string) {
	anomaliesTotal.WithLabelValues(severity).Inc()
}

// ObserveRemediation counts a finished plan by terminal status.
func ObserveRemediation(status string) {
	remediationsTotal.WithLabelValues(status).Inc()
}

// ObserveAction records one action attempt sequence.
func ObserveAction(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	if duration < 0 {
		duration = 0
	}
	actionDurationSeconds.WithLabelValues(label).Observe(duration.Seconds())
}
