// Package fmetrics exposes the executor's Prometheus instrumentation:
// package-level collectors registered at init time, plus a small Timer
// helper for observing driver-cycle durations.
package fmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransitionsTotal counts transition attempts by module kind and outcome
	// ("ok" for a committed transition, "panicked" for an aborted one);
	// commit conflicts are counted in CommitConflictsTotal instead.
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedimint_psme_transitions_total",
			Help: "Total number of state machine transitions by module kind and outcome",
		},
		[]string{"module", "outcome"},
	)

	// ActiveMachines counts machines handed to a driver that have not yet
	// been moved to inactive.
	ActiveMachines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fedimint_psme_active_machines",
			Help: "Number of state machines currently active",
		},
	)

	// CommitConflictsTotal counts database commit conflicts encountered by
	// driver cycles; each one is followed by a retry after backoff.
	CommitConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedimint_psme_commit_conflicts_total",
			Help: "Total number of commit conflicts observed by driver cycles",
		},
		[]string{"module"},
	)

	// NotifierLagTotal counts subscribers that were fast-forwarded past
	// missed updates.
	NotifierLagTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fedimint_psme_notifier_lag_total",
			Help: "Total number of times a notifier subscriber was fast-forwarded due to a full buffer",
		},
	)

	// DriverRetryCount reports the current retry count for each in-flight
	// driver cycle, keyed by operation id, so a stuck driver retrying a
	// commit conflict indefinitely is observable.
	DriverRetryCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fedimint_psme_driver_retry_count",
			Help: "Current retry count of the in-flight driver cycle for an operation",
		},
		[]string{"operation_id"},
	)

	// TransitionDuration times a single driver cycle, from the start of the
	// trigger race through committing its successor.
	TransitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fedimint_psme_transition_duration_seconds",
			Help:    "Time taken for one driver cycle (trigger race through commit) in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"module"},
	)

	// OperationsCompletedTotal counts machines that reached a terminal
	// state; an operation with several machines is counted once per machine.
	OperationsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fedimint_psme_operations_completed_total",
			Help: "Total number of state machines that reached a terminal state",
		},
	)
)

func init() {
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(ActiveMachines)
	prometheus.MustRegister(CommitConflictsTotal)
	prometheus.MustRegister(NotifierLagTotal)
	prometheus.MustRegister(DriverRetryCount)
	prometheus.MustRegister(TransitionDuration)
	prometheus.MustRegister(OperationsCompletedTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small duration-measuring helper.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
