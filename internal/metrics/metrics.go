package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "harness"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "spawns_total",
			Help:      "Number of successful process launches.",
		}, []string{"command"},
	)
	processSpawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "spawn_failures_total",
			Help:      "Number of spawns that failed confirmation, by reason.",
		}, []string{"command", "reason"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of observed process exits.",
		}, []string{"command"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle state transitions.",
		}, []string{"command", "from", "to"},
	)
	outputLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "lines_total",
			Help:      "Number of output lines forwarded to the host.",
		}, []string{"command"},
	)

	terminationSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "termination",
			Name:      "sweeps_total",
			Help:      "Number of termination sweeps executed.",
		},
	)
	terminationKills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "termination",
			Name:      "forced_kills_total",
			Help:      "Number of processes escalated to SIGKILL.",
		},
	)
	terminationStuck = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "termination",
			Name:      "unterminated",
			Help:      "Processes still alive when the last sweep gave up.",
		},
	)
	terminationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "termination",
			Name:      "duration_seconds",
			Help:      "Wall time of termination sweeps.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		processSpawns, processSpawnFailures, processExits, stateTransitions, outputLines,
		terminationSweeps, terminationKills, terminationStuck, terminationDuration,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			// already registered with this registerer: keep the existing one
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSpawn(command string) {
	if regOK.Load() {
		processSpawns.WithLabelValues(command).Inc()
	}
}

func IncSpawnFailure(command, reason string) {
	if regOK.Load() {
		processSpawnFailures.WithLabelValues(command, reason).Inc()
	}
}

func IncExit(command string) {
	if regOK.Load() {
		processExits.WithLabelValues(command).Inc()
	}
}

func RecordStateTransition(command, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(command, from, to).Inc()
	}
}

func IncOutputLine(command string) {
	if regOK.Load() {
		outputLines.WithLabelValues(command).Inc()
	}
}

// ObserveSweep records one completed termination sweep.
func ObserveSweep(seconds float64, killed, stuck int) {
	if !regOK.Load() {
		return
	}
	terminationSweeps.Inc()
	terminationKills.Add(float64(killed))
	terminationStuck.Set(float64(stuck))
	terminationDuration.Observe(seconds)
}
