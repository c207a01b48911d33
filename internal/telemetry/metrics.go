package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ActionsTotal counts dispatched actions by name and outcome.
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wmesh",
			Name:      "actions_total",
			Help:      "Total number of dispatched actions",
		},
		[]string{"action", "outcome"},
	)

	// ActionDuration observes per-action handler latency.
	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wmesh",
			Name:      "action_duration_seconds",
			Help:      "Latency of action handlers",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// ShellCommands counts commands issued over device shells.
	ShellCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wmesh",
			Name:      "shell_commands_total",
			Help:      "Total number of shell commands executed",
		},
		[]string{"host", "outcome"},
	)

	// BreakerTransitions counts circuit breaker state changes.
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wmesh",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"host", "state"},
	)

	// HubCalls counts hub RPC round trips.
	HubCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wmesh",
			Name:      "hub_calls_total",
			Help:      "Total number of hub RPC calls",
		},
		[]string{"method", "outcome"},
	)

	// ScanPhaseDuration observes the duration of each scan phase.
	ScanPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wmesh",
			Name:      "scan_phase_duration_seconds",
			Help:      "Duration of snapshot builder phases",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"phase"},
	)

	// SignalSamples counts RSSI samples ingested into the signal store.
	SignalSamples = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wmesh",
			Name:      "signal_samples_total",
			Help:      "Total number of RSSI samples recorded",
		},
	)

	// AlertsEmitted counts alerts that passed thresholds and cooldowns.
	AlertsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wmesh",
			Name:      "alerts_emitted_total",
			Help:      "Total number of alerts emitted",
		},
		[]string{"category", "severity"},
	)

	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry.
// Idempotent: safe to call from multiple bootstrap paths.
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(ActionsTotal)
		prometheus.DefaultRegisterer.Register(ActionDuration)
		prometheus.DefaultRegisterer.Register(ShellCommands)
		prometheus.DefaultRegisterer.Register(BreakerTransitions)
		prometheus.DefaultRegisterer.Register(HubCalls)
		prometheus.DefaultRegisterer.Register(ScanPhaseDuration)
		prometheus.DefaultRegisterer.Register(SignalSamples)
		prometheus.DefaultRegisterer.Register(AlertsEmitted)
	})
}
