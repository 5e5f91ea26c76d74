package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	agentStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentward",
			Subsystem: "agent",
			Name:      "starts_total",
			Help:      "Number of successful agent process starts.",
		}, []string{"name"},
	)
	agentStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentward",
			Subsystem: "agent",
			Name:      "stops_total",
			Help:      "Number of agent stops (graceful or kill).",
		}, []string{"name"},
	)
	sessionsReady = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentward",
			Subsystem: "reaper",
			Name:      "sessions_ready_total",
			Help:      "Number of reaper sessions that reached the Ready state.",
		}, []string{"label"},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentward",
			Subsystem: "reaper",
			Name:      "terminations_total",
			Help:      "Termination procedure outcomes by kind (graceful, forced, already_gone).",
		}, []string{"label", "outcome"},
	)
	acksResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentward",
			Subsystem: "channel",
			Name:      "acks_resolved_total",
			Help:      "Number of sends confirmed by a clean acknowledgment.",
		}, []string{"channel"},
	)
	acksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentward",
			Subsystem: "channel",
			Name:      "acks_rejected_total",
			Help:      "Number of sends settled without a clean ack, by reason (timeout, remote, disposed, transport).",
		}, []string{"channel", "reason"},
	)
	pendingMessages = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentward",
			Subsystem: "channel",
			Name:      "pending_messages",
			Help:      "Current in-flight sends awaiting acknowledgment.",
		}, []string{"channel"},
	)
	ackLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentward",
			Subsystem: "channel",
			Name:      "ack_latency_seconds",
			Help:      "Time between transmitting a data frame and its acknowledgment.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{agentStarts, agentStops, sessionsReady, terminations, acksResolved, acksRejected, pendingMessages, ackLatency}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncAgentStart(name string) {
	if regOK.Load() {
		agentStarts.WithLabelValues(name).Inc()
	}
}

func IncAgentStop(name string) {
	if regOK.Load() {
		agentStops.WithLabelValues(name).Inc()
	}
}

func IncSessionReady(label string) {
	if regOK.Load() {
		sessionsReady.WithLabelValues(label).Inc()
	}
}

func IncTermination(label, outcome string) {
	if regOK.Load() {
		terminations.WithLabelValues(label, outcome).Inc()
	}
}

func IncAckResolved(channel string) {
	if regOK.Load() {
		acksResolved.WithLabelValues(channel).Inc()
	}
}

func IncAckRejected(channel, reason string) {
	if regOK.Load() {
		acksRejected.WithLabelValues(channel, reason).Inc()
	}
}

func SetPendingMessages(channel string, n int) {
	if regOK.Load() {
		pendingMessages.WithLabelValues(channel).Set(float64(n))
	}
}

func ObserveAckLatency(channel string, seconds float64) {
	if regOK.Load() {
		ackLatency.WithLabelValues(channel).Observe(seconds)
	}
}
