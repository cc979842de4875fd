package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every idconnect collector; the loopback server exposes it on /metrics.
var Registry = prometheus.NewRegistry()

var (
	handshakes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idconnect",
		Name:      "handshakes_total",
		Help:      "Cross-window handshakes by kind and outcome.",
	}, []string{"kind", "outcome"})

	handshakeSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "idconnect",
		Name:      "handshake_seconds",
		Help:      "Time from launching the id provider window to settling the request.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	}, []string{"kind"})

	droppedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idconnect",
		Name:      "dropped_messages_total",
		Help:      "Inbound messages ignored by the messenger, by reason.",
	}, []string{"reason"})
)

func init() {
	Registry.MustRegister(handshakes, handshakeSeconds, droppedMessages)
}

// Outcome labels.
const (
	OutcomeSuccess    = "success"
	OutcomeRejected   = "rejected"
	OutcomeCancelled  = "cancelled"
	OutcomeBlocked    = "blocked"
	OutcomeTimeout    = "timeout"
	OutcomeConcurrent = "concurrent"
	OutcomeError      = "error"
)

// ObserveHandshake records one settled handshake.
func ObserveHandshake(kind, outcome string, elapsed time.Duration) {
	handshakes.WithLabelValues(kind, outcome).Inc()
	if outcome != OutcomeConcurrent {
		handshakeSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
}

// DropMessage records an ignored inbound message.
func DropMessage(reason string) {
	droppedMessages.WithLabelValues(reason).Inc()
}
