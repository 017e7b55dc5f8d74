// Package server exposes Prometheus instrumentation for the relay: connection
// gauge, per-type inbound counters, and fan-out/liveness counters.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "relay"

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "connections_active",
		Help:      "Number of currently registered WebSocket connections.",
	})

	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "messages_received_total",
		Help:      "Inbound messages routed, labeled by declared message type.",
	}, []string{"type"})

	broadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "broadcasts_total",
		Help:      "Broadcast fan-out operations performed.",
	})

	directSendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "direct_sends_total",
		Help:      "Direct (single-recipient) send attempts.",
	})

	sendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "send_failures_total",
		Help:      "Sends skipped because the recipient was closed or its buffer full.",
	})

	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "evictions_total",
		Help:      "Connections evicted for failing liveness checks.",
	})

	livenessProbesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "liveness_probes_total",
		Help:      "Liveness ping frames requested by the sweep.",
	})
)
