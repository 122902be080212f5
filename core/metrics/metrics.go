// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package metrics holds the prometheus collectors of the gateway. They are
// registered on the default registry and served by GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "espgate"

// Merge origins
const (
	OriginDevice = "device"
	OriginClient = "client"
	OriginMQTT   = "mqtt"
	OriginBridge = "bridge"
)

// State metrics
var (
	// StateMerges counts merges into the device state by origin
	StateMerges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_merges_total",
			Help:      "Total merges into the device state by origin",
		},
		[]string{"origin"},
	)

	// InvalidReports counts device reports rejected as malformed
	InvalidReports = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_reports_total",
			Help:      "Total device reports rejected as malformed",
		},
	)
)

// Command queue metrics
var (
	CommandsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_enqueued_total",
			Help:      "Total commands queued for the device",
		},
	)

	CommandsDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_drained_total",
			Help:      "Total commands handed out to the polling device",
		},
	)
)

// WebSocket metrics
var (
	// WebSocketConnections tracks the currently registered connections
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_current",
			Help:      "Number of open WebSocket connections",
		},
	)

	Broadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "broadcasts_total",
			Help:      "Total state broadcasts",
		},
	)

	// SendFailures counts connections dropped because their outbox was full or a write failed
	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "send_failures_total",
			Help:      "Total per-connection send failures by reason",
		},
		[]string{"reason"},
	)
)

// Alerts counts danger alerts by type and outcome (sent, failed, cooldown)
var Alerts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Total danger alerts by type and outcome",
	},
	[]string{"type", "outcome"},
)
