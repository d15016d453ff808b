// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_turns_total",
			Help: "Total number of processed conversation turns",
		},
		[]string{"intent"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "conversation_turn_duration_seconds",
			Help: "Duration of turn processing in seconds",
		},
		[]string{"intent"},
	)

	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actions_executed_total",
			Help: "Total number of executed actions",
		},
		[]string{"executor", "status"},
	)

	RemoteForwards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federation_forwards_total",
			Help: "Total number of requests forwarded to peer nodes",
		},
		[]string{"node", "status"},
	)

	GenAILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "genai_request_duration_seconds",
			Help: "Latency of text-generation collaborator calls",
		},
		[]string{"operation"},
	)

	PendingActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_actions_active",
			Help: "Pending actions currently tracked across sessions",
		},
	)
)
