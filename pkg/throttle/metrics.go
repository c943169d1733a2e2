package throttle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Grants tracks granted tokens by how the caller was served
	Grants = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_throttle_grants_total",
			Help: "Total number of granted tokens by grant type",
		},
		[]string{"type"}, // "immediate", "queued"
	)

	// Rejections tracks rejected acquisitions by reason
	Rejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_throttle_rejections_total",
			Help: "Total number of rejected token acquisitions by reason",
		},
		[]string{"reason"}, // "timeout", "queue_full", "destroyed"
	)

	// Pauses tracks externally signaled rate-limit pauses
	Pauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_throttle_pauses_total",
			Help: "Total number of rate-limit pauses applied to the bucket",
		},
	)

	// QueueDepth tracks the current waiter queue depth
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gate_throttle_queue_depth",
			Help: "Current number of callers waiting for a token",
		},
	)

	// Tokens tracks the current token level
	Tokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gate_throttle_tokens",
			Help: "Current token level of the bucket",
		},
	)

	// WaitSeconds tracks how long queued callers waited for a token
	WaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gate_throttle_wait_seconds",
			Help:    "Time queued callers waited for a token",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)
)
