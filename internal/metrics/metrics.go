package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coderelay_events_received_total",
		Help: "Inbound websocket events by name.",
	}, []string{"event"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coderelay_events_dropped_total",
		Help: "Inbound frames dropped, by reason.",
	}, []string{"reason"})

	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coderelay_broadcasts_total",
		Help: "Room broadcasts by event.",
	}, []string{"event"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coderelay_store_errors_total",
		Help: "Failed store operations by op.",
	}, []string{"op"})

	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coderelay_executions_total",
		Help: "Execution requests by outcome.",
	}, []string{"outcome"})

	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coderelay_execution_duration_seconds",
		Help:    "Round trip to the executor.",
		Buckets: prometheus.DefBuckets,
	})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coderelay_connections",
		Help: "Open websocket connections.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
