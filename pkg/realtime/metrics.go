package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Live websocket connections",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_users_online",
			Help: "Users with at least one live connection",
		},
	)

	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_handled_total",
			Help: "Inbound events by name and outcome",
		},
		[]string{"event", "outcome"}, // outcome: "ok" or "error"
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_messages_sent_total",
			Help: "Messages persisted by the relay",
		},
	)

	CallsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_calls_finished_total",
			Help: "Call sessions by terminal state",
		},
		[]string{"state"},
	)

	DeliveriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_deliveries_dropped_total",
			Help: "Frames dropped because the connection was closed or too slow",
		},
	)

	StoreFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_store_failures_total",
			Help: "Best-effort store or side-channel writes that failed",
		},
		[]string{"op"},
	)
)
