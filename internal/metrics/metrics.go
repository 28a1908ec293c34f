// Package metrics exposes Prometheus instruments for the messaging API.
// Everything is registered through promauto on the default registry and
// served via promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WSConnections is the number of live WebSocket sessions.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dialogs_ws_connections",
		Help: "Current number of open WebSocket connections.",
	})

	// MessagesSent counts logical messages accepted for delivery (one per
	// uuid group, not per mailbox copy).
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogs_messages_sent_total",
		Help: "Total messages accepted for delivery.",
	})

	// EventsDelivered counts sync events handed to a live connection.
	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogs_events_delivered_total",
		Help: "Total sync events delivered to connected clients.",
	})

	// EventsDropped counts events discarded because the recipient had no
	// live connection or their send buffer was full.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogs_events_dropped_total",
		Help: "Total sync events dropped (offline recipient or full buffer).",
	})

	// RelayPublished counts events forwarded to the Redis relay channel.
	RelayPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogs_relay_published_total",
		Help: "Total events published to the cross-instance relay.",
	})
)
