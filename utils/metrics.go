package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the session core. Registered on the default
// registry and served by the ops router.
var (
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "counsel_sessions_started_total",
		Help: "Sessions that reached the active state, by mode.",
	}, []string{"mode"})

	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "counsel_sessions_ended_total",
		Help: "Sessions that reached a terminal state, by mode and outcome.",
	}, []string{"mode", "outcome"})

	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "counsel_active_sessions",
		Help: "Sessions currently tracked by a controller, by mode.",
	}, []string{"mode"})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "counsel_chat_messages_sent_total",
		Help: "Chat messages published on the realtime channel.",
	})

	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "counsel_chat_messages_received_total",
		Help: "Chat messages accepted from the realtime channel after dedup.",
	})

	ChannelReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "counsel_channel_reconnects_total",
		Help: "Realtime channel reconnect attempts that succeeded.",
	})

	MediaJoins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "counsel_media_joins_total",
		Help: "Media channel joins, by result.",
	}, []string{"result"})
)
