// Package metrics defines Prometheus metrics for the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventSub channel metrics
var (
	// ChannelConnects tracks connection attempts to the EventSub websocket by outcome
	ChannelConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_channel_connects_total",
			Help: "EventSub websocket connection attempts by outcome (connected/error)",
		},
		[]string{"outcome"},
	)

	// FramesReceived tracks inbound frames by message type
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_frames_received_total",
			Help: "Inbound EventSub frames by message type",
		},
		[]string{"type"},
	)

	// SubscribeRequests tracks subscription create requests by kind and outcome
	SubscribeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_subscribe_requests_total",
			Help: "EventSub subscribe requests by event kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// Dispatcher metrics
var (
	// NotificationsDispatched tracks notifications handed to handlers by event kind
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_notifications_total",
			Help: "Notifications dispatched to handlers by event kind",
		},
		[]string{"kind"},
	)

	// HandlerFailures tracks handler errors and panics by event kind
	HandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_handler_failures_total",
			Help: "Handler errors and panics by event kind",
		},
		[]string{"kind"},
	)
)

// Token lifecycle metrics
var (
	// TokenRefreshes tracks refresh-grant attempts by outcome
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_refreshes_total",
			Help: "Refresh token grant attempts by outcome",
		},
		[]string{"outcome"},
	)

	// InteractiveAuthorizations tracks interactive authorization flows by outcome
	InteractiveAuthorizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_interactive_authorizations_total",
			Help: "Interactive authorization-code flows by outcome",
		},
		[]string{"outcome"},
	)
)

// Outbound chat metrics
var (
	// ChatMessagesSent tracks outbound chat messages by outcome
	ChatMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Outbound chat messages by outcome",
		},
		[]string{"outcome"},
	)
)
