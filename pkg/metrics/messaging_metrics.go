package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Messaging metrics for monitoring message lifecycle and real-time delivery
var (
	// Message lifecycle metrics
	MessageSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_message_sent_total",
		Help: "Total number of message sends",
	}, []string{"status"}) // "ok", "empty", "write_failed"

	MessagePublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_message_published_total",
		Help: "Total number of message events published to the change feed",
	}, []string{"status"})

	MessageDeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "messaging_message_delivery_duration_seconds",
		Help:    "Time taken to persist and publish a message",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"step"}) // "persist", "publish"

	// Read-state metrics
	MarkReadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_mark_read_total",
		Help: "Total number of read-cursor advances",
	}, []string{"status"})

	// Conversation resolution metrics
	ConversationResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_conversation_resolved_total",
		Help: "Total number of conversation lookup-or-create calls",
	}, []string{"outcome"}) // "existing", "created", "failed"

	// Sync session metrics
	SessionOptimisticRollbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_session_optimistic_rollback_total",
		Help: "Total number of optimistic messages rolled back after a failed write",
	})

	SessionStaleResponseDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_session_stale_response_dropped_total",
		Help: "Total number of history responses discarded because the selection changed",
	})

	// Feed metrics
	FeedSubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "messaging_feed_subscriptions_active",
		Help: "Current number of active change-feed subscriptions",
	})

	FeedEventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_feed_events_dropped_total",
		Help: "Total number of feed events dropped",
	}, []string{"reason"})

	FeedResubscribeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_feed_resubscribe_total",
		Help: "Total number of feed resubscription attempts after a disconnect",
	})
)
