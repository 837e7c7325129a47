// Package feed provides the change-feed contract: a publish/subscribe
// mechanism delivering row-level change events for named topics. Delivery
// order across concurrent publishers is not guaranteed; consumers order by
// the row's server timestamp, never by arrival.
package feed

import (
	"context"

	"roomhub-messaging/internal/domain"
)

// Feed is the change-feed contract consumed by the sync layer.
type Feed interface {
	// Publish delivers an event to all current subscribers of topic.
	Publish(ctx context.Context, topic string, event *domain.Event) error
	// Subscribe opens a subscription to topic. The caller owns the returned
	// subscription and must Close it on every exit path.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription is a scoped feed resource: acquired on entering an active
// view, released on leaving it.
type Subscription interface {
	// Events returns the event stream. The channel is closed when the
	// subscription is closed or the underlying transport drops.
	Events() <-chan *domain.Event
	// Close releases the subscription. Safe to call more than once.
	Close() error
}
