package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"roomhub-messaging/internal/domain"
	"roomhub-messaging/pkg/logger"
	"roomhub-messaging/pkg/metrics"
)

// RedisFeed implements Feed on Redis Pub/Sub. One Redis channel per topic;
// events travel as JSON envelopes.
type RedisFeed struct {
	client *redis.Client
}

// NewRedisFeed creates a Redis-backed change feed
func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

// Publish delivers an event to all current subscribers of topic
func (f *RedisFeed) Publish(ctx context.Context, topic string, event *domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal feed event: %w", err)
	}

	if err := f.client.Publish(ctx, topic, payload).Err(); err != nil {
		metrics.MessagePublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish feed event: %w", err)
	}

	metrics.MessagePublishedTotal.WithLabelValues("ok").Inc()
	return nil
}

// Subscribe opens a subscription to topic
func (f *RedisFeed) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := f.client.Subscribe(ctx, topic)

	// Wait for the subscription to be confirmed so events published right
	// after Subscribe returns are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &redisSubscription{
		topic:  topic,
		pubsub: pubsub,
		events: make(chan *domain.Event, 64),
	}

	metrics.FeedSubscriptionsActive.Inc()
	go sub.pump()

	return sub, nil
}

// redisSubscription adapts a Redis pubsub channel to the Subscription contract
type redisSubscription struct {
	topic     string
	pubsub    *redis.PubSub
	events    chan *domain.Event
	closeOnce sync.Once
}

// pump decodes Redis payloads into typed events until the pubsub closes
func (s *redisSubscription) pump() {
	defer func() {
		close(s.events)
		metrics.FeedSubscriptionsActive.Dec()
	}()

	for msg := range s.pubsub.Channel() {
		event := &domain.Event{}
		if err := json.Unmarshal([]byte(msg.Payload), event); err != nil {
			logger.Warn("Dropping malformed feed event",
				zap.String("topic", s.topic),
				zap.Error(err),
			)
			metrics.FeedEventsDroppedTotal.WithLabelValues("malformed").Inc()
			continue
		}

		select {
		case s.events <- event:
		default:
			// Slow consumer: drop rather than block the pump. The consumer
			// re-sorts from the store on its next history load.
			metrics.FeedEventsDroppedTotal.WithLabelValues("slow_consumer").Inc()
		}
	}
}

// Events returns the event stream
func (s *redisSubscription) Events() <-chan *domain.Event {
	return s.events
}

// Close releases the subscription
func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
