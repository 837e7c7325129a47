package feed

import (
	"context"
	"sync"

	"roomhub-messaging/internal/domain"
)

// MemoryFeed is an in-process Feed used by tests and single-node setups.
// Semantics match the Redis feed: fan-out to current subscribers, no
// replay, no cross-publisher ordering guarantee.
type MemoryFeed struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySubscription]struct{}
}

// NewMemoryFeed creates an in-memory change feed
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		topics: make(map[string]map[*memorySubscription]struct{}),
	}
}

// Publish delivers an event to all current subscribers of topic
func (f *MemoryFeed) Publish(ctx context.Context, topic string, event *domain.Event) error {
	f.mu.RLock()
	subs := make([]*memorySubscription, 0, len(f.topics[topic]))
	for sub := range f.topics[topic] {
		subs = append(subs, sub)
	}
	f.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(event)
	}
	return nil
}

// Subscribe opens a subscription to topic
func (f *MemoryFeed) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	sub := &memorySubscription{
		feed:   f,
		topic:  topic,
		events: make(chan *domain.Event, 64),
	}

	f.mu.Lock()
	if f.topics[topic] == nil {
		f.topics[topic] = make(map[*memorySubscription]struct{})
	}
	f.topics[topic][sub] = struct{}{}
	f.mu.Unlock()

	return sub, nil
}

// SubscriberCount reports the current number of subscribers on a topic.
// Test helper for verifying subscriptions are released.
func (f *MemoryFeed) SubscriberCount(topic string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.topics[topic])
}

type memorySubscription struct {
	feed   *MemoryFeed
	topic  string
	events chan *domain.Event

	mu     sync.Mutex
	closed bool
}

func (s *memorySubscription) deliver(event *domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		// Slow consumer: drop, as the Redis feed would.
	}
}

// Events returns the event stream
func (s *memorySubscription) Events() <-chan *domain.Event {
	return s.events
}

// Close releases the subscription
func (s *memorySubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.feed.mu.Lock()
	if subs, ok := s.feed.topics[s.topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.feed.topics, s.topic)
		}
	}
	s.feed.mu.Unlock()

	close(s.events)
	return nil
}
