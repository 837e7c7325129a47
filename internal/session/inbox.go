package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roomhub-messaging/internal/domain"
	"roomhub-messaging/internal/feed"
	apperrors "roomhub-messaging/pkg/errors"
	"roomhub-messaging/pkg/logger"
	"roomhub-messaging/pkg/metrics"
	"roomhub-messaging/pkg/resilience"
)

// InboxListener receives aggregate events for a user: any message change in
// any of their conversations.
type InboxListener interface {
	OnInboxEvent(event *domain.Event)
	OnInboxLost(err error)
}

// InboxWatcher keeps a user's inbox subscription alive for the life of a
// connection, resubscribing when the feed drops it.
type InboxWatcher struct {
	userID   uuid.UUID
	feed     feed.Feed
	listener InboxListener
	policy   resilience.RetryPolicy

	mu     sync.Mutex
	sub    feed.Subscription
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewInboxWatcher creates a watcher for a user's inbox topic
func NewInboxWatcher(userID uuid.UUID, changeFeed feed.Feed, listener InboxListener) *InboxWatcher {
	return &InboxWatcher{
		userID:   userID,
		feed:     changeFeed,
		listener: listener,
		policy:   resilience.DefaultRetryPolicy,
		done:     make(chan struct{}),
	}
}

// Start subscribes and begins delivering events. It returns once the
// initial subscription is confirmed; delivery continues in the background
// until Stop.
func (w *InboxWatcher) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	sub, err := w.subscribe(ctx)
	if err != nil {
		cancel()
		close(w.done)
		return err
	}
	w.setSub(sub)

	go w.run(runCtx)
	return nil
}

// setSub swaps the live subscription so Stop can close it and unblock run.
func (w *InboxWatcher) setSub(sub feed.Subscription) {
	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()
}

func (w *InboxWatcher) currentSub() feed.Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sub
}

// subscribe opens the inbox subscription, retrying transient failures.
func (w *InboxWatcher) subscribe(ctx context.Context) (feed.Subscription, error) {
	var sub feed.Subscription
	err := resilience.Retry(ctx, w.policy, "inbox subscribe", func(ctx context.Context) error {
		var err error
		sub, err = w.feed.Subscribe(ctx, domain.InboxTopic(w.userID))
		return err
	})
	if err != nil {
		return nil, apperrors.FeedDisconnectedError(err)
	}
	return sub, nil
}

// run delivers events, resubscribing whenever the event channel closes
// under it. It gives up only when the retry policy is exhausted or the
// watcher is stopped.
func (w *InboxWatcher) run(ctx context.Context) {
	defer close(w.done)

	for {
		sub := w.currentSub()
		for event := range sub.Events() {
			w.listener.OnInboxEvent(event)
		}
		sub.Close()

		if ctx.Err() != nil {
			return
		}

		metrics.FeedResubscribeTotal.Inc()
		logger.Warn("Inbox subscription dropped, resubscribing",
			logger.User(w.userID),
		)

		next, err := w.subscribe(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("Failed to resubscribe to inbox",
					logger.User(w.userID),
					zap.Error(err),
				)
				w.listener.OnInboxLost(err)
			}
			return
		}
		w.setSub(next)
		if ctx.Err() != nil {
			next.Close()
			return
		}
	}
}

// Stop ends delivery and releases the subscription. Safe to call more than
// once.
func (w *InboxWatcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		if sub := w.currentSub(); sub != nil {
			sub.Close()
		}
	})
	<-w.done
}
