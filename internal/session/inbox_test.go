package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"roomhub-messaging/internal/domain"
	"roomhub-messaging/internal/feed"
)

type recordingInboxListener struct {
	mu     sync.Mutex
	events []*domain.Event
	lost   int
}

func (l *recordingInboxListener) OnInboxEvent(event *domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingInboxListener) OnInboxLost(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lost++
}

func (l *recordingInboxListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func TestInboxWatcherDeliversEvents(t *testing.T) {
	memFeed := feed.NewMemoryFeed()
	listener := &recordingInboxListener{}
	userID := uuid.New()

	watcher := NewInboxWatcher(userID, memFeed, listener)
	assert.NoError(t, watcher.Start(context.Background()))
	defer watcher.Stop()

	memFeed.Publish(context.Background(), domain.InboxTopic(userID), &domain.Event{
		Type:  domain.EventInsert,
		Table: domain.TableMessages,
		New:   &domain.Message{MessageID: uuid.New()},
	})

	assert.Eventually(t, func() bool {
		return listener.count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestInboxWatcherIgnoresOtherUsers(t *testing.T) {
	memFeed := feed.NewMemoryFeed()
	listener := &recordingInboxListener{}
	userID := uuid.New()

	watcher := NewInboxWatcher(userID, memFeed, listener)
	assert.NoError(t, watcher.Start(context.Background()))
	defer watcher.Stop()

	memFeed.Publish(context.Background(), domain.InboxTopic(uuid.New()), &domain.Event{Type: domain.EventInsert})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, listener.count())
}

func TestInboxWatcherStopReleasesSubscription(t *testing.T) {
	memFeed := feed.NewMemoryFeed()
	userID := uuid.New()
	topic := domain.InboxTopic(userID)

	watcher := NewInboxWatcher(userID, memFeed, &recordingInboxListener{})
	assert.NoError(t, watcher.Start(context.Background()))
	assert.Equal(t, 1, memFeed.SubscriberCount(topic))

	watcher.Stop()
	assert.Equal(t, 0, memFeed.SubscriberCount(topic))

	// Idempotent
	watcher.Stop()
}
