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
	"roomhub-messaging/internal/service/chat"
	apperrors "roomhub-messaging/pkg/errors"
)

// fakeChat is an in-memory message backend wired to a MemoryFeed, standing
// in for the chat service.
type fakeChat struct {
	mu        sync.Mutex
	feed      *feed.MemoryFeed
	messages  map[uuid.UUID][]*domain.Message
	readMarks map[uuid.UUID][]uuid.UUID // conversation -> readers
	failSends bool
	clock     time.Time
}

func newFakeChat(f *feed.MemoryFeed) *fakeChat {
	return &fakeChat{
		feed:      f,
		messages:  make(map[uuid.UUID][]*domain.Message),
		readMarks: make(map[uuid.UUID][]uuid.UUID),
		clock:     time.Now(),
	}
}

func (f *fakeChat) seed(conversationID, senderID uuid.UUID, content string) *domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Second)
	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      f.clock,
	}
	f.messages[conversationID] = append(f.messages[conversationID], message)
	return message
}

func (f *fakeChat) SendMessage(ctx context.Context, input *chat.SendMessageInput) (*chat.SendMessageOutput, error) {
	f.mu.Lock()
	if f.failSends {
		f.mu.Unlock()
		return nil, apperrors.WriteFailedError(assert.AnError)
	}
	f.clock = f.clock.Add(time.Second)
	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		Content:        input.Content,
		CreatedAt:      f.clock,
	}
	f.messages[input.ConversationID] = append(f.messages[input.ConversationID], message)
	f.mu.Unlock()

	f.feed.Publish(ctx, domain.MessageTopic(input.ConversationID), &domain.Event{
		Type:  domain.EventInsert,
		Table: domain.TableMessages,
		New:   message,
	})
	return &chat.SendMessageOutput{Message: message}, nil
}

func (f *fakeChat) GetMessages(ctx context.Context, input *chat.GetMessagesInput) (*chat.GetMessagesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := make([]*domain.Message, len(f.messages[input.ConversationID]))
	copy(history, f.messages[input.ConversationID])
	domain.SortMessages(history)
	return &chat.GetMessagesOutput{Messages: history}, nil
}

func (f *fakeChat) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readMarks[conversationID] = append(f.readMarks[conversationID], readerID)
	return nil
}

func (f *fakeChat) readMarkCount(conversationID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.readMarks[conversationID])
}

// fakeResolver maps normalized pairs to stable conversation ids.
type fakeResolver struct {
	mu    sync.Mutex
	pairs map[[2]uuid.UUID]uuid.UUID
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{pairs: make(map[[2]uuid.UUID]uuid.UUID)}
}

func (r *fakeResolver) Resolve(ctx context.Context, selfID, partnerID uuid.UUID, listingID *uuid.UUID) (*domain.ResolveConversationResponse, error) {
	lo, hi := domain.NormalizePair(selfID, partnerID)
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]uuid.UUID{lo, hi}
	id, ok := r.pairs[key]
	if !ok {
		id = uuid.New()
		r.pairs[key] = id
	}
	return &domain.ResolveConversationResponse{ConversationID: id, Created: !ok}, nil
}

// recordingListener captures view callbacks.
type recordingListener struct {
	mu           sync.Mutex
	histories    [][]*domain.Message
	messages     []*domain.Message
	deleted      []uuid.UUID
	sendFailures []string
}

func (l *recordingListener) OnHistory(conversationID uuid.UUID, messages []*domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.histories = append(l.histories, messages)
}

func (l *recordingListener) OnMessage(conversationID uuid.UUID, message *domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, message)
}

func (l *recordingListener) OnMessageDeleted(conversationID uuid.UUID, messageID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted = append(l.deleted, messageID)
}

func (l *recordingListener) OnSendFailed(conversationID uuid.UUID, content string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendFailures = append(l.sendFailures, content)
}

func (l *recordingListener) failures() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.sendFailures...)
}

func contents(messages []*domain.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Content
	}
	return out
}

func TestSelectLoadsHistory(t *testing.T) {
	memFeed := feed.NewMemoryFeed()
	backend := newFakeChat(memFeed)
	listener := &recordingListener{}

	userID := uuid.New()
	partnerID := uuid.New()
	conversationID := uuid.New()
	backend.seed(conversationID, partnerID, "first")
	backend.seed(conversationID, userID, "second")

	s := New(userID, backend, newFakeResolver(), memFeed, listener)
	defer s.Close()

	assert.Equal(t, StateIdle, s.State())
	assert.NoError(t, s.Select(context.Background(), conversationID))
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, conversationID, s.ActiveConversation())

	assert.Equal(t, []string{"first", "second"}, contents(s.Snapshot()))
	assert.Len(t, listener.histories, 1)
	assert.Equal(t, 1, backend.readMarkCount(conversationID), "selecting marks the conversation read")
}

func TestSendOptimisticEcho(t *testing.T) {
	memFeed := feed.NewMemoryFeed()
	backend := newFakeChat(memFeed)
	listener := &recordingListener{}

	userID := uuid.New()
	conversationID := uuid.New()
	s := New(userID, backend, newFakeResolver(), memFeed, listener)
	defer s.Close()

	assert.NoError(t, s.Select(context.Background(), conversationID))
	assert.NoError(t, s.Send(context.Background(), "hello"))

	// The persisted copy also arrives through the feed; the view must hold
	// the message exactly once, no longer provisional.
	assert.Eventually(t, func() bool {
		snapshot := s.Snapshot()
		return len(snapshot) == 1 && !snapshot[0].Provisional
	}, time.Second, 10*time.Millisecond)

	// The first callback was the provisional echo.
	listener.mu.Lock()
	firstWasProvisional := len(listener.messages) > 0 && listener.messages[0].Provisional
	listener.mu.Unlock()
	assert.True(t, firstWasProvisional)
}

func TestSendFailureRollsBack(t *testing.T) {
	memFeed := feed.NewMemoryFeed()
	backend := newFakeChat(memFeed)
	backend.failSends = true
	listener := &recordingListener{}

	s := New(uuid.New(), backend, newFakeResolver(), memFeed, listener)
	defer s.Close()

	conversationID := uuid.New()
	assert.NoError(t, s.Select(context.Background(), conversationID))

	err := s.Send(context.Background(), "lost draft")
	assert.Error(t, err)

	assert.Empty(t, s.Snapshot(), "provisional echo rolled back")
	assert.Equal(t, []string{"lost draft"}, listener.failures(), "content handed back for retry")
}

func TestSendWithoutSelection(t *testing.T) {
	memFeed := feed.NewMemoryFeed()
	s := New(uuid.New(), newFakeChat(memFeed), newFakeResolver(), memFeed, &recordingListener{})
	defer s.Close()

	err := s.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrNoActiveConversation)
}

func TestIncomingEventsResorted(t *testing.T) {
	memFeed := feed.NewMemoryFeed()
	backend := newFakeChat(memFeed)

	userID := uuid.New()
	partnerID := uuid.New()
	conversationID := uuid.New()
	s := New(userID, backend, newFakeResolver(), memFeed, &recordingListener{})
	defer s.Close()

	assert.NoError(t, s.Select(context.Background(), conversationID))

	base := time.Now()
	newer := &domain.Message{MessageID: uuid.New(), ConversationID: conversationID, SenderID: partnerID, Content: "newer", CreatedAt: base.Add(2 * time.Second)}
	older := &domain.Message{MessageID: uuid.New(), ConversationID: conversationID, SenderID: partnerID, Content: "older", CreatedAt: base}

	topic := domain.MessageTopic(conversationID)
	ctx := context.Background()
	memFeed.Publish(ctx, topic, &domain.Event{Type: domain.EventInsert, Table: domain.TableMessages, New: newer})
	memFeed.Publish(ctx, topic, &domain.Event{Type: domain.EventInsert, Table: domain.TableMessages, New: older})

	assert.Eventually(t, func() bool {
		snapshot := s.Snapshot()
		return len(snapshot) == 2 && snapshot[0].Content == "older" && snapshot[1].Content == "newer"
	}, time.Second, 10*time.Millisecond, "out-of-order arrival repaired by timestamp sort")
}

func TestDuplicateEventsIgnored(t *testing.T) {
	memFeed := feed.NewMemoryFeed()
	backend := newFakeChat(memFeed)

	conversationID := uuid.New()
	s := New(uuid.New(), backend, newFakeResolver(), memFeed, &recordingListener{})
	defer s.Close()

	assert.NoError(t, s.Select(context.Background(), conversationID))

	message := &domain.Message{MessageID: uuid.New(), ConversationID: conversationID, SenderID: uuid.New(), Content: "once", CreatedAt: time.Now()}
	event := &domain.Event{Type: domain.EventInsert, Table: domain.TableMessages, New: message}

	ctx := context.Background()
	topic := domain.MessageTopic(conversationID)
	memFeed.Publish(ctx, topic, event)
	memFeed.Publish(ctx, topic, event)

	assert.Eventually(t, func() bool {
		return len(s.Snapshot()) == 1
	}, time.Second, 10*time.Millisecond)

	// Give the duplicate a chance to land, then confirm it was dropped.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, s.Snapshot(), 1)
}

func TestDeleteEventRemovesMessage(t *testing.T) {
	memFeed := feed.NewMemoryFeed()
	backend := newFakeChat(memFeed)
	listener := &recordingListener{}

	userID := uuid.New()
	conversationID := uuid.New()
	seeded := backend.seed(conversationID, userID, "retracted")

	s := New(userID, backend, newFakeResolver(), memFeed, listener)
	defer s.Close()

	assert.NoError(t, s.Select(context.Background(), conversationID))
	assert.Len(t, s.Snapshot(), 1)

	memFeed.Publish(context.Background(), domain.MessageTopic(conversationID), &domain.Event{
		Type:  domain.EventDelete,
		Table: domain.TableMessages,
		Old:   seeded,
	})

	assert.Eventually(t, func() bool {
		return len(s.Snapshot()) == 0
	}, time.Second, 10*time.Millisecond)

	listener.mu.Lock()
	deleted := append([]uuid.UUID(nil), listener.deleted...)
	listener.mu.Unlock()
	assert.Equal(t, []uuid.UUID{seeded.MessageID}, deleted)
}

func TestIncomingPartnerMessageMarkedRead(t *testing.T) {
	memFeed := feed.NewMemoryFeed()
	backend := newFakeChat(memFeed)

	userID := uuid.New()
	partnerID := uuid.New()
	conversationID := uuid.New()
	s := New(userID, backend, newFakeResolver(), memFeed, &recordingListener{})
	defer s.Close()

	assert.NoError(t, s.Select(context.Background(), conversationID))
	marksAfterSelect := backend.readMarkCount(conversationID)

	memFeed.Publish(context.Background(), domain.MessageTopic(conversationID), &domain.Event{
		Type:  domain.EventInsert,
		Table: domain.TableMessages,
		New:   &domain.Message{MessageID: uuid.New(), ConversationID: conversationID, SenderID: partnerID, Content: "hi", CreatedAt: time.Now()},
	})

	// The conversation is on screen: delivery itself marks it read.
	assert.Eventually(t, func() bool {
		return backend.readMarkCount(conversationID) > marksAfterSelect
	}, time.Second, 10*time.Millisecond)
}

func TestSupersededSelectDiscarded(t *testing.T) {
	memFeed := feed.NewMemoryFeed()
	backend := newFakeChat(memFeed)

	userID := uuid.New()
	slowConv := uuid.New()
	fastConv := uuid.New()
	backend.seed(slowConv, uuid.New(), "slow history")
	backend.seed(fastConv, uuid.New(), "fast history")

	gate := make(chan struct{})
	slow := &gatedChat{fakeChat: backend, gate: gate, slowFor: slowConv, fetching: make(chan struct{})}

	s := New(userID, slow, newFakeResolver(), memFeed, &recordingListener{})
	defer s.Close()

	done := make(chan error, 1)
	go func() { done <- s.Select(context.Background(), slowConv) }()

	// Wait until the slow fetch is in flight, then supersede it.
	select {
	case <-slow.fetching:
	case <-time.After(time.Second):
		t.Fatal("slow fetch never started")
	}
	assert.NoError(t, s.Select(context.Background(), fastConv))

	close(gate)
	assert.NoError(t, <-done)

	assert.Equal(t, fastConv, s.ActiveConversation())
	assert.Equal(t, []string{"fast history"}, contents(s.Snapshot()), "stale history never rendered")
	assert.Equal(t, 0, memFeed.SubscriberCount(domain.MessageTopic(slowConv)), "superseded subscription released")
}

// gatedChat blocks history fetches for one conversation until gate closes.
type gatedChat struct {
	*fakeChat
	gate     chan struct{}
	slowFor  uuid.UUID
	fetching chan struct{}
	once     sync.Once
}

func (g *gatedChat) GetMessages(ctx context.Context, input *chat.GetMessagesInput) (*chat.GetMessagesOutput, error) {
	if input.ConversationID == g.slowFor {
		g.once.Do(func() { close(g.fetching) })
		<-g.gate
	}
	return g.fakeChat.GetMessages(ctx, input)
}

func TestCloseReleasesSubscription(t *testing.T) {
	memFeed := feed.NewMemoryFeed()
	backend := newFakeChat(memFeed)

	conversationID := uuid.New()
	s := New(uuid.New(), backend, newFakeResolver(), memFeed, &recordingListener{})

	assert.NoError(t, s.Select(context.Background(), conversationID))
	topic := domain.MessageTopic(conversationID)
	assert.Equal(t, 1, memFeed.SubscriberCount(topic))

	s.Close()
	assert.Equal(t, 0, memFeed.SubscriberCount(topic))
	assert.Equal(t, StateIdle, s.State())

	// Idempotent
	s.Close()
}

func TestTwoSessionsConverge(t *testing.T) {
	memFeed := feed.NewMemoryFeed()
	backend := newFakeChat(memFeed)
	resolver := newFakeResolver()

	alice := uuid.New()
	bob := uuid.New()

	aliceSession := New(alice, backend, resolver, memFeed, &recordingListener{})
	defer aliceSession.Close()
	bobSession := New(bob, backend, resolver, memFeed, &recordingListener{})
	defer bobSession.Close()

	ctx := context.Background()

	aliceConv, err := aliceSession.SelectPartner(ctx, bob, nil)
	assert.NoError(t, err)
	bobConv, err := bobSession.SelectPartner(ctx, alice, nil)
	assert.NoError(t, err)
	assert.Equal(t, aliceConv, bobConv, "both directions resolve to one conversation")

	assert.NoError(t, aliceSession.Send(ctx, "is the room free in May?"))

	assert.Eventually(t, func() bool {
		snapshot := bobSession.Snapshot()
		return len(snapshot) == 1 && snapshot[0].Content == "is the room free in May?"
	}, time.Second, 10*time.Millisecond)

	assert.NoError(t, bobSession.Send(ctx, "yes, from the 3rd"))

	expected := []string{"is the room free in May?", "yes, from the 3rd"}
	for _, s := range []*Session{aliceSession, bobSession} {
		session := s
		assert.Eventually(t, func() bool {
			snapshot := session.Snapshot()
			return len(snapshot) == 2 &&
				snapshot[0].Content == expected[0] &&
				snapshot[1].Content == expected[1]
		}, time.Second, 10*time.Millisecond, "both views converge on the same order")
	}
}
