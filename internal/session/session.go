// Package session tracks a connected client's live view of the message
// store: the selected conversation, its ordered message list, optimistic
// local echoes, and the feed subscription that keeps the view current.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roomhub-messaging/internal/domain"
	"roomhub-messaging/internal/feed"
	"roomhub-messaging/internal/service/chat"
	"roomhub-messaging/pkg/logger"
	"roomhub-messaging/pkg/metrics"
)

// State is the session lifecycle phase
type State int

// Session states.
const (
	StateIdle State = iota
	StateLoading
	StateActive
)

// ChatAPI is the message-log surface the session drives
type ChatAPI interface {
	SendMessage(ctx context.Context, input *chat.SendMessageInput) (*chat.SendMessageOutput, error)
	GetMessages(ctx context.Context, input *chat.GetMessagesInput) (*chat.GetMessagesOutput, error)
	MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) error
}

// ConversationResolver maps a partner (and optional listing) to a
// conversation id, creating the conversation on first contact
type ConversationResolver interface {
	Resolve(ctx context.Context, selfID, partnerID uuid.UUID, listingID *uuid.UUID) (*domain.ResolveConversationResponse, error)
}

// Listener receives view updates. Callbacks run outside the session lock
// but are never concurrent with each other for the same session.
type Listener interface {
	OnHistory(conversationID uuid.UUID, messages []*domain.Message)
	OnMessage(conversationID uuid.UUID, message *domain.Message)
	OnMessageDeleted(conversationID uuid.UUID, messageID uuid.UUID)
	OnSendFailed(conversationID uuid.UUID, content string, err error)
}

// Session is one client's stateful view. All exported methods are safe for
// concurrent use; feed events and user actions interleave through the same
// lock.
type Session struct {
	mu       sync.Mutex
	userID   uuid.UUID
	chat     ChatAPI
	resolver ConversationResolver
	feed     feed.Feed
	listener Listener

	state    State
	active   uuid.UUID
	epoch    uint64
	messages []*domain.Message
	byID     map[uuid.UUID]*domain.Message
	sub      feed.Subscription
	closed   bool
}

// New creates a session for a user
func New(userID uuid.UUID, chatAPI ChatAPI, resolver ConversationResolver, changeFeed feed.Feed, listener Listener) *Session {
	return &Session{
		userID:   userID,
		chat:     chatAPI,
		resolver: resolver,
		feed:     changeFeed,
		listener: listener,
		state:    StateIdle,
		byID:     make(map[uuid.UUID]*domain.Message),
	}
}

// State returns the current lifecycle phase
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveConversation returns the selected conversation id, or uuid.Nil
func (s *Session) ActiveConversation() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return uuid.Nil
	}
	return s.active
}

// Snapshot returns a copy of the current ordered message list
func (s *Session) Snapshot() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// SelectPartner resolves a conversation with partnerID and selects it.
// This is the deep-link entry point: the conversation is created on first
// contact.
func (s *Session) SelectPartner(ctx context.Context, partnerID uuid.UUID, listingID *uuid.UUID) (uuid.UUID, error) {
	resolved, err := s.resolver.Resolve(ctx, s.userID, partnerID, listingID)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.Select(ctx, resolved.ConversationID); err != nil {
		return uuid.Nil, err
	}
	return resolved.ConversationID, nil
}

// Select switches the session to a conversation. The feed subscription is
// opened before history is fetched so no event falls between the two; any
// overlap is deduplicated by message id. A select that is superseded by a
// newer one before its history arrives is discarded, never rendered.
func (s *Session) Select(ctx context.Context, conversationID uuid.UUID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return context.Canceled
	}
	s.epoch++
	myEpoch := s.epoch
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
	s.state = StateLoading
	s.active = conversationID
	s.messages = nil
	s.byID = make(map[uuid.UUID]*domain.Message)
	s.mu.Unlock()

	sub, err := s.feed.Subscribe(ctx, domain.MessageTopic(conversationID))
	if err != nil {
		s.abortSelect(myEpoch)
		return err
	}

	history, err := s.chat.GetMessages(ctx, &chat.GetMessagesInput{
		ConversationID: conversationID,
		ReaderID:       s.userID,
	})
	if err != nil {
		sub.Close()
		s.abortSelect(myEpoch)
		return err
	}

	s.mu.Lock()
	if s.epoch != myEpoch {
		s.mu.Unlock()
		sub.Close()
		metrics.SessionStaleResponseDroppedTotal.Inc()
		return nil
	}
	s.messages = history.Messages
	for _, m := range s.messages {
		s.byID[m.MessageID] = m
	}
	s.sub = sub
	s.state = StateActive
	s.mu.Unlock()

	go s.pump(sub, myEpoch)

	if err := s.chat.MarkRead(ctx, conversationID, s.userID); err != nil {
		logger.Warn("Failed to mark conversation read on select",
			logger.Conversation(conversationID),
			logger.User(s.userID),
			zap.Error(err),
		)
	}

	if s.listener != nil {
		s.listener.OnHistory(conversationID, history.Messages)
	}
	return nil
}

// abortSelect returns the session to idle after a failed select, unless a
// newer select already took over.
func (s *Session) abortSelect(myEpoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == myEpoch {
		s.state = StateIdle
	}
}

// Send appends a message to the active conversation. A provisional copy is
// echoed into the local view immediately; on write failure it is rolled
// back and the content handed back through OnSendFailed so the caller can
// restore it for retry.
func (s *Session) Send(ctx context.Context, content string) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return domain.ErrNoActiveConversation
	}
	conversationID := s.active
	myEpoch := s.epoch

	provisional := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: conversationID,
		SenderID:       s.userID,
		Content:        content,
		CreatedAt:      time.Now(),
		Provisional:    true,
	}
	s.messages = append(s.messages, provisional)
	s.byID[provisional.MessageID] = provisional
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.OnMessage(conversationID, provisional)
	}

	output, err := s.chat.SendMessage(ctx, &chat.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       s.userID,
		Content:        content,
	})
	if err != nil {
		s.rollback(myEpoch, provisional.MessageID)
		metrics.SessionOptimisticRollbackTotal.Inc()
		if s.listener != nil {
			s.listener.OnSendFailed(conversationID, content, err)
		}
		return err
	}

	s.confirm(myEpoch, provisional.MessageID, output.Message)
	if s.listener != nil {
		s.listener.OnMessage(conversationID, output.Message)
	}
	return nil
}

// rollback removes a provisional message after a failed write.
func (s *Session) rollback(myEpoch uint64, provisionalID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != myEpoch {
		return
	}
	s.removeLocked(provisionalID)
}

// confirm swaps a provisional message for its persisted form. The same
// message may already have arrived through the feed; the provisional copy
// is dropped either way and the persisted row kept exactly once.
func (s *Session) confirm(myEpoch uint64, provisionalID uuid.UUID, persisted *domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != myEpoch {
		return
	}
	s.removeLocked(provisionalID)
	if _, seen := s.byID[persisted.MessageID]; !seen {
		s.messages = append(s.messages, persisted)
		s.byID[persisted.MessageID] = persisted
		domain.SortMessages(s.messages)
	}
}

// pump applies feed events for one subscription until it closes.
func (s *Session) pump(sub feed.Subscription, myEpoch uint64) {
	for event := range sub.Events() {
		s.applyEvent(myEpoch, event)
	}
}

// applyEvent folds one feed event into the view. Events from a superseded
// subscription are ignored. Duplicates (the persisted copy of a message the
// view already holds) are no-ops; arrival order is repaired by re-sorting
// on the server timestamp.
func (s *Session) applyEvent(myEpoch uint64, event *domain.Event) {
	s.mu.Lock()
	if s.epoch != myEpoch || s.state != StateActive {
		s.mu.Unlock()
		return
	}
	conversationID := s.active

	var notifyMessage *domain.Message
	var notifyDeleted uuid.UUID
	var markRead bool

	switch event.Type {
	case domain.EventInsert, domain.EventUpdate:
		message := event.New
		if message == nil {
			break
		}
		if existing, seen := s.byID[message.MessageID]; seen {
			*existing = *message
		} else {
			s.messages = append(s.messages, message)
			s.byID[message.MessageID] = message
			domain.SortMessages(s.messages)
			notifyMessage = message
			markRead = message.SenderID != s.userID
		}
	case domain.EventDelete:
		if event.Old != nil && s.removeLocked(event.Old.MessageID) {
			notifyDeleted = event.Old.MessageID
		}
	}
	s.mu.Unlock()

	// The conversation is on screen, so an incoming message is read the
	// moment it lands.
	if markRead {
		if err := s.chat.MarkRead(context.Background(), conversationID, s.userID); err != nil {
			logger.Warn("Failed to mark conversation read on delivery",
				logger.Conversation(conversationID),
				zap.Error(err),
			)
		}
	}

	if s.listener != nil {
		if notifyMessage != nil {
			s.listener.OnMessage(conversationID, notifyMessage)
		}
		if notifyDeleted != uuid.Nil {
			s.listener.OnMessageDeleted(conversationID, notifyDeleted)
		}
	}
}

// removeLocked deletes a message from the view. Caller holds the lock.
func (s *Session) removeLocked(messageID uuid.UUID) bool {
	if _, seen := s.byID[messageID]; !seen {
		return false
	}
	delete(s.byID, messageID)
	for i, m := range s.messages {
		if m.MessageID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	return true
}

// Close releases the session's subscription. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.epoch++
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
	s.state = StateIdle
	s.messages = nil
	s.byID = make(map[uuid.UUID]*domain.Message)
}
