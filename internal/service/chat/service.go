// Package chat implements the message-log operations: append, history
// listing, read marking, and soft deletion, with change-feed fan-out.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roomhub-messaging/internal/domain"
	"roomhub-messaging/internal/feed"
	"roomhub-messaging/internal/repository/postgres"
	apperrors "roomhub-messaging/pkg/errors"
	"roomhub-messaging/pkg/logger"
	"roomhub-messaging/pkg/metrics"
	"roomhub-messaging/pkg/pagination"
	"roomhub-messaging/pkg/sanitize"
)

// MessageStore is the message storage contract
type MessageStore interface {
	Append(ctx context.Context, conversationID, senderID, receiverID uuid.UUID, content string) (*domain.Message, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int, cursor *pagination.Cursor) ([]*domain.Message, error)
	SoftDelete(ctx context.Context, messageID, senderID uuid.UUID) (*domain.Message, error)
}

// ConversationStore is the conversation lookup contract
type ConversationStore interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// ReadStateStore is the read-cursor contract
type ReadStateStore interface {
	MarkRead(ctx context.Context, conversationID, userID uuid.UUID) error
	Get(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ReadState, error)
	TotalUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// Service handles message-log business logic
type Service struct {
	messages      MessageStore
	conversations ConversationStore
	readStates    ReadStateStore
	feed          feed.Feed
	historyLimit  int
}

// NewService creates a new chat service
func NewService(
	messages MessageStore,
	conversations ConversationStore,
	readStates ReadStateStore,
	changeFeed feed.Feed,
	historyLimit int,
) *Service {
	if historyLimit <= 0 {
		historyLimit = pagination.DefaultMessageLimit
	}
	return &Service{
		messages:      messages,
		conversations: conversations,
		readStates:    readStates,
		feed:          changeFeed,
		historyLimit:  historyLimit,
	}
}

// SendMessageInput contains message data
type SendMessageInput struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Content        string
}

// SendMessageOutput contains the persisted message
type SendMessageOutput struct {
	Message *domain.Message
}

// SendMessage validates, stores, and fans out a message. Content that is
// empty after trimming is rejected before any store call. The feed publish
// is best-effort: a failed publish is logged but never fails a persisted
// send.
func (s *Service) SendMessage(ctx context.Context, input *SendMessageInput) (*SendMessageOutput, error) {
	content := sanitize.MessageContent(input.Content)
	if content == "" {
		metrics.MessageSentTotal.WithLabelValues("empty").Inc()
		return nil, apperrors.EmptyContentError()
	}
	if !sanitize.ValidateMessageLength(content) {
		return nil, apperrors.ValidationError("message content too long")
	}

	conversation, err := s.conversations.GetByID(ctx, input.ConversationID)
	if err != nil {
		if errors.Is(err, postgres.ErrConversationNotFound) {
			return nil, apperrors.ConversationNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}

	receiverID, ok := conversation.PartnerOf(input.SenderID)
	if !ok {
		return nil, apperrors.ForbiddenError("sender is not a participant")
	}

	persistStart := time.Now()
	message, err := s.messages.Append(ctx, input.ConversationID, input.SenderID, receiverID, content)
	if err != nil {
		metrics.MessageSentTotal.WithLabelValues("write_failed").Inc()
		return nil, apperrors.WriteFailedError(err)
	}
	metrics.MessageDeliveryDuration.WithLabelValues("persist").Observe(time.Since(persistStart).Seconds())
	metrics.MessageSentTotal.WithLabelValues("ok").Inc()

	s.publishMessageEvent(ctx, domain.EventInsert, message, conversation)

	return &SendMessageOutput{Message: message}, nil
}

// publishMessageEvent fans a message change out to the per-conversation
// topic and both participants' inbox topics. Best-effort.
func (s *Service) publishMessageEvent(ctx context.Context, eventType string, message *domain.Message, conversation *domain.Conversation) {
	publishStart := time.Now()

	event := &domain.Event{
		Type:  eventType,
		Table: domain.TableMessages,
	}
	if eventType == domain.EventDelete {
		event.Old = message
	} else {
		event.New = message
	}

	topics := []string{
		domain.MessageTopic(message.ConversationID),
		domain.InboxTopic(conversation.UserLo),
		domain.InboxTopic(conversation.UserHi),
	}
	for _, topic := range topics {
		if err := s.feed.Publish(ctx, topic, event); err != nil {
			metrics.MessagePublishedTotal.WithLabelValues("error").Inc()
			logger.Warn("Failed to publish message event",
				zap.String("topic", topic),
				logger.Conversation(message.ConversationID),
				zap.Error(err),
			)
			continue
		}
		metrics.MessagePublishedTotal.WithLabelValues("ok").Inc()
	}

	metrics.MessageDeliveryDuration.WithLabelValues("publish").Observe(time.Since(publishStart).Seconds())
}

// GetMessagesInput contains history query parameters
type GetMessagesInput struct {
	ConversationID uuid.UUID
	ReaderID       uuid.UUID
	Limit          int
	Cursor         *pagination.Cursor
}

// GetMessagesOutput contains the message page in display order
type GetMessagesOutput struct {
	Messages   []*domain.Message
	NextCursor string
}

// GetMessages retrieves a page of conversation history, ascending by server
// timestamp, soft-deleted rows excluded. The limit bounds transfer, not
// completeness; NextCursor fetches older history.
func (s *Service) GetMessages(ctx context.Context, input *GetMessagesInput) (*GetMessagesOutput, error) {
	conversation, err := s.conversations.GetByID(ctx, input.ConversationID)
	if err != nil {
		if errors.Is(err, postgres.ErrConversationNotFound) {
			return nil, apperrors.ConversationNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	if !conversation.HasParticipant(input.ReaderID) {
		return nil, apperrors.ForbiddenError("reader is not a participant")
	}

	limit := input.Limit
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	limit = pagination.ClampMessageLimit(limit)

	messages, err := s.messages.ListByConversation(ctx, input.ConversationID, limit, input.Cursor)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	output := &GetMessagesOutput{Messages: messages}
	if len(messages) == limit {
		oldest := messages[0]
		cursor := &pagination.Cursor{CreatedAt: oldest.CreatedAt, MessageID: oldest.MessageID}
		output.NextCursor = cursor.Encode()
	}

	return output, nil
}

// MarkRead advances the reader's cursor and zeroes the unread counter.
// Idempotent; callers treat failures as best-effort.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) error {
	ok, err := s.conversations.IsParticipant(ctx, conversationID, readerID)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	if !ok {
		return apperrors.ForbiddenError("reader is not a participant")
	}

	if err := s.readStates.MarkRead(ctx, conversationID, readerID); err != nil {
		metrics.MarkReadTotal.WithLabelValues("error").Inc()
		return apperrors.ReadMarkFailedError(err)
	}

	metrics.MarkReadTotal.WithLabelValues("ok").Inc()
	return nil
}

// DeleteMessage soft-deletes a message written by userID and fans out a
// delete event so open views drop it from their rendered sequence.
func (s *Service) DeleteMessage(ctx context.Context, messageID, userID uuid.UUID) error {
	message, err := s.messages.SoftDelete(ctx, messageID, userID)
	if err != nil {
		if errors.Is(err, postgres.ErrMessageNotFound) {
			return apperrors.MessageNotFoundError()
		}
		return apperrors.DatabaseError(err)
	}

	conversation, err := s.conversations.GetByID(ctx, message.ConversationID)
	if err != nil {
		logger.Warn("Deleted message in unknown conversation",
			logger.Conversation(message.ConversationID),
			zap.Error(err),
		)
		return nil
	}

	s.publishMessageEvent(ctx, domain.EventDelete, message, conversation)
	return nil
}

// GetReadState returns the reader's cursor for a conversation. Missing rows
// read as a zero-value state, so a conversation the user never opened shows
// as fully unread rather than an error.
func (s *Service) GetReadState(ctx context.Context, conversationID, readerID uuid.UUID) (*domain.ReadState, error) {
	ok, err := s.conversations.IsParticipant(ctx, conversationID, readerID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !ok {
		return nil, apperrors.ForbiddenError("reader is not a participant")
	}

	state, err := s.readStates.Get(ctx, conversationID, readerID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return state, nil
}

// TotalUnread returns the aggregate unread badge for a user
func (s *Service) TotalUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	total, err := s.readStates.TotalUnread(ctx, userID)
	if err != nil {
		return 0, apperrors.DatabaseError(err)
	}
	return total, nil
}
