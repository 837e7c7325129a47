// Package directory builds the inbox view: a user's conversations with
// partner labels, escaped previews, and unread counts.
package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roomhub-messaging/internal/domain"
	"roomhub-messaging/internal/repository/postgres"
	"roomhub-messaging/pkg/cache"
	apperrors "roomhub-messaging/pkg/errors"
	"roomhub-messaging/pkg/logger"
	"roomhub-messaging/pkg/pagination"
	"roomhub-messaging/pkg/sanitize"
)

// InboxStore lists a user's conversations with unread counts
type InboxStore interface {
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*postgres.InboxRow, error)
}

// IdentityReader resolves a user id to a display label
type IdentityReader interface {
	GetDisplayName(ctx context.Context, userID uuid.UUID) (string, error)
}

// Service assembles inbox previews
type Service struct {
	conversations InboxStore
	identities    IdentityReader
	labels        *cache.LabelCache
}

// NewService creates a new directory service
func NewService(conversations InboxStore, identities IdentityReader, labels *cache.LabelCache) *Service {
	return &Service{
		conversations: conversations,
		identities:    identities,
		labels:        labels,
	}
}

// ListInboxInput contains inbox query parameters
type ListInboxInput struct {
	UserID uuid.UUID
	Limit  int
	Offset int
}

// ListInboxOutput contains the rendered inbox page
type ListInboxOutput struct {
	Conversations []*domain.ConversationPreview
}

// ListInbox returns the user's conversations ordered by most recent
// activity, each row carrying the partner's label, an escaped preview of
// the last message, and the unread count.
func (s *Service) ListInbox(ctx context.Context, input *ListInboxInput) (*ListInboxOutput, error) {
	limit := pagination.ClampInboxLimit(input.Limit)
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.conversations.ListForUser(ctx, input.UserID, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	previews := make([]*domain.ConversationPreview, 0, len(rows))
	for _, row := range rows {
		partnerID, ok := row.Conversation.PartnerOf(input.UserID)
		if !ok {
			continue
		}

		preview := &domain.ConversationPreview{
			ConversationID: row.Conversation.ConversationID,
			PartnerID:      partnerID,
			PartnerLabel:   s.partnerLabel(ctx, partnerID),
			ListingID:      row.Conversation.ListingID,
			UnreadCount:    row.UnreadCount,
			CreatedAt:      row.Conversation.CreatedAt,
			LastMessageAt:  row.Conversation.LastMessageAt,
		}
		if row.Conversation.LastMessageBody != nil {
			escaped := sanitize.EscapeForPreview(*row.Conversation.LastMessageBody)
			preview.LastMessageBody = &escaped
		}
		previews = append(previews, preview)
	}

	return &ListInboxOutput{Conversations: previews}, nil
}

// partnerLabel resolves a display label for a user, caching hits. Users
// without a display name fall back to a truncated id so the inbox never
// renders a blank sender.
func (s *Service) partnerLabel(ctx context.Context, partnerID uuid.UUID) string {
	if label, ok := s.labels.Get(partnerID); ok {
		return label
	}

	label, err := s.identities.GetDisplayName(ctx, partnerID)
	if err != nil && !errors.Is(err, postgres.ErrUserNotFound) {
		logger.Warn("Failed to resolve partner label",
			logger.User(partnerID),
			zap.Error(err),
		)
	}
	if label == "" {
		label = sanitize.TruncateLabel(partnerID.String(), 8)
	}

	s.labels.Set(partnerID, label)
	return label
}
