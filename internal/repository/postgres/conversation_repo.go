package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomhub-messaging/internal/domain"
)

// ErrConversationNotFound is returned when a conversation row does not exist
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository handles conversation storage
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// ResolveOrCreate returns the conversation for the normalized pair (lo, hi)
// and listing scope, creating it if absent. The whole lookup-or-create is a
// single INSERT ... ON CONFLICT statement, so concurrent callers for the
// same pair always converge on one conversation id.
// listingKey is uuid.Nil when the deployment does not scope per listing.
func (r *ConversationRepository) ResolveOrCreate(ctx context.Context, lo, hi uuid.UUID, listingID *uuid.UUID, listingKey uuid.UUID) (*domain.Conversation, bool, error) {
	proposed := uuid.New()

	query := `
		INSERT INTO conversations (
			conversation_id, user_lo, user_hi, listing_id, listing_key, created_at
		) VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_lo, user_hi, listing_key)
		DO UPDATE SET user_lo = conversations.user_lo
		RETURNING conversation_id, user_lo, user_hi, listing_id,
		          last_message_body, last_message_at, created_at
	`

	conversation := &domain.Conversation{}
	err := r.pool.QueryRow(ctx, query, proposed, lo, hi, listingID, listingKey).Scan(
		&conversation.ConversationID,
		&conversation.UserLo,
		&conversation.UserHi,
		&conversation.ListingID,
		&conversation.LastMessageBody,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve conversation: %w", err)
	}

	created := conversation.ConversationID == proposed
	return conversation, created, nil
}

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, user_lo, user_hi, listing_id,
		       last_message_body, last_message_at, created_at
		FROM conversations
		WHERE conversation_id = $1
	`

	conversation := &domain.Conversation{}
	err := r.pool.QueryRow(ctx, query, conversationID).Scan(
		&conversation.ConversationID,
		&conversation.UserLo,
		&conversation.UserHi,
		&conversation.ListingID,
		&conversation.LastMessageBody,
		&conversation.LastMessageAt,
		&conversation.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conversation, nil
}

// InboxRow is one inbox entry before label resolution.
type InboxRow struct {
	Conversation domain.Conversation
	UnreadCount  int
}

// ListForUser retrieves a user's conversations with their unread counts,
// newest activity first. Conversations with no messages sort by creation
// time.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*InboxRow, error) {
	query := `
		SELECT c.conversation_id, c.user_lo, c.user_hi, c.listing_id,
		       c.last_message_body, c.last_message_at, c.created_at,
		       COALESCE(rs.unread_count, 0)
		FROM conversations c
		LEFT JOIN read_state rs
		       ON rs.conversation_id = c.conversation_id AND rs.user_id = $1
		WHERE c.user_lo = $1 OR c.user_hi = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var result []*InboxRow
	for rows.Next() {
		row := &InboxRow{}
		err := rows.Scan(
			&row.Conversation.ConversationID,
			&row.Conversation.UserLo,
			&row.Conversation.UserHi,
			&row.Conversation.ListingID,
			&row.Conversation.LastMessageBody,
			&row.Conversation.LastMessageAt,
			&row.Conversation.CreatedAt,
			&row.UnreadCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}

	return result, nil
}

// IsParticipant checks if a user belongs to a conversation
func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM conversations
			WHERE conversation_id = $1 AND (user_lo = $2 OR user_hi = $2)
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return exists, nil
}

// touchLastMessage refreshes the denormalized preview fields inside an
// append transaction.
func touchLastMessage(ctx context.Context, tx pgx.Tx, conversationID uuid.UUID, body string, at time.Time) error {
	query := `
		UPDATE conversations
		SET last_message_body = $2, last_message_at = $3
		WHERE conversation_id = $1
	`
	if _, err := tx.Exec(ctx, query, conversationID, body, at); err != nil {
		return fmt.Errorf("failed to update conversation preview: %w", err)
	}
	return nil
}
