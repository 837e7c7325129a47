package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomhub-messaging/internal/domain"
	"roomhub-messaging/pkg/pagination"
)

// ErrMessageNotFound is returned when a message row does not exist or the
// caller may not touch it
var ErrMessageNotFound = errors.New("message not found")

// MessageRepository handles message storage
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Append inserts a message with a server-assigned timestamp and, in the same
// transaction, refreshes the conversation's denormalized preview fields and
// increments the receiver's materialized unread counter. Returns the
// inserted row.
func (r *MessageRepository) Append(ctx context.Context, conversationID, senderID, receiverID uuid.UUID, content string) (*domain.Message, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}

	insertQuery := `
		INSERT INTO messages (message_id, conversation_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, insertQuery,
		message.MessageID,
		message.ConversationID,
		message.SenderID,
		message.Content,
	).Scan(&message.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := touchLastMessage(ctx, tx, conversationID, content, message.CreatedAt); err != nil {
		return nil, err
	}

	// The sender's own read state must not grow; only the receiver's does.
	counterQuery := `
		INSERT INTO read_state (conversation_id, user_id, unread_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET unread_count = read_state.unread_count + 1
	`
	if _, err := tx.Exec(ctx, counterQuery, conversationID, receiverID); err != nil {
		return nil, fmt.Errorf("failed to increment unread counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	return message, nil
}

// ListByConversation returns the newest page of messages in ascending
// display order (created_at, message_id), excluding soft-deleted rows.
// A non-nil cursor fetches rows strictly older than the cursor position.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int, cursor *pagination.Cursor) ([]*domain.Message, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if cursor == nil {
		query := `
			SELECT message_id, conversation_id, sender_id, content, created_at
			FROM messages
			WHERE conversation_id = $1 AND deleted_at IS NULL
			ORDER BY created_at DESC, message_id DESC
			LIMIT $2
		`
		rows, err = r.pool.Query(ctx, query, conversationID, limit)
	} else {
		query := `
			SELECT message_id, conversation_id, sender_id, content, created_at
			FROM messages
			WHERE conversation_id = $1 AND deleted_at IS NULL
			  AND (created_at, message_id) < ($2, $3)
			ORDER BY created_at DESC, message_id DESC
			LIMIT $4
		`
		rows, err = r.pool.Query(ctx, query, conversationID, cursor.CreatedAt, cursor.MessageID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		message := &domain.Message{}
		err := rows.Scan(
			&message.MessageID,
			&message.ConversationID,
			&message.SenderID,
			&message.Content,
			&message.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	// Fetched newest-first for the keyset bound; display order is ascending.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// GetByID retrieves a message regardless of soft-delete state
func (r *MessageRepository) GetByID(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT message_id, conversation_id, sender_id, content, created_at, deleted_at
		FROM messages
		WHERE message_id = $1
	`

	message := &domain.Message{}
	err := r.pool.QueryRow(ctx, query, messageID).Scan(
		&message.MessageID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&message.CreatedAt,
		&message.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return message, nil
}

// SoftDelete marks a message deleted without removing the row. Only the
// sender may delete; repeated deletes are no-ops that report not found.
func (r *MessageRepository) SoftDelete(ctx context.Context, messageID, senderID uuid.UUID) (*domain.Message, error) {
	query := `
		UPDATE messages
		SET deleted_at = now()
		WHERE message_id = $1 AND sender_id = $2 AND deleted_at IS NULL
		RETURNING message_id, conversation_id, sender_id, content, created_at, deleted_at
	`

	message := &domain.Message{}
	err := r.pool.QueryRow(ctx, query, messageID, senderID).Scan(
		&message.MessageID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&message.CreatedAt,
		&message.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to delete message: %w", err)
	}

	return message, nil
}
