package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"roomhub-messaging/internal/domain"
)

// ReadStateRepository handles per-user-per-conversation read cursors
type ReadStateRepository struct {
	pool *pgxpool.Pool
}

// NewReadStateRepository creates a new read-state repository
func NewReadStateRepository(pool *pgxpool.Pool) *ReadStateRepository {
	return &ReadStateRepository{pool: pool}
}

// MarkRead zeroes the user's unread counter and advances the read cursor.
// The write is absolute rather than a decrement, so repeated calls are
// no-ops beyond the first.
func (r *ReadStateRepository) MarkRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	query := `
		INSERT INTO read_state (conversation_id, user_id, unread_count, last_read_at)
		VALUES ($1, $2, 0, now())
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET unread_count = 0, last_read_at = now()
	`

	if _, err := r.pool.Exec(ctx, query, conversationID, userID); err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return nil
}

// Get retrieves the read state for a user in a conversation. A missing row
// means nothing has been read yet and is returned as a zero-value state.
func (r *ReadStateRepository) Get(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ReadState, error) {
	query := `
		SELECT conversation_id, user_id, unread_count, last_read_at
		FROM read_state
		WHERE conversation_id = $1 AND user_id = $2
	`

	state := &domain.ReadState{}
	err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(
		&state.ConversationID,
		&state.UserID,
		&state.UnreadCount,
		&state.LastReadAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.ReadState{
				ConversationID: conversationID,
				UserID:         userID,
			}, nil
		}
		return nil, fmt.Errorf("failed to get read state: %w", err)
	}

	return state, nil
}

// TotalUnread returns the aggregate unread count across all of a user's
// conversations, for the inbox badge.
func (r *ReadStateRepository) TotalUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `SELECT COALESCE(SUM(unread_count), 0) FROM read_state WHERE user_id = $1`

	var total int
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum unread counts: %w", err)
	}
	return total, nil
}
