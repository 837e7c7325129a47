package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReadState tracks how much of a conversation a user has seen.
// Maps to the Postgres read_state table.
// The materialized unread counter is the source of truth for unread badges;
// last_read_at is kept alongside so the counter can be audited against a
// timestamp diff.
type ReadState struct {
	ConversationID uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	UserID         uuid.UUID  `json:"user_id" db:"user_id"`
	UnreadCount    int        `json:"unread_count" db:"unread_count"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty" db:"last_read_at"`
}
