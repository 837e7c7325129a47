package domain

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrNoActiveConversation is returned when a send is attempted with no
// conversation selected.
var ErrNoActiveConversation = errors.New("no active conversation")

// Message represents one unit of text within a conversation.
// Maps to the Postgres messages table.
// Content and sender are immutable after insert; only deleted_at may be set.
type Message struct {
	MessageID      uuid.UUID  `json:"message_id" db:"message_id"`
	ConversationID uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	SenderID       uuid.UUID  `json:"sender_id" db:"sender_id"`
	Content        string     `json:"content" db:"content"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	DeletedAt      *time.Time `json:"-" db:"deleted_at"`

	// Provisional marks an optimistic local echo that has not been
	// acknowledged by the store yet. Never persisted.
	Provisional bool `json:"provisional,omitempty" db:"-"`
}

// MessageCreate represents data needed to send a message.
type MessageCreate struct {
	ConversationID uuid.UUID `json:"conversation_id" binding:"required"`
	Content        string    `json:"content" binding:"required"`
}

// Before reports whether m sorts before other in display order.
// Server-assigned creation time is the sole ordering key; message id breaks
// ties so the order is total.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return lessUUID(m.MessageID, other.MessageID)
}

// SortMessages orders messages by (created_at, message_id) ascending.
// Feed delivery order across concurrent senders is not trusted for display.
func SortMessages(messages []*Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Before(messages[j])
	})
}
