package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Event types delivered by the change feed.
const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"
)

// Feed tables.
const (
	TableMessages      = "messages"
	TableConversations = "conversations"
)

// Event is the change-feed envelope: a row-level change for a named table.
// New is set for insert/update, Old for update/delete.
type Event struct {
	Type  string   `json:"type"`
	Table string   `json:"table"`
	New   *Message `json:"new,omitempty"`
	Old   *Message `json:"old,omitempty"`
}

// MessageTopic names the per-conversation feed channel.
func MessageTopic(conversationID uuid.UUID) string {
	return fmt.Sprintf("messages:%s", conversationID)
}

// InboxTopic names a user's aggregate feed channel. Every message event is
// also published here for each participant so inbox views can refresh
// previews and unread counts without a per-conversation subscription.
func InboxTopic(userID uuid.UUID) string {
	return fmt.Sprintf("inbox:%s", userID)
}
