package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation represents a message thread between exactly two users,
// optionally scoped to a listing.
// Maps to the Postgres conversations table.
// The participant pair is stored normalized (UserLo < UserHi) so the
// unordered pair carries a unique constraint.
type Conversation struct {
	ConversationID  uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	UserLo          uuid.UUID  `json:"-" db:"user_lo"`
	UserHi          uuid.UUID  `json:"-" db:"user_hi"`
	ListingID       *uuid.UUID `json:"listing_id,omitempty" db:"listing_id"`
	LastMessageBody *string    `json:"last_message_body,omitempty" db:"last_message_body"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// PartnerOf returns the participant other than userID.
// The second return value is false if userID is not a participant.
func (c *Conversation) PartnerOf(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case c.UserLo:
		return c.UserHi, true
	case c.UserHi:
		return c.UserLo, true
	}
	return uuid.Nil, false
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return userID == c.UserLo || userID == c.UserHi
}

// NormalizePair orders an unordered user pair into (lo, hi) storage form.
// Both orderings of the same pair normalize to the same key, which is what
// lets the unique index on (user_lo, user_hi, listing) enforce one thread
// per pair.
func NormalizePair(a, b uuid.UUID) (lo, hi uuid.UUID) {
	if lessUUID(a, b) {
		return a, b
	}
	return b, a
}

func lessUUID(a, b uuid.UUID) bool {
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// ConversationPreview is the inbox row returned to clients: the conversation
// plus everything the list view renders without further lookups.
type ConversationPreview struct {
	ConversationID  uuid.UUID  `json:"conversation_id"`
	PartnerID       uuid.UUID  `json:"partner_id"`
	PartnerLabel    string     `json:"partner_label"`
	ListingID       *uuid.UUID `json:"listing_id,omitempty"`
	LastMessageBody *string    `json:"last_message_body,omitempty"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty"`
	UnreadCount     int        `json:"unread_count"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ResolveConversationRequest is the deep-link entry contract: a target user
// (and optional listing) resolves to a single conversation id.
type ResolveConversationRequest struct {
	PartnerID uuid.UUID  `json:"partner_id" binding:"required"`
	ListingID *uuid.UUID `json:"listing_id,omitempty"`
}

// ResolveConversationResponse carries the resolved conversation id back to
// the caller together with whether it had to be created.
type ResolveConversationResponse struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Created        bool      `json:"created"`
}
