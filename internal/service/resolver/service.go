// Package resolver maps a user pair (and optional listing scope) to a single
// conversation id, creating the conversation on first contact.
package resolver

import (
	"context"

	"github.com/google/uuid"

	"roomhub-messaging/internal/domain"
	apperrors "roomhub-messaging/pkg/errors"
	"roomhub-messaging/pkg/metrics"
)

// ConversationStore is the storage contract the resolver needs
type ConversationStore interface {
	ResolveOrCreate(ctx context.Context, lo, hi uuid.UUID, listingID *uuid.UUID, listingKey uuid.UUID) (*domain.Conversation, bool, error)
}

// IdentityStore answers whether a user id is known to the identity collaborator
type IdentityStore interface {
	Exists(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Service handles conversation resolution
type Service struct {
	conversations   ConversationStore
	identities      IdentityStore
	scopePerListing bool
}

// NewService creates a new resolver service. scopePerListing selects whether
// the same pair of users gets one thread per listing or one thread globally.
func NewService(conversations ConversationStore, identities IdentityStore, scopePerListing bool) *Service {
	return &Service{
		conversations:   conversations,
		identities:      identities,
		scopePerListing: scopePerListing,
	}
}

// Resolve finds the conversation between selfID and partnerID, creating it
// if absent. The lookup-or-create runs as one atomic store operation, so two
// participants clicking "contact" at the same moment converge on the same
// conversation id.
func (s *Service) Resolve(ctx context.Context, selfID, partnerID uuid.UUID, listingID *uuid.UUID) (*domain.ResolveConversationResponse, error) {
	if selfID == uuid.Nil || partnerID == uuid.Nil {
		return nil, apperrors.InvalidInputError("user id is required")
	}
	if selfID == partnerID {
		return nil, apperrors.ValidationError("cannot start a conversation with yourself")
	}

	exists, err := s.identities.Exists(ctx, partnerID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !exists {
		return nil, apperrors.NotFoundError("partner")
	}

	lo, hi := domain.NormalizePair(selfID, partnerID)

	// When the deployment does not scope per listing the listing id is still
	// stored for context, but the uniqueness key collapses to the pair.
	listingKey := uuid.Nil
	if s.scopePerListing && listingID != nil {
		listingKey = *listingID
	}

	conversation, created, err := s.conversations.ResolveOrCreate(ctx, lo, hi, listingID, listingKey)
	if err != nil {
		metrics.ConversationResolvedTotal.WithLabelValues("failed").Inc()
		return nil, apperrors.ResolutionFailedError(err)
	}

	if created {
		metrics.ConversationResolvedTotal.WithLabelValues("created").Inc()
	} else {
		metrics.ConversationResolvedTotal.WithLabelValues("existing").Inc()
	}

	return &domain.ResolveConversationResponse{
		ConversationID: conversation.ConversationID,
		Created:        created,
	}, nil
}
