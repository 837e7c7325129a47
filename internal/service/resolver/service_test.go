package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"roomhub-messaging/internal/domain"
	apperrors "roomhub-messaging/pkg/errors"
)

// Mocks
type MockConversationStore struct {
	mock.Mock
}

func (m *MockConversationStore) ResolveOrCreate(ctx context.Context, lo, hi uuid.UUID, listingID *uuid.UUID, listingKey uuid.UUID) (*domain.Conversation, bool, error) {
	args := m.Called(ctx, lo, hi, listingID, listingKey)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.Conversation), args.Bool(1), args.Error(2)
}

type MockIdentityStore struct {
	mock.Mock
}

func (m *MockIdentityStore) Exists(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

// knownUsers is an identity store that recognizes every id, for tests that
// exercise the resolution path itself.
type knownUsers struct{}

func (knownUsers) Exists(ctx context.Context, userID uuid.UUID) (bool, error) { return true, nil }

func TestResolveCreates(t *testing.T) {
	mockStore := new(MockConversationStore)
	service := NewService(mockStore, knownUsers{}, false)

	self := uuid.New()
	partner := uuid.New()
	lo, hi := domain.NormalizePair(self, partner)
	conversationID := uuid.New()

	mockStore.On("ResolveOrCreate", mock.Anything, lo, hi, (*uuid.UUID)(nil), uuid.Nil).
		Return(&domain.Conversation{ConversationID: conversationID, UserLo: lo, UserHi: hi}, true, nil)

	resolved, err := service.Resolve(context.Background(), self, partner, nil)

	assert.NoError(t, err)
	assert.Equal(t, conversationID, resolved.ConversationID)
	assert.True(t, resolved.Created)
	mockStore.AssertExpectations(t)
}

func TestResolveConvergesRegardlessOfOrder(t *testing.T) {
	mockStore := new(MockConversationStore)
	service := NewService(mockStore, knownUsers{}, false)

	self := uuid.New()
	partner := uuid.New()
	lo, hi := domain.NormalizePair(self, partner)
	conversationID := uuid.New()

	// Both call directions hit the store with the same normalized pair.
	mockStore.On("ResolveOrCreate", mock.Anything, lo, hi, (*uuid.UUID)(nil), uuid.Nil).
		Return(&domain.Conversation{ConversationID: conversationID, UserLo: lo, UserHi: hi}, false, nil).Twice()

	first, err := service.Resolve(context.Background(), self, partner, nil)
	assert.NoError(t, err)
	second, err := service.Resolve(context.Background(), partner, self, nil)
	assert.NoError(t, err)

	assert.Equal(t, first.ConversationID, second.ConversationID)
	mockStore.AssertExpectations(t)
}

func TestResolveRejectsSelf(t *testing.T) {
	mockStore := new(MockConversationStore)
	service := NewService(mockStore, knownUsers{}, false)

	self := uuid.New()
	_, err := service.Resolve(context.Background(), self, self, nil)

	assert.Error(t, err)
	mockStore.AssertNotCalled(t, "ResolveOrCreate")
}

func TestResolveRejectsNilIDs(t *testing.T) {
	mockStore := new(MockConversationStore)
	service := NewService(mockStore, knownUsers{}, false)

	_, err := service.Resolve(context.Background(), uuid.Nil, uuid.New(), nil)
	assert.Error(t, err)

	_, err = service.Resolve(context.Background(), uuid.New(), uuid.Nil, nil)
	assert.Error(t, err)
}

func TestResolveStoreFailure(t *testing.T) {
	mockStore := new(MockConversationStore)
	service := NewService(mockStore, knownUsers{}, false)

	mockStore.On("ResolveOrCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, false, errors.New("connection refused"))

	_, err := service.Resolve(context.Background(), uuid.New(), uuid.New(), nil)

	assert.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResolutionFailed))
}

func TestResolveListingScoping(t *testing.T) {
	listingID := uuid.New()
	self := uuid.New()
	partner := uuid.New()
	lo, hi := domain.NormalizePair(self, partner)
	conv := &domain.Conversation{ConversationID: uuid.New(), UserLo: lo, UserHi: hi}

	// Scoping disabled: listing recorded but key collapses to the pair.
	mockStore := new(MockConversationStore)
	service := NewService(mockStore, knownUsers{}, false)
	mockStore.On("ResolveOrCreate", mock.Anything, lo, hi, &listingID, uuid.Nil).
		Return(conv, true, nil)
	_, err := service.Resolve(context.Background(), self, partner, &listingID)
	assert.NoError(t, err)
	mockStore.AssertExpectations(t)

	// Scoping enabled: the listing participates in the uniqueness key.
	mockStore = new(MockConversationStore)
	service = NewService(mockStore, knownUsers{}, true)
	mockStore.On("ResolveOrCreate", mock.Anything, lo, hi, &listingID, listingID).
		Return(conv, true, nil)
	_, err = service.Resolve(context.Background(), self, partner, &listingID)
	assert.NoError(t, err)
	mockStore.AssertExpectations(t)
}

func TestResolveUnknownPartner(t *testing.T) {
	mockStore := new(MockConversationStore)
	mockIdentities := new(MockIdentityStore)
	service := NewService(mockStore, mockIdentities, false)

	partner := uuid.New()
	mockIdentities.On("Exists", mock.Anything, partner).Return(false, nil)

	_, err := service.Resolve(context.Background(), uuid.New(), partner, nil)

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	mockStore.AssertNotCalled(t, "ResolveOrCreate")
}
