package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/store"
)

type ConversationRepository struct {
	conversations store.ConversationStore
}

func NewConversationRepository(conversations store.ConversationStore) *ConversationRepository {
	return &ConversationRepository{conversations: conversations}
}

// DeterministicConversationID derives conv_<lower>_<higher> from the
// application ids of the pair. ok is false unless both ids are numeric.
func DeterministicConversationID(a, b models.Participant) (string, bool) {
	idA, err := strconv.ParseUint(a.ID, 10, 64)
	if err != nil {
		return "", false
	}
	idB, err := strconv.ParseUint(b.ID, 10, 64)
	if err != nil {
		return "", false
	}
	if idA > idB {
		idA, idB = idB, idA
	}
	return fmt.Sprintf("conv_%d_%d", idA, idB), true
}

// FindOrCreate returns the conversation between a and b, creating it when the
// pair has none. An existing conversation is returned unchanged.
func (r *ConversationRepository) FindOrCreate(ctx context.Context, a, b models.Participant) (*models.Conversation, error) {
	if err := validateParticipant("participantA", a); err != nil {
		return nil, err
	}
	if err := validateParticipant("participantB", b); err != nil {
		return nil, err
	}
	if a.FirebaseID == b.FirebaseID {
		return nil, newValidationError("participants", "must be two different users")
	}

	existing, err := r.findPair(ctx, a.FirebaseID, b.FirebaseID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if id, ok := DeterministicConversationID(a, b); ok {
		created, err := r.conversations.Create(ctx, models.NewConversation(id, a, b))
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return nil, err
		}

		// Lost the race to a concurrent creator, or the id belongs to
		// another pair whose numeric ids collide with ours.
		current, err := r.conversations.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.HasParticipant(a.FirebaseID) && current.HasParticipant(b.FirebaseID) {
			return current, nil
		}
	}

	return r.conversations.Create(ctx, models.NewConversation("conv_"+uuid.NewString(), a, b))
}

func (r *ConversationRepository) findPair(ctx context.Context, firebaseA, firebaseB string) (*models.Conversation, error) {
	candidates, err := r.conversations.FindByParticipant(ctx, firebaseA)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if candidates[i].HasParticipant(firebaseB) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func (r *ConversationRepository) Get(ctx context.Context, id string) (*models.Conversation, error) {
	if id == "" {
		return nil, store.ErrNotFound
	}
	return r.conversations.Get(ctx, id)
}

// FindForUser is the one-shot form of ListForUser.
func (r *ConversationRepository) FindForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	if userID == "" {
		return []models.Conversation{}, nil
	}
	return r.conversations.FindByParticipant(ctx, userID)
}

// ListForUser subscribes to the conversations of userID, most recently
// active first. An unauthenticated caller gets one empty emission.
func (r *ConversationRepository) ListForUser(
	userID string,
	onNext func([]models.Conversation),
	onError func(error),
) store.Unsubscribe {
	if userID == "" {
		onNext([]models.Conversation{})
		return func() {}
	}
	return r.conversations.WatchByParticipant(userID, onNext, onError)
}
