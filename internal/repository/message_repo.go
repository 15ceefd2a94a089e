package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/store"
)

type MessageRepository struct {
	messages      store.MessageStore
	conversations store.ConversationStore
}

func NewMessageRepository(messages store.MessageStore, conversations store.ConversationStore) *MessageRepository {
	return &MessageRepository{
		messages:      messages,
		conversations: conversations,
	}
}

// Send stores the message and then refreshes the conversation preview. The
// conversation must exist (store.ErrNotFound otherwise). The two writes are
// not atomic: when only the second fails the stored message is returned
// together with an error wrapping ErrPreviewNotUpdated.
func (r *MessageRepository) Send(
	ctx context.Context,
	conversationID string,
	sender models.Participant,
	receiver models.Participant,
	content string,
) (*models.Message, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, newValidationError("content", "must not be empty")
	}
	if conversationID == "" {
		return nil, newValidationError("conversationId", "required")
	}
	if err := validateParticipant("sender", sender); err != nil {
		return nil, err
	}
	if err := validateParticipant("receiver", receiver); err != nil {
		return nil, err
	}
	if _, err := r.conversations.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	message, err := r.messages.Insert(ctx, models.Message{
		ConversationID:   conversationID,
		SenderID:         sender.FirebaseID,
		SenderType:       sender.Type,
		SenderName:       sender.Name,
		SenderProfilePic: sender.ProfilePic,
		ReceiverID:       receiver.FirebaseID,
		ReceiverType:     receiver.Type,
		Content:          trimmed,
	})
	if err != nil {
		return nil, err
	}

	err = r.conversations.UpdateLastMessage(ctx, conversationID, models.LastMessage{
		Content:   message.Content,
		Timestamp: message.Timestamp,
		SenderID:  message.SenderID,
	})
	if err != nil {
		return message, fmt.Errorf("%w: %w", ErrPreviewNotUpdated, err)
	}

	return message, nil
}

// List subscribes to the messages of a conversation, newest first.
func (r *MessageRepository) List(
	conversationID string,
	onNext func([]models.Message),
	onError func(error),
) store.Unsubscribe {
	if conversationID == "" {
		onNext([]models.Message{})
		return func() {}
	}
	return r.messages.Watch(store.MessageFilter{ConversationID: conversationID}, onNext, onError)
}

// Page returns one page of a conversation, newest first, and the total
// number of messages in it.
func (r *MessageRepository) Page(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, int, error) {
	messages, err := r.messages.Find(ctx, store.MessageFilter{ConversationID: conversationID})
	if err != nil {
		return nil, 0, err
	}

	total := len(messages)
	if offset < 0 || offset >= total {
		return []models.Message{}, total, nil
	}
	end := total
	if limit > 0 && limit < total-offset {
		end = offset + limit
	}
	return messages[offset:end], total, nil
}

// MarkAllAsRead flips every unread message addressed to userID in the
// conversation and reports how many it changed. Nothing unread means no
// writes.
func (r *MessageRepository) MarkAllAsRead(ctx context.Context, conversationID, userID string) (int, error) {
	if userID == "" || conversationID == "" {
		return 0, nil
	}

	unread, err := r.messages.Find(ctx, store.MessageFilter{
		ConversationID: conversationID,
		ReceiverID:     userID,
		Read:           store.Bool(false),
	})
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, message := range unread {
		if err := r.messages.MarkRead(ctx, message.ID); err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	if userID == "" || conversationID == "" {
		return 0, nil
	}
	return r.messages.Count(ctx, store.MessageFilter{
		ConversationID: conversationID,
		ReceiverID:     userID,
		Read:           store.Bool(false),
	})
}

// UnreadForUser returns every unread message addressed to userID.
func (r *MessageRepository) UnreadForUser(ctx context.Context, userID string) ([]models.Message, error) {
	if userID == "" {
		return []models.Message{}, nil
	}
	return r.messages.Find(ctx, store.MessageFilter{
		ReceiverID: userID,
		Read:       store.Bool(false),
	})
}
