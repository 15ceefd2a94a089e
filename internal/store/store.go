// Package store defines the document-store primitives the messaging core is
// built on: insert, get-once and equality/array-membership queries, partial
// updates and live subscriptions, for the conversations and messages
// collections.
package store

import (
	"context"
	"sort"

	"github.com/universalathletics/inbox/internal/models"
)

const (
	ConversationsCollection = "conversations"
	MessagesCollection      = "messages"
)

// Unsubscribe cancels a live subscription. It is idempotent.
type Unsubscribe func()

type ConversationStore interface {
	// Create inserts conv under conv.ID unless the key is taken, in which case
	// it returns ErrAlreadyExists. CreatedAt and UpdatedAt come from the store clock.
	Create(ctx context.Context, conv models.Conversation) (*models.Conversation, error)
	Get(ctx context.Context, id string) (*models.Conversation, error)
	// FindByParticipant returns conversations whose participantIds contain
	// firebaseID, most recently updated first.
	FindByParticipant(ctx context.Context, firebaseID string) ([]models.Conversation, error)
	WatchByParticipant(firebaseID string, onNext func([]models.Conversation), onError func(error)) Unsubscribe
	// UpdateLastMessage sets lastMessage and bumps updatedAt to the store clock.
	UpdateLastMessage(ctx context.Context, id string, last models.LastMessage) error
}

type MessageStore interface {
	// Insert appends msg. The store assigns ID and Timestamp and forces Read to false.
	Insert(ctx context.Context, msg models.Message) (*models.Message, error)
	// Find returns matching messages, newest first.
	Find(ctx context.Context, filter MessageFilter) ([]models.Message, error)
	Count(ctx context.Context, filter MessageFilter) (int, error)
	Watch(filter MessageFilter, onNext func([]models.Message), onError func(error)) Unsubscribe
	// MarkRead flips read to true. Already-read messages are left untouched.
	MarkRead(ctx context.Context, id string) error
}

type Store interface {
	Conversations() ConversationStore
	Messages() MessageStore
	Close() error
}

// MessageFilter is an equality query over the messages collection. Zero
// fields are not constrained.
type MessageFilter struct {
	ConversationID string
	ReceiverID     string
	Read           *bool
}

func Bool(v bool) *bool {
	return &v
}

func (f MessageFilter) Match(m models.Message) bool {
	if f.ConversationID != "" && m.ConversationID != f.ConversationID {
		return false
	}
	if f.ReceiverID != "" && m.ReceiverID != f.ReceiverID {
		return false
	}
	if f.Read != nil && m.Read != *f.Read {
		return false
	}
	return true
}

// SortConversations orders by updatedAt descending, then id.
func SortConversations(conversations []models.Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		a, b := conversations[i], conversations[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
}

// SortMessages orders by timestamp descending. Ties keep their input order.
func SortMessages(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.After(messages[j].Timestamp)
	})
}
