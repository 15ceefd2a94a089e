package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/store"
	"github.com/universalathletics/inbox/internal/store/memstore"
)

var errStoreDown = errors.New("store down")

func member(id, firebaseID string) models.Participant {
	return models.Participant{
		ID:         id,
		Type:       models.ParticipantMember,
		Name:       "Member " + id,
		FirebaseID: firebaseID,
	}
}

func coach(id, firebaseID string) models.Participant {
	return models.Participant{
		ID:         id,
		Type:       models.ParticipantCoach,
		Name:       "Coach " + id,
		FirebaseID: firebaseID,
	}
}

// countingConversations counts writes and can be told to fail preview updates.
type countingConversations struct {
	store.ConversationStore
	writes      atomic.Int64
	failPreview bool
}

func (c *countingConversations) Create(ctx context.Context, conv models.Conversation) (*models.Conversation, error) {
	c.writes.Add(1)
	return c.ConversationStore.Create(ctx, conv)
}

func (c *countingConversations) UpdateLastMessage(ctx context.Context, id string, last models.LastMessage) error {
	c.writes.Add(1)
	if c.failPreview {
		return store.Unavailable("update conversation", errStoreDown)
	}
	return c.ConversationStore.UpdateLastMessage(ctx, id, last)
}

type countingMessages struct {
	store.MessageStore
	writes atomic.Int64
}

func (m *countingMessages) Insert(ctx context.Context, msg models.Message) (*models.Message, error) {
	m.writes.Add(1)
	return m.MessageStore.Insert(ctx, msg)
}

func (m *countingMessages) MarkRead(ctx context.Context, id string) error {
	m.writes.Add(1)
	return m.MessageStore.MarkRead(ctx, id)
}

type fixture struct {
	store         *memstore.Store
	conversations *countingConversations
	messages      *countingMessages
	convRepo      *ConversationRepository
	msgRepo       *MessageRepository
}

func newFixture() *fixture {
	s := memstore.New()
	conversations := &countingConversations{ConversationStore: s.Conversations()}
	messages := &countingMessages{MessageStore: s.Messages()}
	return &fixture{
		store:         s,
		conversations: conversations,
		messages:      messages,
		convRepo:      NewConversationRepository(conversations),
		msgRepo:       NewMessageRepository(messages, conversations),
	}
}

func (f *fixture) writes() int64 {
	return f.conversations.writes.Load() + f.messages.writes.Load()
}

// waitFor returns the first value on ch that satisfies ok.
func waitFor[T any](t *testing.T, ch <-chan T, ok func(T) bool) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case v := <-ch:
			if ok(v) {
				return v
			}
		case <-timeout:
			t.Fatal("timed out waiting for emission")
		}
	}
}
