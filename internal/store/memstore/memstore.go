// Package memstore is an in-process implementation of the store primitives.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/store"
	"github.com/universalathletics/inbox/internal/store/watch"
)

type Store struct {
	mu            sync.RWMutex
	clock         *store.Clock
	broker        watch.Broker
	conversations map[string]models.Conversation
	messages      []models.Message
	messageIndex  map[string]int
}

type Option func(*Store)

// WithClock replaces the store clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.clock = store.NewClock(now)
	}
}

func WithBroker(broker watch.Broker) Option {
	return func(s *Store) {
		s.broker = broker
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		clock:         store.NewClock(nil),
		broker:        watch.NewLocalBroker(),
		conversations: make(map[string]models.Conversation),
		messageIndex:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Conversations() store.ConversationStore {
	return conversationStore{s: s}
}

func (s *Store) Messages() store.MessageStore {
	return messageStore{s: s}
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) publish(topic string) {
	_ = s.broker.Publish(context.Background(), topic)
}

type conversationStore struct {
	s *Store
}

func (c conversationStore) Create(_ context.Context, conv models.Conversation) (*models.Conversation, error) {
	s := c.s
	s.mu.Lock()
	if _, exists := s.conversations[conv.ID]; exists {
		s.mu.Unlock()
		return nil, store.ErrAlreadyExists
	}
	stored := conv.Clone()
	now := s.clock.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.conversations[stored.ID] = stored
	s.mu.Unlock()

	s.publish(store.ConversationsCollection)
	out := stored.Clone()
	return &out, nil
}

func (c conversationStore) Get(_ context.Context, id string) (*models.Conversation, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	conv, ok := c.s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := conv.Clone()
	return &out, nil
}

func (c conversationStore) FindByParticipant(_ context.Context, firebaseID string) ([]models.Conversation, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	out := make([]models.Conversation, 0)
	for _, conv := range c.s.conversations {
		if conv.HasParticipant(firebaseID) {
			out = append(out, conv.Clone())
		}
	}
	store.SortConversations(out)
	return out, nil
}

func (c conversationStore) WatchByParticipant(
	firebaseID string,
	onNext func([]models.Conversation),
	onError func(error),
) store.Unsubscribe {
	return watch.Start(c.s.broker, store.ConversationsCollection, func(ctx context.Context) ([]models.Conversation, error) {
		return c.FindByParticipant(ctx, firebaseID)
	}, onNext, onError)
}

func (c conversationStore) UpdateLastMessage(_ context.Context, id string, last models.LastMessage) error {
	s := c.s
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	conv.LastMessage = &last
	conv.UpdatedAt = s.clock.Now()
	s.conversations[id] = conv
	s.mu.Unlock()

	s.publish(store.ConversationsCollection)
	return nil
}

type messageStore struct {
	s *Store
}

func (m messageStore) Insert(_ context.Context, msg models.Message) (*models.Message, error) {
	s := m.s
	s.mu.Lock()
	msg.ID = uuid.NewString()
	msg.Timestamp = s.clock.Now()
	msg.Read = false
	s.messageIndex[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.publish(store.MessagesCollection)
	out := msg
	return &out, nil
}

func (m messageStore) Find(_ context.Context, filter store.MessageFilter) ([]models.Message, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	out := make([]models.Message, 0)
	for i := len(m.s.messages) - 1; i >= 0; i-- {
		if filter.Match(m.s.messages[i]) {
			out = append(out, m.s.messages[i])
		}
	}
	store.SortMessages(out)
	return out, nil
}

func (m messageStore) Count(ctx context.Context, filter store.MessageFilter) (int, error) {
	messages, err := m.Find(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(messages), nil
}

func (m messageStore) Watch(
	filter store.MessageFilter,
	onNext func([]models.Message),
	onError func(error),
) store.Unsubscribe {
	return watch.Start(m.s.broker, store.MessagesCollection, func(ctx context.Context) ([]models.Message, error) {
		return m.Find(ctx, filter)
	}, onNext, onError)
}

func (m messageStore) MarkRead(_ context.Context, id string) error {
	s := m.s
	s.mu.Lock()
	idx, ok := s.messageIndex[id]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	if s.messages[idx].Read {
		s.mu.Unlock()
		return nil
	}
	s.messages[idx].Read = true
	s.mu.Unlock()

	s.publish(store.MessagesCollection)
	return nil
}
