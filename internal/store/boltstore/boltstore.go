// Package boltstore keeps conversations and messages in a single bbolt file.
// Documents are stored as JSON; messages are keyed by insertion sequence so a
// bucket scan yields append order.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/store"
	"github.com/universalathletics/inbox/internal/store/watch"
	bolt "go.etcd.io/bbolt"
)

var (
	conversationsBucket = []byte(store.ConversationsCollection)
	messagesBucket      = []byte(store.MessagesCollection)
	messageKeysBucket   = []byte("message_keys")
)

type Store struct {
	db     *bolt.DB
	clock  *store.Clock
	broker watch.Broker
}

type Option func(*Store)

func WithBroker(broker watch.Broker) Option {
	return func(s *Store) {
		s.broker = broker
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.clock = store.NewClock(now)
	}
}

func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{conversationsBucket, messagesBucket, messageKeysBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bolt buckets: %w", err)
	}

	s := &Store{
		db:     db,
		clock:  store.NewClock(nil),
		broker: watch.NewLocalBroker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Conversations() store.ConversationStore {
	return conversationStore{s: s}
}

func (s *Store) Messages() store.MessageStore {
	return messageStore{s: s}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) publish(topic string) {
	_ = s.broker.Publish(context.Background(), topic)
}

type conversationStore struct {
	s *Store
}

func (c conversationStore) Create(_ context.Context, conv models.Conversation) (*models.Conversation, error) {
	stored := conv.Clone()
	err := c.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		if b.Get([]byte(conv.ID)) != nil {
			return store.ErrAlreadyExists
		}
		now := c.s.clock.Now()
		stored.CreatedAt = now
		stored.UpdatedAt = now
		return putJSON(b, []byte(stored.ID), stored)
	})
	if err != nil {
		return nil, store.Unavailable("create conversation", err)
	}

	c.s.publish(store.ConversationsCollection)
	return &stored, nil
}

func (c conversationStore) Get(_ context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := c.s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(conversationsBucket).Get([]byte(id))
		if raw == nil {
			return store.ErrNotFound
		}
		return json.Unmarshal(raw, &conv)
	})
	if err != nil {
		return nil, store.Unavailable("get conversation", err)
	}
	return &conv, nil
}

func (c conversationStore) FindByParticipant(_ context.Context, firebaseID string) ([]models.Conversation, error) {
	out := make([]models.Conversation, 0)
	err := c.s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(_, raw []byte) error {
			var conv models.Conversation
			if err := json.Unmarshal(raw, &conv); err != nil {
				return err
			}
			if conv.HasParticipant(firebaseID) {
				out = append(out, conv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, store.Unavailable("find conversations", err)
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
	err := c.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		raw := b.Get([]byte(id))
		if raw == nil {
			return store.ErrNotFound
		}
		var conv models.Conversation
		if err := json.Unmarshal(raw, &conv); err != nil {
			return err
		}
		conv.LastMessage = &last
		conv.UpdatedAt = c.s.clock.Now()
		return putJSON(b, []byte(id), conv)
	})
	if err != nil {
		return store.Unavailable("update conversation", err)
	}

	c.s.publish(store.ConversationsCollection)
	return nil
}

type messageStore struct {
	s *Store
}

func (m messageStore) Insert(_ context.Context, msg models.Message) (*models.Message, error) {
	err := m.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := sequenceKey(seq)

		msg.ID = uuid.NewString()
		msg.Timestamp = m.s.clock.Now()
		msg.Read = false
		if err := tx.Bucket(messageKeysBucket).Put([]byte(msg.ID), key); err != nil {
			return err
		}
		return putJSON(b, key, msg)
	})
	if err != nil {
		return nil, store.Unavailable("insert message", err)
	}

	m.s.publish(store.MessagesCollection)
	return &msg, nil
}

func (m messageStore) Find(_ context.Context, filter store.MessageFilter) ([]models.Message, error) {
	out := make([]models.Message, 0)
	err := m.s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(messagesBucket).Cursor()
		for k, raw := cursor.Last(); k != nil; k, raw = cursor.Prev() {
			var msg models.Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				return err
			}
			if filter.Match(msg) {
				out = append(out, msg)
			}
		}
		return nil
	})
	if err != nil {
		return nil, store.Unavailable("find messages", err)
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
	changed := false
	err := m.s.db.Update(func(tx *bolt.Tx) error {
		key := tx.Bucket(messageKeysBucket).Get([]byte(id))
		if key == nil {
			return store.ErrNotFound
		}
		b := tx.Bucket(messagesBucket)
		var msg models.Message
		if err := json.Unmarshal(b.Get(key), &msg); err != nil {
			return err
		}
		if msg.Read {
			return nil
		}
		msg.Read = true
		changed = true
		return putJSON(b, key, msg)
	})
	if err != nil {
		return store.Unavailable("mark message read", err)
	}

	if changed {
		m.s.publish(store.MessagesCollection)
	}
	return nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
