// Package pgstore implements the store primitives on Postgres. Live queries
// re-run after change notifications delivered through a watch.Broker; use a
// redis-backed broker when more than one server instance writes to the
// database.
package pgstore

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/universalathletics/inbox/internal/store"
	"github.com/universalathletics/inbox/internal/store/watch"
)

const publishTimeout = 2 * time.Second

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db     DBTX
	broker watch.Broker
}

func New(db DBTX, broker watch.Broker) *Store {
	if broker == nil {
		broker = watch.NewLocalBroker()
	}
	return &Store{db: db, broker: broker}
}

func (s *Store) Conversations() store.ConversationStore {
	return conversationStore{s: s}
}

func (s *Store) Messages() store.MessageStore {
	return messageStore{s: s}
}

// Close releases the broker when it owns resources. The pool is owned by
// the caller.
func (s *Store) Close() error {
	if closer, ok := s.broker.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// publish runs after the write committed, so a failure only delays
// subscribers until the next change.
func (s *Store) publish(topic string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.broker.Publish(ctx, topic); err != nil {
		log.Printf("pgstore publish %s: %v", topic, err)
	}
}

type scanner interface {
	Scan(dest ...any) error
}
