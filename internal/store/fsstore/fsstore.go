// Package fsstore implements the store primitives on Cloud Firestore, using
// the same collections and document layout as the mobile client so both can
// share one project.
package fsstore

import (
	"context"
	"sync"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"github.com/pkg/errors"
	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/store"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Store struct {
	client *firestore.Client
}

func New(client *firestore.Client) *Store {
	return &Store{client: client}
}

func NewFromApp(ctx context.Context, app *firebase.App) (*Store, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "create firestore client")
	}
	return New(client), nil
}

func (s *Store) Conversations() store.ConversationStore {
	return conversationStore{coll: s.client.Collection(store.ConversationsCollection)}
}

func (s *Store) Messages() store.MessageStore {
	return messageStore{coll: s.client.Collection(store.MessagesCollection)}
}

func (s *Store) Close() error {
	return s.client.Close()
}

type conversationStore struct {
	coll *firestore.CollectionRef
}

func (c conversationStore) Create(ctx context.Context, conv models.Conversation) (*models.Conversation, error) {
	doc := toConversationDoc(conv)
	result, err := c.coll.Doc(conv.ID).Create(ctx, doc)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, store.ErrAlreadyExists
		}
		return nil, store.Unavailable("create conversation", errors.Wrapf(err, "create %s", conv.ID))
	}

	doc.CreatedAt = result.UpdateTime
	doc.UpdatedAt = result.UpdateTime
	created := fromConversationDoc(conv.ID, doc)
	return &created, nil
}

func (c conversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	snap, err := c.coll.Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, store.ErrNotFound
		}
		return nil, store.Unavailable("get conversation", errors.Wrapf(err, "get %s", id))
	}

	conv, err := decodeConversation(snap)
	if err != nil {
		return nil, store.Unavailable("get conversation", err)
	}
	return &conv, nil
}

func (c conversationStore) participantQuery(firebaseID string) firestore.Query {
	return c.coll.
		Where("participantIds", "array-contains", firebaseID).
		OrderBy("updatedAt", firestore.Desc)
}

func (c conversationStore) FindByParticipant(ctx context.Context, firebaseID string) ([]models.Conversation, error) {
	snaps, err := c.participantQuery(firebaseID).Documents(ctx).GetAll()
	if err != nil {
		return nil, store.Unavailable("find conversations", errors.Wrap(err, "query conversations"))
	}
	conversations, err := decodeAll(snaps, decodeConversation)
	if err != nil {
		return nil, store.Unavailable("find conversations", err)
	}
	return conversations, nil
}

func (c conversationStore) WatchByParticipant(
	firebaseID string,
	onNext func([]models.Conversation),
	onError func(error),
) store.Unsubscribe {
	return listen(c.participantQuery(firebaseID), "watch conversations", decodeConversation, nil, onNext, onError)
}

func (c conversationStore) UpdateLastMessage(ctx context.Context, id string, last models.LastMessage) error {
	if _, err := c.coll.Doc(id).Update(ctx, lastMessageUpdates(last)); err != nil {
		if status.Code(err) == codes.NotFound {
			return store.ErrNotFound
		}
		return store.Unavailable("update conversation", errors.Wrapf(err, "update %s", id))
	}
	return nil
}

type messageStore struct {
	coll *firestore.CollectionRef
}

func (m messageStore) Insert(ctx context.Context, msg models.Message) (*models.Message, error) {
	doc := toMessageDoc(msg)
	ref, result, err := m.coll.Add(ctx, doc)
	if err != nil {
		return nil, store.Unavailable("insert message", errors.Wrap(err, "add message"))
	}

	doc.Timestamp = result.UpdateTime
	created := fromMessageDoc(ref.ID, doc)
	return &created, nil
}

// query applies the equality filters. Ordering happens client side so the
// receiver-only query needs no composite index.
func (m messageStore) query(filter store.MessageFilter) firestore.Query {
	q := m.coll.Query
	if filter.ConversationID != "" {
		q = q.Where("conversationId", "==", filter.ConversationID)
	}
	if filter.ReceiverID != "" {
		q = q.Where("receiverId", "==", filter.ReceiverID)
	}
	if filter.Read != nil {
		q = q.Where("read", "==", *filter.Read)
	}
	return q
}

func (m messageStore) Find(ctx context.Context, filter store.MessageFilter) ([]models.Message, error) {
	snaps, err := m.query(filter).Documents(ctx).GetAll()
	if err != nil {
		return nil, store.Unavailable("find messages", errors.Wrap(err, "query messages"))
	}
	messages, err := decodeAll(snaps, decodeMessage)
	if err != nil {
		return nil, store.Unavailable("find messages", err)
	}
	store.SortMessages(messages)
	return messages, nil
}

func (m messageStore) Count(ctx context.Context, filter store.MessageFilter) (int, error) {
	snaps, err := m.query(filter).Documents(ctx).GetAll()
	if err != nil {
		return 0, store.Unavailable("count messages", errors.Wrap(err, "query messages"))
	}
	return len(snaps), nil
}

func (m messageStore) Watch(
	filter store.MessageFilter,
	onNext func([]models.Message),
	onError func(error),
) store.Unsubscribe {
	return listen(m.query(filter), "watch messages", decodeMessage, store.SortMessages, onNext, onError)
}

func (m messageStore) MarkRead(ctx context.Context, id string) error {
	_, err := m.coll.Doc(id).Update(ctx, []firestore.Update{{Path: "read", Value: true}})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return store.ErrNotFound
		}
		return store.Unavailable("mark message read", errors.Wrapf(err, "update %s", id))
	}
	return nil
}

// listen runs a snapshot listener on q until the returned function is called
// or the listener fails.
func listen[T any](
	q firestore.Query,
	op string,
	decode func(*firestore.DocumentSnapshot) (T, error),
	order func([]T),
	onNext func([]T),
	onError func(error),
) store.Unsubscribe {
	ctx, cancel := context.WithCancel(context.Background())
	it := q.Snapshots(ctx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				if onError != nil {
					onError(store.Unavailable(op, err))
				}
				return
			}

			docs, err := snap.Documents.GetAll()
			if err == nil {
				var items []T
				items, err = decodeAll(docs, decode)
				if err == nil {
					if order != nil {
						order(items)
					}
					if ctx.Err() != nil {
						return
					}
					onNext(items)
					continue
				}
			}
			if onError != nil {
				onError(store.Unavailable(op, err))
			}
			return
		}
	}()

	var once sync.Once
	return func() {
		once.Do(cancel)
	}
}

func decodeAll[T any](snaps []*firestore.DocumentSnapshot, decode func(*firestore.DocumentSnapshot) (T, error)) ([]T, error) {
	items := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		item, err := decode(snap)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeConversation(snap *firestore.DocumentSnapshot) (models.Conversation, error) {
	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return models.Conversation{}, errors.Wrapf(err, "decode conversation %s", snap.Ref.ID)
	}
	return fromConversationDoc(snap.Ref.ID, doc), nil
}

func decodeMessage(snap *firestore.DocumentSnapshot) (models.Message, error) {
	var doc messageDoc
	if err := snap.DataTo(&doc); err != nil {
		return models.Message{}, errors.Wrapf(err, "decode message %s", snap.Ref.ID)
	}
	return fromMessageDoc(snap.Ref.ID, doc), nil
}
