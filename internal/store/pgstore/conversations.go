package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/store"
	"github.com/universalathletics/inbox/internal/store/watch"
)

const conversationColumns = `
	id,
	participants,
	participant_ids,
	last_message_content,
	last_message_sender_id,
	last_message_at,
	created_at,
	updated_at
`

type conversationStore struct {
	s *Store
}

func (c conversationStore) Create(ctx context.Context, conv models.Conversation) (*models.Conversation, error) {
	participants, err := json.Marshal(conv.Participants)
	if err != nil {
		return nil, errors.Wrap(err, "encode participants")
	}

	query := `
		INSERT INTO conversations (id, participants, participant_ids)
		VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + conversationColumns

	created, err := scanConversation(c.s.db.QueryRow(ctx, query, conv.ID, string(participants), conv.ParticipantIDs))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAlreadyExists
		}
		return nil, store.Unavailable("create conversation", errors.Wrap(err, "insert conversation"))
	}

	c.s.publish(store.ConversationsCollection)
	return created, nil
}

func (c conversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1
	`

	conv, err := scanConversation(c.s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Unavailable("get conversation", errors.Wrapf(err, "select conversation %s", id))
	}
	return conv, nil
}

func (c conversationStore) FindByParticipant(ctx context.Context, firebaseID string) ([]models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE participant_ids @> ARRAY[$1]::text[]
		ORDER BY updated_at DESC, id DESC
	`

	rows, err := c.s.db.Query(ctx, query, firebaseID)
	if err != nil {
		return nil, store.Unavailable("find conversations", errors.Wrap(err, "query conversations"))
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, store.Unavailable("find conversations", err)
		}
		conversations = append(conversations, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("find conversations", err)
	}

	return conversations, nil
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

func (c conversationStore) UpdateLastMessage(ctx context.Context, id string, last models.LastMessage) error {
	tag, err := c.s.db.Exec(ctx, `
		UPDATE conversations
		SET last_message_content = $2,
		    last_message_sender_id = $3,
		    last_message_at = $4,
		    updated_at = NOW()
		WHERE id = $1
	`, id, last.Content, last.SenderID, last.Timestamp)
	if err != nil {
		return store.Unavailable("update conversation", errors.Wrapf(err, "update conversation %s", id))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	c.s.publish(store.ConversationsCollection)
	return nil
}

func scanConversation(row scanner) (*models.Conversation, error) {
	var conv models.Conversation
	var participants []byte
	var lastContent *string
	var lastSenderID *string
	var lastAt *time.Time

	if err := row.Scan(
		&conv.ID,
		&participants,
		&conv.ParticipantIDs,
		&lastContent,
		&lastSenderID,
		&lastAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(participants, &conv.Participants); err != nil {
		return nil, errors.Wrapf(err, "decode participants of %s", conv.ID)
	}
	if lastContent != nil {
		conv.LastMessage = &models.LastMessage{Content: *lastContent}
		if lastSenderID != nil {
			conv.LastMessage.SenderID = *lastSenderID
		}
		if lastAt != nil {
			conv.LastMessage.Timestamp = lastAt.UTC()
		}
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.UpdatedAt = conv.UpdatedAt.UTC()

	return &conv, nil
}
