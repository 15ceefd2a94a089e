package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/store"
	"github.com/universalathletics/inbox/internal/store/watch"
)

const foreignKeyViolation = "23503"

const messageColumns = `
	id,
	conversation_id,
	sender_id,
	sender_type,
	sender_name,
	sender_profile_pic,
	receiver_id,
	receiver_type,
	content,
	sent_at,
	read
`

type messageStore struct {
	s *Store
}

func (m messageStore) Insert(ctx context.Context, msg models.Message) (*models.Message, error) {
	query := `
		INSERT INTO messages (
			id,
			conversation_id,
			sender_id,
			sender_type,
			sender_name,
			sender_profile_pic,
			receiver_id,
			receiver_type,
			content
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + messageColumns

	created, err := scanMessage(m.s.db.QueryRow(ctx, query,
		uuid.NewString(),
		msg.ConversationID,
		msg.SenderID,
		string(msg.SenderType),
		msg.SenderName,
		msg.SenderProfilePic,
		msg.ReceiverID,
		string(msg.ReceiverType),
		msg.Content,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return nil, store.ErrNotFound
		}
		return nil, store.Unavailable("insert message", errors.Wrap(err, "insert message"))
	}

	m.s.publish(store.MessagesCollection)
	return created, nil
}

func (m messageStore) Find(ctx context.Context, filter store.MessageFilter) ([]models.Message, error) {
	where, args := messageWhere(filter)
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		` + where + `
		ORDER BY sent_at DESC, seq DESC
	`

	rows, err := m.s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, store.Unavailable("find messages", errors.Wrap(err, "query messages"))
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, store.Unavailable("find messages", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("find messages", err)
	}

	return messages, nil
}

func (m messageStore) Count(ctx context.Context, filter store.MessageFilter) (int, error) {
	where, args := messageWhere(filter)

	var total int
	if err := m.s.db.QueryRow(ctx, `SELECT COUNT(*) FROM messages `+where, args...).Scan(&total); err != nil {
		return 0, store.Unavailable("count messages", errors.Wrap(err, "count messages"))
	}
	return total, nil
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

func (m messageStore) MarkRead(ctx context.Context, id string) error {
	tag, err := m.s.db.Exec(ctx, `
		UPDATE messages
		SET read = TRUE
		WHERE id = $1
		  AND read = FALSE
	`, id)
	if err != nil {
		return store.Unavailable("mark message read", errors.Wrapf(err, "update message %s", id))
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := m.s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists); err != nil {
			return store.Unavailable("mark message read", err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return nil
	}

	m.s.publish(store.MessagesCollection)
	return nil
}

func messageWhere(filter store.MessageFilter) (string, []any) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if filter.ConversationID != "" {
		args = append(args, filter.ConversationID)
		clauses = append(clauses, fmt.Sprintf("conversation_id = $%d", len(args)))
	}
	if filter.ReceiverID != "" {
		args = append(args, filter.ReceiverID)
		clauses = append(clauses, fmt.Sprintf("receiver_id = $%d", len(args)))
	}
	if filter.Read != nil {
		args = append(args, *filter.Read)
		clauses = append(clauses, fmt.Sprintf("read = $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func scanMessage(row scanner) (*models.Message, error) {
	var msg models.Message
	var senderType string
	var receiverType string

	if err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&senderType,
		&msg.SenderName,
		&msg.SenderProfilePic,
		&msg.ReceiverID,
		&receiverType,
		&msg.Content,
		&msg.Timestamp,
		&msg.Read,
	); err != nil {
		return nil, err
	}

	msg.SenderType = models.ParticipantType(senderType)
	msg.ReceiverType = models.ParticipantType(receiverType)
	msg.Timestamp = msg.Timestamp.UTC()
	return &msg, nil
}
