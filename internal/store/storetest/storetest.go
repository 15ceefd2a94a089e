// Package storetest holds the behaviour every store backend must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/store"
)

// WaitTimeout bounds how long a test waits for a live query to catch up.
var WaitTimeout = 5 * time.Second

// Run exercises st. Ids are unique per call so a shared database can be reused
// between runs.
func Run(t *testing.T, st store.Store) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, st) })
	t.Run("FindByParticipant", func(t *testing.T) { testFindByParticipant(t, st) })
	t.Run("UpdateLastMessage", func(t *testing.T) { testUpdateLastMessage(t, st) })
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, st) })
	t.Run("MarkRead", func(t *testing.T) { testMarkRead(t, st) })
	t.Run("WatchByParticipant", func(t *testing.T) { testWatchByParticipant(t, st) })
	t.Run("WatchMessages", func(t *testing.T) { testWatchMessages(t, st) })
}

func participant(kind models.ParticipantType, name string) models.Participant {
	return models.Participant{
		ID:         uuid.NewString()[:8],
		Type:       kind,
		Name:       name,
		FirebaseID: name + "-" + uuid.NewString(),
	}
}

func createPair(t *testing.T, st store.Store) (models.Conversation, models.Participant, models.Participant) {
	t.Helper()

	member := participant(models.ParticipantMember, "member")
	coach := participant(models.ParticipantCoach, "coach")
	conv, err := st.Conversations().Create(context.Background(),
		models.NewConversation("conv_test_"+uuid.NewString(), member, coach))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return *conv, member, coach
}

func insert(t *testing.T, st store.Store, conv models.Conversation, from, to models.Participant, content string) models.Message {
	t.Helper()

	msg, err := st.Messages().Insert(context.Background(), models.Message{
		ConversationID: conv.ID,
		SenderID:       from.FirebaseID,
		SenderType:     from.Type,
		SenderName:     from.Name,
		ReceiverID:     to.FirebaseID,
		ReceiverType:   to.Type,
		Content:        content,
		Read:           true,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return *msg
}

func testCreateAndGet(t *testing.T, st store.Store) {
	ctx := context.Background()
	conv, member, coach := createPair(t, st)

	if conv.CreatedAt.IsZero() || conv.UpdatedAt.IsZero() {
		t.Fatalf("expected store timestamps, got %+v", conv)
	}

	got, err := st.Conversations().Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != conv.ID || len(got.Participants) != 2 {
		t.Fatalf("unexpected conversation: %+v", got)
	}
	if got.Participants[0].FirebaseID != member.FirebaseID || got.Participants[1].FirebaseID != coach.FirebaseID {
		t.Fatalf("participants out of order: %+v", got.Participants)
	}
	if got.Participants[1].Type != models.ParticipantCoach || got.Participants[1].Name != "coach" {
		t.Fatalf("participant fields lost: %+v", got.Participants[1])
	}
	if !got.HasParticipant(member.FirebaseID) || !got.HasParticipant(coach.FirebaseID) {
		t.Fatalf("participantIds not stored: %v", got.ParticipantIDs)
	}
	if got.LastMessage != nil {
		t.Fatalf("expected no last message, got %+v", got.LastMessage)
	}

	_, err = st.Conversations().Create(ctx, models.NewConversation(conv.ID, member, coach))
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	_, err = st.Conversations().Get(ctx, "conv_missing_"+uuid.NewString())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testFindByParticipant(t *testing.T, st store.Store) {
	ctx := context.Background()
	member := participant(models.ParticipantMember, "member")
	first := participant(models.ParticipantCoach, "coach")
	second := participant(models.ParticipantCoach, "coach")

	older, err := st.Conversations().Create(ctx, models.NewConversation("conv_test_"+uuid.NewString(), member, first))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	newer, err := st.Conversations().Create(ctx, models.NewConversation("conv_test_"+uuid.NewString(), member, second))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := st.Conversations().FindByParticipant(ctx, member.FirebaseID)
	if err != nil {
		t.Fatalf("FindByParticipant: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("expected [%s %s], got %v", newer.ID, older.ID, ids(list))
	}

	list, err = st.Conversations().FindByParticipant(ctx, first.FirebaseID)
	if err != nil {
		t.Fatalf("FindByParticipant: %v", err)
	}
	if len(list) != 1 || list[0].ID != older.ID {
		t.Fatalf("expected only %s, got %v", older.ID, ids(list))
	}

	list, err = st.Conversations().FindByParticipant(ctx, "nobody-"+uuid.NewString())
	if err != nil {
		t.Fatalf("FindByParticipant: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no conversations, got %v", ids(list))
	}
}

func testUpdateLastMessage(t *testing.T, st store.Store) {
	ctx := context.Background()
	older, member, _ := createPair(t, st)
	newer, err := st.Conversations().Create(ctx, models.NewConversation("conv_test_"+uuid.NewString(),
		member, participant(models.ParticipantCoach, "coach")))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sentAt := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	err = st.Conversations().UpdateLastMessage(ctx, older.ID, models.LastMessage{
		Content:   "see you tomorrow",
		Timestamp: sentAt,
		SenderID:  member.FirebaseID,
	})
	if err != nil {
		t.Fatalf("UpdateLastMessage: %v", err)
	}

	got, err := st.Conversations().Get(ctx, older.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastMessage == nil || got.LastMessage.Content != "see you tomorrow" || got.LastMessage.SenderID != member.FirebaseID {
		t.Fatalf("unexpected last message: %+v", got.LastMessage)
	}
	if !got.LastMessage.Timestamp.Equal(sentAt) {
		t.Fatalf("expected timestamp %v, got %v", sentAt, got.LastMessage.Timestamp)
	}
	if !got.UpdatedAt.After(newer.UpdatedAt) {
		t.Fatalf("expected updatedAt %v to move past %v", got.UpdatedAt, newer.UpdatedAt)
	}

	list, err := st.Conversations().FindByParticipant(ctx, member.FirebaseID)
	if err != nil {
		t.Fatalf("FindByParticipant: %v", err)
	}
	if len(list) != 2 || list[0].ID != older.ID {
		t.Fatalf("expected %s first after update, got %v", older.ID, ids(list))
	}

	err = st.Conversations().UpdateLastMessage(ctx, "conv_missing_"+uuid.NewString(), models.LastMessage{Content: "x"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testInsertAndFind(t *testing.T, st store.Store) {
	ctx := context.Background()
	conv, member, coach := createPair(t, st)

	first := insert(t, st, conv, member, coach, "hello")
	second := insert(t, st, conv, coach, member, "hi there")
	third := insert(t, st, conv, member, coach, "how are you?")

	if first.ID == "" || first.Timestamp.IsZero() {
		t.Fatalf("expected store-assigned id and timestamp, got %+v", first)
	}
	if first.Read {
		t.Fatal("expected inserted message to be unread")
	}
	if !second.Timestamp.After(first.Timestamp) || !third.Timestamp.After(second.Timestamp) {
		t.Fatalf("timestamps not increasing: %v %v %v", first.Timestamp, second.Timestamp, third.Timestamp)
	}

	all, err := st.Messages().Find(ctx, store.MessageFilter{ConversationID: conv.ID})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(all) != 3 || all[0].ID != third.ID || all[1].ID != second.ID || all[2].ID != first.ID {
		t.Fatalf("expected newest first, got %v", contents(all))
	}
	if all[0].Content != "how are you?" || all[0].SenderName != "member" || all[0].ReceiverType != models.ParticipantCoach {
		t.Fatalf("message fields lost: %+v", all[0])
	}

	toCoach, err := st.Messages().Find(ctx, store.MessageFilter{
		ConversationID: conv.ID,
		ReceiverID:     coach.FirebaseID,
		Read:           store.Bool(false),
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(toCoach) != 2 {
		t.Fatalf("expected 2 unread for coach, got %v", contents(toCoach))
	}

	count, err := st.Messages().Count(ctx, store.MessageFilter{ReceiverID: member.FirebaseID, Read: store.Bool(false)})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 unread for member, got %d", count)
	}
}

func testMarkRead(t *testing.T, st store.Store) {
	ctx := context.Background()
	conv, member, coach := createPair(t, st)
	msg := insert(t, st, conv, member, coach, "ping")

	unread := store.MessageFilter{ConversationID: conv.ID, ReceiverID: coach.FirebaseID, Read: store.Bool(false)}
	if n, err := st.Messages().Count(ctx, unread); err != nil || n != 1 {
		t.Fatalf("expected 1 unread, got %d (%v)", n, err)
	}

	for i := 0; i < 2; i++ {
		if err := st.Messages().MarkRead(ctx, msg.ID); err != nil {
			t.Fatalf("MarkRead #%d: %v", i+1, err)
		}
	}

	if n, err := st.Messages().Count(ctx, unread); err != nil || n != 0 {
		t.Fatalf("expected 0 unread, got %d (%v)", n, err)
	}
	read, err := st.Messages().Find(ctx, store.MessageFilter{ConversationID: conv.ID, Read: store.Bool(true)})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(read) != 1 || read[0].ID != msg.ID {
		t.Fatalf("expected %s read, got %v", msg.ID, contents(read))
	}

	err = st.Messages().MarkRead(ctx, uuid.NewString())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testWatchByParticipant(t *testing.T, st store.Store) {
	ctx := context.Background()
	member := participant(models.ParticipantMember, "member")

	updates := make(chan []models.Conversation, 16)
	unsubscribe := st.Conversations().WatchByParticipant(member.FirebaseID, func(list []models.Conversation) {
		updates <- list
	}, func(err error) {
		t.Errorf("WatchByParticipant: %v", err)
	})
	defer unsubscribe()

	Await(t, updates, func(list []models.Conversation) bool { return len(list) == 0 })

	conv, err := st.Conversations().Create(ctx, models.NewConversation("conv_test_"+uuid.NewString(),
		member, participant(models.ParticipantCoach, "coach")))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	Await(t, updates, func(list []models.Conversation) bool {
		return len(list) == 1 && list[0].ID == conv.ID
	})

	if err := st.Conversations().UpdateLastMessage(ctx, conv.ID, models.LastMessage{
		Content:   "first",
		Timestamp: time.Now().UTC(),
		SenderID:  member.FirebaseID,
	}); err != nil {
		t.Fatalf("UpdateLastMessage: %v", err)
	}
	Await(t, updates, func(list []models.Conversation) bool {
		return len(list) == 1 && list[0].LastMessage != nil && list[0].LastMessage.Content == "first"
	})
}

func testWatchMessages(t *testing.T, st store.Store) {
	conv, member, coach := createPair(t, st)

	updates := make(chan []models.Message, 16)
	unsubscribe := st.Messages().Watch(store.MessageFilter{
		ReceiverID: coach.FirebaseID,
		Read:       store.Bool(false),
	}, func(list []models.Message) {
		updates <- list
	}, func(err error) {
		t.Errorf("Watch: %v", err)
	})

	Await(t, updates, func(list []models.Message) bool { return len(list) == 0 })

	msg := insert(t, st, conv, member, coach, "are you free?")
	Await(t, updates, func(list []models.Message) bool {
		return len(list) == 1 && list[0].ID == msg.ID
	})

	if err := st.Messages().MarkRead(context.Background(), msg.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	Await(t, updates, func(list []models.Message) bool { return len(list) == 0 })

	unsubscribe()
	unsubscribe()
	drain(updates)

	insert(t, st, conv, member, coach, "after unsubscribe")
	select {
	case list := <-updates:
		t.Fatalf("unexpected update after unsubscribe: %v", contents(list))
	case <-time.After(200 * time.Millisecond):
	}
}

// Await reads from ch until ok accepts a value or WaitTimeout passes.
func Await[T any](t *testing.T, ch <-chan T, ok func(T) bool) T {
	t.Helper()

	deadline := time.After(WaitTimeout)
	for {
		select {
		case v := <-ch:
			if ok(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for update")
		}
	}
}

func drain[T any](ch <-chan T) {
	for {
		select {
		case <-ch:
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func ids(list []models.Conversation) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func contents(list []models.Message) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.Content)
	}
	return out
}
