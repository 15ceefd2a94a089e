package repository

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/store"
)

func TestSendThenListScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, b := member("42", "u1"), coach("7", "u2")

	conv, err := f.convRepo.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}

	emissions := make(chan []models.Message, 16)
	unsubscribe := f.msgRepo.List(conv.ID, func(list []models.Message) {
		emissions <- list
	}, nil)
	defer unsubscribe()

	sent, err := f.msgRepo.Send(ctx, conv.ID, a, b, "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent.ID == "" || sent.Timestamp.IsZero() {
		t.Fatalf("expected store-assigned id and timestamp, got %+v", sent)
	}

	list := waitFor(t, emissions, func(list []models.Message) bool { return len(list) == 1 })
	got := list[0]
	if got.Content != "hello" || got.Read || got.SenderID != "u1" || got.ReceiverID != "u2" {
		t.Fatalf("unexpected message %+v", got)
	}
	if got.SenderType != models.ParticipantMember || got.ReceiverType != models.ParticipantCoach {
		t.Fatalf("unexpected participant types %q %q", got.SenderType, got.ReceiverType)
	}

	updated, err := f.convRepo.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.LastMessage == nil || updated.LastMessage.Content != "hello" || updated.LastMessage.SenderID != "u1" {
		t.Fatalf("unexpected preview %+v", updated.LastMessage)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Fatalf("expected updatedAt to move past createdAt, got %v and %v", updated.UpdatedAt, updated.CreatedAt)
	}
}

func TestSendRejectsEmptyContent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, b := member("42", "u1"), coach("7", "u2")

	conv, err := f.convRepo.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	before := f.writes()

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := f.msgRepo.Send(ctx, conv.ID, a, b, content)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %q, got %v", content, err)
		}
	}

	if got := f.writes() - before; got != 0 {
		t.Fatalf("expected no writes, got %d", got)
	}
}

func TestSendStoresTrimmedContent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, b := member("42", "u1"), coach("7", "u2")

	conv, err := f.convRepo.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}

	sent, err := f.msgRepo.Send(ctx, conv.ID, a, b, "  see you at 6  ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent.Content != "see you at 6" {
		t.Fatalf("unexpected content %q", sent.Content)
	}
}

func TestSendReportsStalePreview(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, b := member("42", "u1"), coach("7", "u2")

	conv, err := f.convRepo.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	f.conversations.failPreview = true

	sent, err := f.msgRepo.Send(ctx, conv.ID, a, b, "hello")
	if !errors.Is(err, ErrPreviewNotUpdated) || !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected stale preview error, got %v", err)
	}
	if sent == nil || sent.Content != "hello" {
		t.Fatalf("expected the stored message, got %+v", sent)
	}

	count, err := f.msgRepo.CountUnread(ctx, conv.ID, "u2")
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the message to be persisted, got %d unread", count)
	}
}

func TestMarkAllAsReadIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, b := member("42", "u1"), coach("7", "u2")

	conv, err := f.convRepo.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	for _, content := range []string{"one", "two"} {
		if _, err := f.msgRepo.Send(ctx, conv.ID, a, b, content); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if _, err := f.msgRepo.Send(ctx, conv.ID, b, a, "reply"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	marked, err := f.msgRepo.MarkAllAsRead(ctx, conv.ID, "u2")
	if err != nil {
		t.Fatalf("MarkAllAsRead: %v", err)
	}
	if marked != 2 {
		t.Fatalf("expected 2 marked, got %d", marked)
	}

	before := f.writes()
	marked, err = f.msgRepo.MarkAllAsRead(ctx, conv.ID, "u2")
	if err != nil {
		t.Fatalf("MarkAllAsRead: %v", err)
	}
	if marked != 0 || f.writes() != before {
		t.Fatalf("expected a no-op, got %d marked and %d writes", marked, f.writes()-before)
	}

	count, err := f.msgRepo.CountUnread(ctx, conv.ID, "u2")
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 unread, got %d", count)
	}

	// The reply to u1 is untouched.
	count, err = f.msgRepo.CountUnread(ctx, conv.ID, "u1")
	if err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 unread for u1, got %d", count)
	}
}

func TestReadStateNeverReverts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, b := member("42", "u1"), coach("7", "u2")

	conv, err := f.convRepo.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	first, err := f.msgRepo.Send(ctx, conv.ID, a, b, "first")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := f.msgRepo.MarkAllAsRead(ctx, conv.ID, "u2"); err != nil {
		t.Fatalf("MarkAllAsRead: %v", err)
	}

	if _, err := f.msgRepo.Send(ctx, conv.ID, a, b, "second"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := f.msgRepo.MarkAllAsRead(ctx, conv.ID, "u1"); err != nil {
		t.Fatalf("MarkAllAsRead: %v", err)
	}

	messages, _, err := f.msgRepo.Page(ctx, conv.ID, 10, 0)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	for _, m := range messages {
		if m.ID == first.ID && !m.Read {
			t.Fatal("read message reverted to unread")
		}
		if m.Content == "second" && m.Read {
			t.Fatal("second message marked read by the wrong user")
		}
	}
}

func TestPage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, b := member("42", "u1"), coach("7", "u2")

	conv, err := f.convRepo.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	for _, content := range []string{"1", "2", "3", "4", "5"} {
		if _, err := f.msgRepo.Send(ctx, conv.ID, a, b, content); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	page, total, err := f.msgRepo.Page(ctx, conv.ID, 2, 2)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if total != 5 || len(page) != 2 || page[0].Content != "3" || page[1].Content != "2" {
		t.Fatalf("unexpected page total=%d %+v", total, page)
	}

	page, total, err = f.msgRepo.Page(ctx, conv.ID, 2, 10)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if total != 5 || len(page) != 0 {
		t.Fatalf("expected an empty page, got total=%d len=%d", total, len(page))
	}
}

func TestUnauthenticatedCallsAreNoOps(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	marked, err := f.msgRepo.MarkAllAsRead(ctx, "conv_1_2", "")
	if err != nil || marked != 0 {
		t.Fatalf("expected no-op, got %d %v", marked, err)
	}
	count, err := f.msgRepo.CountUnread(ctx, "conv_1_2", "")
	if err != nil || count != 0 {
		t.Fatalf("expected 0, got %d %v", count, err)
	}
	unread, err := f.msgRepo.UnreadForUser(ctx, "")
	if err != nil || len(unread) != 0 {
		t.Fatalf("expected empty, got %v %v", unread, err)
	}
	if got := f.writes(); got != 0 {
		t.Fatalf("expected no writes, got %d", got)
	}
}

func TestSendToMissingConversation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.msgRepo.Send(ctx, "conv_does_not_exist", member("42", "u1"), coach("7", "u2"), "hello")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, ErrPreviewNotUpdated) {
		t.Fatalf("expected no partial write, got %v", err)
	}
	if got := f.writes(); got != 0 {
		t.Fatalf("expected no writes, got %d", got)
	}

	orphans, err := f.store.Messages().Find(ctx, store.MessageFilter{ConversationID: "conv_does_not_exist"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("expected no stored messages, got %d", len(orphans))
	}
}

func TestPageOutOfRangeOffsets(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, b := member("42", "u1"), coach("7", "u2")

	conv, err := f.convRepo.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	for _, content := range []string{"1", "2", "3"} {
		if _, err := f.msgRepo.Send(ctx, conv.ID, a, b, content); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	page, total, err := f.msgRepo.Page(ctx, conv.ID, 50, math.MinInt+8)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if total != 3 || len(page) != 0 {
		t.Fatalf("expected an empty page for a negative offset, got total=%d len=%d", total, len(page))
	}

	page, total, err = f.msgRepo.Page(ctx, conv.ID, math.MaxInt, 1)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if total != 3 || len(page) != 2 || page[0].Content != "2" {
		t.Fatalf("expected the remaining two messages, got total=%d %+v", total, page)
	}
}
