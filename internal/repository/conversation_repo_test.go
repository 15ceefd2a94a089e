package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/universalathletics/inbox/internal/models"
)

func TestDeterministicConversationID(t *testing.T) {
	id, ok := DeterministicConversationID(member("42", "u1"), coach("7", "u2"))
	if !ok || id != "conv_7_42" {
		t.Fatalf("expected conv_7_42, got %q (%v)", id, ok)
	}

	swapped, _ := DeterministicConversationID(coach("7", "u2"), member("42", "u1"))
	if swapped != id {
		t.Fatalf("expected order independent id, got %q and %q", id, swapped)
	}

	if _, ok := DeterministicConversationID(member("guest", "u1"), coach("7", "u2")); ok {
		t.Fatal("expected no deterministic id for a non-numeric participant")
	}
}

func TestFindOrCreateIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, b := member("42", "u1"), coach("7", "u2")

	first, err := f.convRepo.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	second, err := f.convRepo.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	reversed, err := f.convRepo.FindOrCreate(ctx, b, a)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}

	if first.ID != "conv_7_42" || second.ID != first.ID || reversed.ID != first.ID {
		t.Fatalf("expected one id, got %q %q %q", first.ID, second.ID, reversed.ID)
	}
	if got := f.conversations.writes.Load(); got != 1 {
		t.Fatalf("expected a single create, got %d writes", got)
	}

	all, err := f.convRepo.FindForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("FindForUser: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(all))
	}
	if first.LastMessage != nil {
		t.Fatalf("expected empty lastMessage, got %+v", first.LastMessage)
	}
	if first.CreatedAt.IsZero() || !first.CreatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("expected store-assigned timestamps, got %v %v", first.CreatedAt, first.UpdatedAt)
	}
}

func TestFindOrCreateWithoutNumericIDsUsesOpaqueID(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, b := member("", "guest-1"), coach("7", "u2")

	first, err := f.convRepo.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if !strings.HasPrefix(first.ID, "conv_") || first.ID == "conv_" {
		t.Fatalf("unexpected opaque id %q", first.ID)
	}

	second, err := f.convRepo.FindOrCreate(ctx, b, a)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the existing conversation, got %q and %q", first.ID, second.ID)
	}
}

func TestFindOrCreateReusesLegacyConversation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, b := member("42", "u1"), coach("7", "u2")

	if _, err := f.store.Conversations().Create(ctx, models.NewConversation("legacy-doc", a, b)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	conv, err := f.convRepo.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if conv.ID != "legacy-doc" {
		t.Fatalf("expected legacy-doc, got %q", conv.ID)
	}
}

func TestFindOrCreateFallsBackWhenDeterministicIDIsTaken(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	taken, err := f.convRepo.FindOrCreate(ctx, member("1", "u1"), coach("2", "u2"))
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}

	// Same numeric ids, different people.
	other, err := f.convRepo.FindOrCreate(ctx, coach("1", "u3"), member("2", "u4"))
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if other.ID == taken.ID {
		t.Fatalf("expected a fresh id, got %q", other.ID)
	}
	if !other.HasParticipant("u3") || !other.HasParticipant("u4") {
		t.Fatalf("unexpected participants %v", other.ParticipantIDs)
	}
}

func TestFindOrCreateRejectsMissingFirebaseID(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.convRepo.FindOrCreate(ctx, member("42", ""), coach("7", "u2"))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if validationErr.Field != "participantA.firebaseId" {
		t.Fatalf("unexpected field %q", validationErr.Field)
	}

	_, err = f.convRepo.FindOrCreate(ctx, member("42", "u1"), coach("7", "  "))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	_, err = f.convRepo.FindOrCreate(ctx, member("42", "u1"), coach("7", "u1"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for a self conversation, got %v", err)
	}

	invalidType := coach("7", "u2")
	invalidType.Type = "ADMIN"
	_, err = f.convRepo.FindOrCreate(ctx, member("42", "u1"), invalidType)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for an unknown participant type, got %v", err)
	}

	if got := f.writes(); got != 0 {
		t.Fatalf("expected no writes, got %d", got)
	}
}

func TestListForUserEmitsUpdatesMostRecentFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	older, err := f.convRepo.FindOrCreate(ctx, member("42", "u1"), coach("7", "u2"))
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	newer, err := f.convRepo.FindOrCreate(ctx, member("42", "u1"), coach("8", "u3"))
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}

	emissions := make(chan []models.Conversation, 16)
	unsubscribe := f.convRepo.ListForUser("u1", func(list []models.Conversation) {
		emissions <- list
	}, nil)
	defer unsubscribe()

	first := waitFor(t, emissions, func(list []models.Conversation) bool { return len(list) == 2 })
	if first[0].ID != newer.ID || first[1].ID != older.ID {
		t.Fatalf("unexpected order %s, %s", first[0].ID, first[1].ID)
	}

	if _, err := f.msgRepo.Send(ctx, older.ID, member("42", "u1"), coach("7", "u2"), "bump"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	bumped := waitFor(t, emissions, func(list []models.Conversation) bool {
		return len(list) == 2 && list[0].ID == older.ID
	})
	if bumped[0].LastMessage == nil || bumped[0].LastMessage.Content != "bump" {
		t.Fatalf("expected bumped preview, got %+v", bumped[0].LastMessage)
	}
}

func TestListForUserWithoutUserEmitsEmpty(t *testing.T) {
	f := newFixture()

	var got []models.Conversation
	called := 0
	unsubscribe := f.convRepo.ListForUser("", func(list []models.Conversation) {
		called++
		got = list
	}, nil)
	unsubscribe()
	unsubscribe()

	if called != 1 || got == nil || len(got) != 0 {
		t.Fatalf("expected one empty emission, got %d calls with %v", called, got)
	}
}

func TestFindOrCreateConvergesUnderConcurrency(t *testing.T) {
	const workers = 8

	for round := 0; round < 50; round++ {
		f := newFixture()
		ctx := context.Background()
		a, b := member("42", "u1"), coach("7", "u2")

		ids := make(chan string, workers)
		errs := make(chan error, workers)
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				first, second := a, b
				if i%2 == 1 {
					first, second = b, a
				}
				conv, err := f.convRepo.FindOrCreate(ctx, first, second)
				if err != nil {
					errs <- err
					return
				}
				ids <- conv.ID
			}(i)
		}
		close(start)
		wg.Wait()
		close(ids)
		close(errs)

		for err := range errs {
			t.Fatalf("round %d: FindOrCreate: %v", round, err)
		}
		for id := range ids {
			if id != "conv_7_42" {
				t.Fatalf("round %d: expected conv_7_42, got %q", round, id)
			}
		}

		list, err := f.convRepo.FindForUser(ctx, "u1")
		if err != nil {
			t.Fatalf("FindForUser: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("round %d: expected one conversation, got %d", round, len(list))
		}
	}
}
