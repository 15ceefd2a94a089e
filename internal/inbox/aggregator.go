// Package inbox joins the conversation and unread-message streams of a user
// into one live list of conversations annotated with unread counts.
package inbox

import (
	"log"
	"sync"

	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/store"
)

type Aggregator struct {
	conversations store.ConversationStore
	messages      store.MessageStore
}

func NewAggregator(conversations store.ConversationStore, messages store.MessageStore) *Aggregator {
	return &Aggregator{
		conversations: conversations,
		messages:      messages,
	}
}

type phase int

const (
	awaitingBoth phase = iota
	partial
	populated
	closed
)

type subscription struct {
	userID string
	cb     func([]models.ConversationSummary)

	mu            sync.Mutex
	phase         phase
	seenConvs     bool
	seenMessages  bool
	conversations []models.Conversation
	messages      []models.Message
	stops         []store.Unsubscribe
}

// Subscribe calls cb with the annotated conversation list of userID after
// every emission of either upstream. Emissions are serialized. When an
// upstream fails the error is logged, cb receives an empty list once and the
// subscription ends; resubscribing is up to the caller.
//
// No callback runs after the returned function returns. It must not be
// called from inside cb.
func (a *Aggregator) Subscribe(userID string, cb func([]models.ConversationSummary)) store.Unsubscribe {
	if userID == "" {
		cb([]models.ConversationSummary{})
		return func() {}
	}

	s := &subscription{userID: userID, cb: cb}

	stopConvs := a.conversations.WatchByParticipant(userID, s.onConversations, s.onError)
	stopMessages := a.messages.Watch(store.MessageFilter{
		ReceiverID: userID,
		Read:       store.Bool(false),
	}, s.onMessages, s.onError)

	s.mu.Lock()
	if s.phase == closed {
		s.mu.Unlock()
		stopConvs()
		stopMessages()
	} else {
		s.stops = []store.Unsubscribe{stopConvs, stopMessages}
		s.mu.Unlock()
	}

	var once sync.Once
	return func() {
		once.Do(s.close)
	}
}

func (s *subscription) onConversations(conversations []models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == closed {
		return
	}
	s.conversations = conversations
	s.seenConvs = true
	s.emitLocked()
}

func (s *subscription) onMessages(messages []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == closed {
		return
	}
	s.messages = messages
	s.seenMessages = true
	s.emitLocked()
}

func (s *subscription) emitLocked() {
	if s.seenConvs && s.seenMessages {
		s.phase = populated
	} else {
		s.phase = partial
	}
	s.cb(Annotate(s.conversations, s.messages, s.userID))
}

func (s *subscription) onError(err error) {
	s.mu.Lock()
	if s.phase == closed {
		s.mu.Unlock()
		return
	}
	log.Printf("inbox subscription %s: %v", s.userID, err)
	s.cb([]models.ConversationSummary{})
	s.phase = closed
	stops := s.stops
	s.stops = nil
	s.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	s.phase = closed
	stops := s.stops
	s.stops = nil
	s.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}
