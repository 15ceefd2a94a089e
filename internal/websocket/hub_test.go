package chatws

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/universalathletics/inbox/internal/identity"
	"github.com/universalathletics/inbox/internal/inbox"
	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/repository"
	"github.com/universalathletics/inbox/internal/services"
	"github.com/universalathletics/inbox/internal/store"
	"github.com/universalathletics/inbox/internal/store/memstore"
)

type fakeConn struct {
	incoming  chan []byte
	written   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 8),
		written:  make(chan []byte, 256),
		closed:   make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case payload, ok := <-f.incoming:
		if !ok {
			return 0, nil, io.EOF
		}
		return 1, payload, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case f.written <- data:
		return nil
	case <-f.closed:
		return io.ErrClosedPipe
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

type frame struct {
	Type           string                       `json:"type"`
	ConversationID string                       `json:"conversationId"`
	Conversations  []models.ConversationSummary `json:"conversations"`
	Messages       []models.Message             `json:"messages"`
	Message        *models.Message              `json:"message"`
	Content        string                       `json:"content"`
}

func nextFrame(t *testing.T, conn *fakeConn, ok func(frame) bool) frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case payload := <-conn.written:
			var f frame
			if err := json.Unmarshal(payload, &f); err != nil {
				t.Fatalf("decode frame %s: %v", payload, err)
			}
			if ok(f) {
				return f
			}
		case <-timeout:
			t.Fatal("timed out waiting for frame")
		}
	}
}

func TestHubBroadcastReachesBothParticipants(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	sender := NewClient(hub, newFakeConn(), "u1")
	recipient := NewClient(hub, newFakeConn(), "u2")
	bystander := NewClient(hub, newFakeConn(), "u3")
	for _, c := range []*Client{sender, recipient, bystander} {
		hub.Register(c)
	}

	hub.Broadcast(&services.ChatDelivery{
		Message:     &models.Message{ID: "m1", ConversationID: "conv_7_42", SenderID: "u1", ReceiverID: "u2", Content: "hi"},
		RecipientID: "u2",
	})

	for _, c := range []*Client{sender, recipient} {
		select {
		case payload := <-c.send:
			var msg Message
			if err := json.Unmarshal(payload, &msg); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if msg.Type != "message" || msg.Message == nil || msg.Message.ID != "m1" {
				t.Fatalf("unexpected frame %s", payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s received nothing", c.userID)
		}
	}

	select {
	case payload := <-bystander.send:
		t.Fatalf("bystander received %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := NewClient(hub, newFakeConn(), "u1")
	hub.Register(client)
	hub.Unregister(client)
	hub.Unregister(client)

	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatal("expected closed send channel")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}

	// Pushing after close must not panic.
	client.push([]byte(`{}`))
}

func TestClientStreamsInboxAndConversation(t *testing.T) {
	s := memstore.New()
	service := services.NewChatService(
		repository.NewConversationRepository(s.Conversations()),
		repository.NewMessageRepository(s.Messages(), s.Conversations()),
		inbox.NewAggregator(s.Conversations(), s.Messages()),
	)
	memberCtx := identity.WithUserID(context.Background(), "u1")
	conv, err := service.StartConversation(memberCtx,
		models.Participant{ID: "42", Type: models.ParticipantMember, Name: "Alex", FirebaseID: "u1"},
		models.Participant{ID: "7", Type: models.ParticipantCoach, Name: "Blair", FirebaseID: "u2"},
	)
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	hub := NewHub()
	go hub.Run()

	conn := newFakeConn()
	client := NewClient(hub, conn, "u2")
	hub.Register(client)
	go client.WritePump()
	done := make(chan struct{})
	go func() {
		client.ReadPump(service)
		close(done)
	}()

	nextFrame(t, conn, func(f frame) bool {
		return f.Type == "inbox" && len(f.Conversations) == 1
	})

	if _, err := service.SendMessage(memberCtx, conv.ID, "welcome aboard"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	nextFrame(t, conn, func(f frame) bool {
		return f.Type == "inbox" && len(f.Conversations) == 1 && f.Conversations[0].UnreadCount == 1
	})

	conn.incoming <- []byte(`{"type":"open","conversationId":"` + conv.ID + `"}`)
	opened := nextFrame(t, conn, func(f frame) bool { return f.Type == "messages" })
	if opened.ConversationID != conv.ID || len(opened.Messages) != 1 || !opened.Messages[0].Read {
		t.Fatalf("unexpected messages frame %+v", opened)
	}

	conn.incoming <- []byte(`{"type":"message","conversationId":"` + conv.ID + `","content":"thanks!"}`)
	sent := nextFrame(t, conn, func(f frame) bool { return f.Type == "message" })
	if sent.Message == nil || sent.Message.Content != "thanks!" || sent.Message.SenderID != "u2" {
		t.Fatalf("unexpected message frame %+v", sent)
	}

	conn.incoming <- []byte(`{"type":"typing"}`)
	failed := nextFrame(t, conn, func(f frame) bool { return f.Type == "error" })
	if !strings.Contains(failed.Content, "unsupported") {
		t.Fatalf("unexpected error frame %+v", failed)
	}

	conn.incoming <- []byte(`{"type":"message","conversationId":"` + conv.ID + `","content":"   "}`)
	nextFrame(t, conn, func(f frame) bool { return f.Type == "error" })

	close(conn.incoming)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read pump did not stop")
	}
}

// capturingService hands every message callback back to the test so it can
// fire late emissions by hand.
type capturingService struct {
	mu        sync.Mutex
	callbacks map[string]func([]models.Message)
	stopped   map[string]int
}

func newCapturingService() *capturingService {
	return &capturingService{
		callbacks: make(map[string]func([]models.Message)),
		stopped:   make(map[string]int),
	}
}

func (s *capturingService) SubscribeInbox(context.Context, func([]models.ConversationSummary)) (store.Unsubscribe, error) {
	return func() {}, nil
}

func (s *capturingService) SubscribeMessages(_ context.Context, conversationID string, cb func([]models.Message)) (store.Unsubscribe, error) {
	s.mu.Lock()
	s.callbacks[conversationID] = cb
	s.mu.Unlock()
	cb([]models.Message{})
	return func() {
		s.mu.Lock()
		s.stopped[conversationID]++
		s.mu.Unlock()
	}, nil
}

func (s *capturingService) MarkRead(context.Context, string) (int, error) {
	return 0, nil
}

func (s *capturingService) SendMessage(context.Context, string, string) (*services.ChatDelivery, error) {
	return nil, nil
}

func (s *capturingService) callback(conversationID string) func([]models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callbacks[conversationID]
}

func (s *capturingService) stops(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped[conversationID]
}

func TestSwitchingConversationsDropsLateFrames(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	service := newCapturingService()
	conn := newFakeConn()
	client := NewClient(hub, conn, "u1")
	hub.Register(client)
	go client.WritePump()
	done := make(chan struct{})
	go func() {
		client.ReadPump(service)
		close(done)
	}()

	conn.incoming <- []byte(`{"type":"open","conversationId":"conv_a"}`)
	nextFrame(t, conn, func(f frame) bool { return f.Type == "messages" && f.ConversationID == "conv_a" })

	conn.incoming <- []byte(`{"type":"open","conversationId":"conv_b"}`)
	nextFrame(t, conn, func(f frame) bool { return f.Type == "messages" && f.ConversationID == "conv_b" })
	if n := service.stops("conv_a"); n != 1 {
		t.Fatalf("expected conv_a to be stopped once, got %d", n)
	}

	// A late emission from the old subscription must not reach the client.
	service.callback("conv_a")([]models.Message{{ID: "late", ConversationID: "conv_a"}})
	service.callback("conv_b")([]models.Message{{ID: "fresh", ConversationID: "conv_b"}})

	got := nextFrame(t, conn, func(f frame) bool { return f.Type == "messages" })
	if got.ConversationID != "conv_b" || len(got.Messages) != 1 || got.Messages[0].ID != "fresh" {
		t.Fatalf("expected the conv_b frame, got %+v", got)
	}

	conn.incoming <- []byte(`{"type":"close"}`)
	close(conn.incoming)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read pump did not stop")
	}
	if n := service.stops("conv_b"); n != 1 {
		t.Fatalf("expected conv_b to be stopped once, got %d", n)
	}
}
