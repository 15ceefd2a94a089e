package chatws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/universalathletics/inbox/internal/identity"
	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/services"
	"github.com/universalathletics/inbox/internal/store"
)

type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
}

type conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Client struct {
	hub    *Hub
	conn   conn
	userID string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

type chatService interface {
	SubscribeInbox(ctx context.Context, cb func([]models.ConversationSummary)) (store.Unsubscribe, error)
	SubscribeMessages(ctx context.Context, conversationID string, cb func([]models.Message)) (store.Unsubscribe, error)
	MarkRead(ctx context.Context, conversationID string) (int, error)
	SendMessage(ctx context.Context, conversationID string, content string) (*services.ChatDelivery, error)
}

// Message is pushed to both participants' devices when a message is sent.
type Message struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	RecipientID    string          `json:"recipientId,omitempty"`
	Message        *models.Message `json:"message"`
}

type inboxFrame struct {
	Type          string                       `json:"type"`
	Conversations []models.ConversationSummary `json:"conversations"`
}

type messagesFrame struct {
	Type           string           `json:"type"`
	ConversationID string           `json:"conversationId"`
	Messages       []models.Message `json:"messages"`
}

type errorFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type incomingFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 64),
	}
}

func NewClient(hub *Hub, conn conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 32),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			set, ok := h.clients[client.userID]
			if ok {
				delete(set, client)
				if len(set) == 0 {
					delete(h.clients, client.userID)
				}
			}
			client.closeSend()
		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast pushes a sent message to every connection of both participants.
func (h *Hub) Broadcast(delivery *services.ChatDelivery) {
	if delivery == nil || delivery.Message == nil {
		return
	}
	h.broadcast <- &Message{
		Type:           "message",
		ConversationID: delivery.Message.ConversationID,
		SenderID:       delivery.Message.SenderID,
		RecipientID:    delivery.RecipientID,
		Message:        delivery.Message,
	}
}

func (h *Hub) deliver(message *Message) {
	encoded, err := json.Marshal(message)
	if err != nil {
		log.Printf("chat hub encode message: %v", err)
		return
	}

	h.sendToUser(message.SenderID, encoded)
	if message.RecipientID != "" && message.RecipientID != message.SenderID {
		h.sendToUser(message.RecipientID, encoded)
	}
}

func (h *Hub) sendToUser(userID string, payload []byte) {
	for client := range h.clients[userID] {
		client.push(payload)
	}
}

// push queues payload without blocking. A client that cannot keep up is
// disconnected and expected to reconnect.
func (c *Client) push(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		log.Printf("chat client %s: send buffer full, closing", c.userID)
		_ = c.conn.Close()
	}
}

func (c *Client) pushFrame(frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("chat client %s encode frame: %v", c.userID, err)
		return
	}
	c.push(payload)
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump streams the user's inbox, handles client frames until the
// connection ends, and then releases every subscription it opened.
func (c *Client) ReadPump(service chatService) {
	ctx := identity.WithUserID(context.Background(), c.userID)
	var stopMessages store.Unsubscribe

	stopInbox, err := service.SubscribeInbox(ctx, func(list []models.ConversationSummary) {
		c.pushFrame(inboxFrame{Type: "inbox", Conversations: list})
	})
	if err != nil {
		log.Printf("chat client %s subscribe inbox: %v", c.userID, err)
		writeError(c, "failed to load conversations")
	}

	defer func() {
		if stopInbox != nil {
			stopInbox()
		}
		if stopMessages != nil {
			stopMessages()
		}
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var incoming incomingFrame
		if err := json.Unmarshal(payload, &incoming); err != nil {
			writeError(c, "invalid message payload")
			continue
		}

		switch incoming.Type {
		case "open":
			if stopMessages != nil {
				stopMessages()
				stopMessages = nil
			}
			conversationID := incoming.ConversationID
			if _, err := service.MarkRead(ctx, conversationID); err != nil {
				writeError(c, "failed to open conversation")
				continue
			}
			stopMessages, err = c.openConversation(ctx, service, conversationID)
			if err != nil {
				writeError(c, "failed to open conversation")
			}
		case "close":
			if stopMessages != nil {
				stopMessages()
				stopMessages = nil
			}
		case "message":
			delivery, err := service.SendMessage(ctx, incoming.ConversationID, incoming.Content)
			if err != nil {
				writeError(c, "failed to send message")
				continue
			}
			c.hub.Broadcast(delivery)
		default:
			writeError(c, "unsupported message type")
		}
	}
}

// openConversation subscribes to one conversation's messages. Once the
// returned function returns no further frame from that subscription is
// queued, so switching conversations never leaks a stale list.
func (c *Client) openConversation(ctx context.Context, service chatService, conversationID string) (store.Unsubscribe, error) {
	var mu sync.Mutex
	stopped := false

	stop, err := service.SubscribeMessages(ctx, conversationID, func(list []models.Message) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		c.pushFrame(messagesFrame{Type: "messages", ConversationID: conversationID, Messages: list})
	})
	if err != nil {
		return nil, err
	}

	return func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
		stop()
	}, nil
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func writeError(client *Client, message string) {
	client.pushFrame(errorFrame{
		Type:      "error",
		Content:   message,
		Timestamp: services.FormatChatTimestamp(time.Now().UTC()),
	})
}
