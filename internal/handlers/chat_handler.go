package handlers

import (
	"context"
	"errors"
	"log"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/universalathletics/inbox/internal/identity"
	"github.com/universalathletics/inbox/internal/middleware"
	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/repository"
	"github.com/universalathletics/inbox/internal/services"
	"github.com/universalathletics/inbox/internal/store"
	chatws "github.com/universalathletics/inbox/internal/websocket"
)

type chatApplicationService interface {
	ListConversations(ctx context.Context) ([]models.ConversationSummary, error)
	StartConversation(ctx context.Context, self models.Participant, peer models.Participant) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, page int, limit int) ([]models.Message, int, error)
	SendMessage(ctx context.Context, conversationID string, content string) (*services.ChatDelivery, error)
	MarkRead(ctx context.Context, conversationID string) (int, error)
	UnreadCount(ctx context.Context, conversationID string) (int, error)
	SubscribeInbox(ctx context.Context, cb func([]models.ConversationSummary)) (store.Unsubscribe, error)
	SubscribeMessages(ctx context.Context, conversationID string, cb func([]models.Message)) (store.Unsubscribe, error)
}

type ChatHandler struct {
	service  chatApplicationService
	hub      *chatws.Hub
	verifier identity.Verifier
}

type startConversationRequest struct {
	Participant models.Participant `json:"participant"`
	Peer        models.Participant `json:"peer"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

func NewChatHandler(service chatApplicationService, hub *chatws.Hub, verifier identity.Verifier) *ChatHandler {
	return &ChatHandler{
		service:  service,
		hub:      hub,
		verifier: verifier,
	}
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	ctx, ok := authenticatedContext(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversations, err := h.service.ListConversations(ctx)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversations": conversations})
}

func (h *ChatHandler) StartConversation(c *fiber.Ctx) error {
	ctx, ok := authenticatedContext(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req startConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Participant.FirebaseID == "" {
		req.Participant.FirebaseID = identity.CurrentUserID(ctx)
	}
	if msg := validateRequest(req); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	conversation, err := h.service.StartConversation(ctx, req.Participant, req.Peer)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) GetConversation(c *fiber.Ctx) error {
	ctx, ok := authenticatedContext(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversation, err := h.service.GetConversation(ctx, c.Params("id"))
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	ctx, ok := authenticatedContext(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	messages, total, err := h.service.ListMessages(ctx, c.Params("id"), page, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":   messages,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	ctx, ok := authenticatedContext(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if msg := validateRequest(req); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	delivery, err := h.service.SendMessage(ctx, c.Params("id"), req.Content)
	if err != nil {
		return mapChatError(c, err)
	}
	if h.hub != nil {
		h.hub.Broadcast(delivery)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": delivery.Message})
}

func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	ctx, ok := authenticatedContext(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	marked, err := h.service.MarkRead(ctx, c.Params("id"))
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"marked": marked})
}

func (h *ChatHandler) UnreadCount(c *fiber.Ctx) error {
	ctx, ok := authenticatedContext(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	count, err := h.service.UnreadCount(ctx, c.Params("id"))
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"unreadCount": count})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		tokenString, _ = middleware.BearerToken(c.Get("Authorization"))
	}
	if tokenString == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing token"})
	}

	userID, err := h.verifier.Verify(c.UserContext(), tokenString)
	if err != nil || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", userID)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	client := chatws.NewClient(h.hub, conn, userID)

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.service)
}

// authenticatedContext returns the request context carrying the caller set
// by the auth middleware.
func authenticatedContext(c *fiber.Ctx) (context.Context, bool) {
	ctx := c.UserContext()
	if identity.CurrentUserID(ctx) != "" {
		return ctx, true
	}
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return nil, false
	}
	return identity.WithUserID(ctx, userID), true
}

func mapChatError(c *fiber.Ctx, err error) error {
	var validationErr *repository.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationErr.Error()})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	case errors.Is(err, store.ErrUnavailable):
		log.Printf("chat request %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Chat store unavailable"})
	default:
		log.Printf("chat request %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
