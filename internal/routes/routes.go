package routes

import (
	"errors"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/universalathletics/inbox/internal/handlers"
	"github.com/universalathletics/inbox/internal/identity"
	"github.com/universalathletics/inbox/internal/inbox"
	"github.com/universalathletics/inbox/internal/middleware"
	"github.com/universalathletics/inbox/internal/repository"
	"github.com/universalathletics/inbox/internal/services"
	"github.com/universalathletics/inbox/internal/store"
	chatws "github.com/universalathletics/inbox/internal/websocket"
)

func RegisterRoutes(app *fiber.App, st store.Store, verifier identity.Verifier) error {
	if st == nil || verifier == nil {
		return errors.New("routes need a store and a token verifier")
	}

	conversationRepo := repository.NewConversationRepository(st.Conversations())
	messageRepo := repository.NewMessageRepository(st.Messages(), st.Conversations())
	aggregator := inbox.NewAggregator(st.Conversations(), st.Messages())

	chatHub := chatws.NewHub()
	go chatHub.Run()
	chatService := services.NewChatService(conversationRepo, messageRepo, aggregator)
	chatHandler := handlers.NewChatHandler(chatService, chatHub, verifier)

	api := app.Group("/api")

	// The websocket authenticates through its query token, so only the
	// REST group sits behind the header middleware.
	conversations := api.Group("/v1/conversations", middleware.AuthRequired(verifier))
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("", chatHandler.StartConversation)
	conversations.Get("/:id", chatHandler.GetConversation)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)
	conversations.Post("/:id/read", chatHandler.MarkRead)
	conversations.Get("/:id/unread", chatHandler.UnreadCount)

	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	return nil
}
