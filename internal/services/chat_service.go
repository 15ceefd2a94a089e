package services

import (
	"context"
	"errors"
	"log"
	"math"
	"strings"
	"time"

	"github.com/universalathletics/inbox/internal/identity"
	"github.com/universalathletics/inbox/internal/inbox"
	"github.com/universalathletics/inbox/internal/models"
	"github.com/universalathletics/inbox/internal/repository"
	"github.com/universalathletics/inbox/internal/store"
)

// ChatService resolves the caller from the request context and checks that
// they take part in the conversation they address. A context without a user
// yields empty results and performs no writes.
type ChatService struct {
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	aggregator       *inbox.Aggregator
}

type ChatDelivery struct {
	Conversation *models.Conversation
	Message      *models.Message
	RecipientID  string
}

func NewChatService(
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	aggregator *inbox.Aggregator,
) *ChatService {
	return &ChatService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		aggregator:       aggregator,
	}
}

func (s *ChatService) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	userID := identity.CurrentUserID(ctx)
	if userID == "" {
		return []models.ConversationSummary{}, nil
	}

	conversations, err := s.conversationRepo.FindForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	unread, err := s.messageRepo.UnreadForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return inbox.Annotate(conversations, unread, userID), nil
}

// StartConversation finds or creates the conversation between the caller and
// peer. self describes the caller; its firebaseId defaults to the caller.
func (s *ChatService) StartConversation(
	ctx context.Context,
	self models.Participant,
	peer models.Participant,
) (*models.Conversation, error) {
	userID := identity.CurrentUserID(ctx)
	if userID == "" {
		return nil, nil
	}

	if self.FirebaseID == "" {
		self.FirebaseID = userID
	}
	if self.FirebaseID != userID {
		return nil, ErrForbidden
	}

	return s.conversationRepo.FindOrCreate(ctx, self, peer)
}

func (s *ChatService) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	userID := identity.CurrentUserID(ctx)
	if userID == "" {
		return nil, nil
	}
	return s.conversationFor(ctx, conversationID, userID)
}

// ListMessages marks the caller's unread messages in the conversation as read
// and then returns one page, newest first.
func (s *ChatService) ListMessages(
	ctx context.Context,
	conversationID string,
	page int,
	limit int,
) ([]models.Message, int, error) {
	userID := identity.CurrentUserID(ctx)
	if userID == "" {
		return []models.Message{}, 0, nil
	}
	if page <= 0 || limit <= 0 || page-1 > math.MaxInt/limit {
		return nil, 0, ErrInvalidInput
	}

	if _, err := s.conversationFor(ctx, conversationID, userID); err != nil {
		return nil, 0, err
	}
	if _, err := s.messageRepo.MarkAllAsRead(ctx, conversationID, userID); err != nil {
		return nil, 0, err
	}

	return s.messageRepo.Page(ctx, conversationID, limit, (page-1)*limit)
}

func (s *ChatService) SendMessage(
	ctx context.Context,
	conversationID string,
	content string,
) (*ChatDelivery, error) {
	userID := identity.CurrentUserID(ctx)
	if userID == "" {
		return nil, nil
	}
	if strings.TrimSpace(content) == "" {
		return nil, &repository.ValidationError{Field: "content", Reason: "must not be empty"}
	}

	conversation, err := s.conversationFor(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	sender, _ := conversation.Participant(userID)
	receiver, ok := conversation.Counterpart(userID)
	if !ok {
		return nil, ErrInvalidInput
	}

	message, err := s.messageRepo.Send(ctx, conversationID, sender, receiver, content)
	if errors.Is(err, repository.ErrPreviewNotUpdated) {
		log.Printf("chat send %s: %v", conversationID, err)
		err = nil
	}
	if err != nil {
		return nil, err
	}

	return &ChatDelivery{
		Conversation: conversation,
		Message:      message,
		RecipientID:  receiver.FirebaseID,
	}, nil
}

// MarkRead marks the caller's unread messages in the conversation as read.
func (s *ChatService) MarkRead(ctx context.Context, conversationID string) (int, error) {
	userID := identity.CurrentUserID(ctx)
	if userID == "" {
		return 0, nil
	}
	if _, err := s.conversationFor(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	return s.messageRepo.MarkAllAsRead(ctx, conversationID, userID)
}

func (s *ChatService) UnreadCount(ctx context.Context, conversationID string) (int, error) {
	userID := identity.CurrentUserID(ctx)
	if userID == "" {
		return 0, nil
	}
	if _, err := s.conversationFor(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	return s.messageRepo.CountUnread(ctx, conversationID, userID)
}

// SubscribeInbox streams the caller's conversations with live unread counts.
func (s *ChatService) SubscribeInbox(
	ctx context.Context,
	cb func([]models.ConversationSummary),
) (store.Unsubscribe, error) {
	return s.aggregator.Subscribe(identity.CurrentUserID(ctx), cb), nil
}

// SubscribeMessages streams the messages of one conversation. A failing
// subscription is logged and degrades to a final empty list.
func (s *ChatService) SubscribeMessages(
	ctx context.Context,
	conversationID string,
	cb func([]models.Message),
) (store.Unsubscribe, error) {
	userID := identity.CurrentUserID(ctx)
	if userID == "" {
		cb([]models.Message{})
		return func() {}, nil
	}
	if _, err := s.conversationFor(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	return s.messageRepo.List(conversationID, cb, func(err error) {
		log.Printf("chat messages subscription %s: %v", conversationID, err)
		cb([]models.Message{})
	}), nil
}

func (s *ChatService) conversationFor(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrInvalidInput
	}
	conversation, err := s.conversationRepo.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return conversation, nil
}

func FormatChatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
