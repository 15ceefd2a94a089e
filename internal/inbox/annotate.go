package inbox

import "github.com/universalathletics/inbox/internal/models"

// Annotate joins conversations with the unread messages addressed to userID.
// messages may hold any messages; only unread ones for userID are counted.
// The output keeps the order of conversations.
func Annotate(conversations []models.Conversation, messages []models.Message, userID string) []models.ConversationSummary {
	unread := make(map[string]int, len(conversations))
	for _, m := range messages {
		if m.Read || m.ReceiverID != userID {
			continue
		}
		unread[m.ConversationID]++
	}

	out := make([]models.ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		out = append(out, models.ConversationSummary{
			Conversation: conv,
			UnreadCount:  unread[conv.ID],
		})
	}
	return out
}
