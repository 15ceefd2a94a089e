package fsstore

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/universalathletics/inbox/internal/models"
)

// Document layouts match what the mobile client writes.

type participantDoc struct {
	ID         string `firestore:"id"`
	Type       string `firestore:"type"`
	Name       string `firestore:"name"`
	ProfilePic string `firestore:"profilePic"`
	FirebaseID string `firestore:"firebaseId"`
}

type lastMessageDoc struct {
	Content   string    `firestore:"content"`
	Timestamp time.Time `firestore:"timestamp"`
	SenderID  string    `firestore:"senderId"`
}

type conversationDoc struct {
	Participants   []participantDoc `firestore:"participants"`
	ParticipantIDs []string         `firestore:"participantIds"`
	LastMessage    *lastMessageDoc  `firestore:"lastMessage"`
	CreatedAt      time.Time        `firestore:"createdAt,serverTimestamp"`
	UpdatedAt      time.Time        `firestore:"updatedAt,serverTimestamp"`
}

type messageDoc struct {
	ConversationID   string    `firestore:"conversationId"`
	SenderID         string    `firestore:"senderId"`
	SenderType       string    `firestore:"senderType"`
	SenderName       string    `firestore:"senderName"`
	SenderProfilePic string    `firestore:"senderProfilePic"`
	ReceiverID       string    `firestore:"receiverId"`
	ReceiverType     string    `firestore:"receiverType"`
	Content          string    `firestore:"content"`
	Timestamp        time.Time `firestore:"timestamp,serverTimestamp"`
	Read             bool      `firestore:"read"`
}

func toConversationDoc(conv models.Conversation) conversationDoc {
	doc := conversationDoc{
		Participants:   make([]participantDoc, 0, len(conv.Participants)),
		ParticipantIDs: make([]string, 0, len(conv.Participants)),
	}
	for _, p := range conv.Participants {
		doc.Participants = append(doc.Participants, participantDoc{
			ID:         p.ID,
			Type:       string(p.Type),
			Name:       p.Name,
			ProfilePic: p.ProfilePic,
			FirebaseID: p.FirebaseID,
		})
		doc.ParticipantIDs = append(doc.ParticipantIDs, p.FirebaseID)
	}
	return doc
}

func fromConversationDoc(id string, doc conversationDoc) models.Conversation {
	conv := models.Conversation{
		ID:             id,
		Participants:   make([]models.Participant, 0, len(doc.Participants)),
		ParticipantIDs: append([]string(nil), doc.ParticipantIDs...),
		CreatedAt:      doc.CreatedAt.UTC(),
		UpdatedAt:      doc.UpdatedAt.UTC(),
	}
	for _, p := range doc.Participants {
		conv.Participants = append(conv.Participants, models.Participant{
			ID:         p.ID,
			Type:       models.ParticipantType(p.Type),
			Name:       p.Name,
			ProfilePic: p.ProfilePic,
			FirebaseID: p.FirebaseID,
		})
	}
	if doc.LastMessage != nil {
		conv.LastMessage = &models.LastMessage{
			Content:   doc.LastMessage.Content,
			Timestamp: doc.LastMessage.Timestamp.UTC(),
			SenderID:  doc.LastMessage.SenderID,
		}
	}
	return conv
}

func toMessageDoc(msg models.Message) messageDoc {
	return messageDoc{
		ConversationID:   msg.ConversationID,
		SenderID:         msg.SenderID,
		SenderType:       string(msg.SenderType),
		SenderName:       msg.SenderName,
		SenderProfilePic: msg.SenderProfilePic,
		ReceiverID:       msg.ReceiverID,
		ReceiverType:     string(msg.ReceiverType),
		Content:          msg.Content,
	}
}

func fromMessageDoc(id string, doc messageDoc) models.Message {
	return models.Message{
		ID:               id,
		ConversationID:   doc.ConversationID,
		SenderID:         doc.SenderID,
		SenderType:       models.ParticipantType(doc.SenderType),
		SenderName:       doc.SenderName,
		SenderProfilePic: doc.SenderProfilePic,
		ReceiverID:       doc.ReceiverID,
		ReceiverType:     models.ParticipantType(doc.ReceiverType),
		Content:          doc.Content,
		Timestamp:        doc.Timestamp.UTC(),
		Read:             doc.Read,
	}
}

func lastMessageUpdates(last models.LastMessage) []firestore.Update {
	return []firestore.Update{
		{Path: "lastMessage", Value: lastMessageDoc{
			Content:   last.Content,
			Timestamp: last.Timestamp,
			SenderID:  last.SenderID,
		}},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
}
