package models

import "time"

type ParticipantType string

const (
	ParticipantCoach  ParticipantType = "COACH"
	ParticipantMember ParticipantType = "MEMBER"
)

// Participant is one side of a conversation. ID is the application id from
// the REST backend, FirebaseID the identity-provider id used for messaging.
type Participant struct {
	ID         string          `json:"id"`
	Type       ParticipantType `json:"type" validate:"omitempty,oneof=COACH MEMBER"`
	Name       string          `json:"name"`
	ProfilePic string          `json:"profilePic,omitempty"`
	FirebaseID string          `json:"firebaseId" validate:"required"`
}

type LastMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	SenderID  string    `json:"senderId"`
}

type Conversation struct {
	ID             string        `json:"id"`
	Participants   []Participant `json:"participants"`
	ParticipantIDs []string      `json:"participantIds"`
	LastMessage    *LastMessage  `json:"lastMessage,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

type Message struct {
	ID               string          `json:"id"`
	ConversationID   string          `json:"conversationId"`
	SenderID         string          `json:"senderId"`
	SenderType       ParticipantType `json:"senderType"`
	SenderName       string          `json:"senderName"`
	SenderProfilePic string          `json:"senderProfilePic,omitempty"`
	ReceiverID       string          `json:"receiverId"`
	ReceiverType     ParticipantType `json:"receiverType"`
	Content          string          `json:"content"`
	Timestamp        time.Time       `json:"timestamp"`
	Read             bool            `json:"read"`
}

type ConversationSummary struct {
	Conversation
	UnreadCount int `json:"unreadCount"`
}

type PaginationMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewConversation builds a conversation document for the pair, keeping
// ParticipantIDs in sync with Participants.
func NewConversation(id string, a, b Participant) Conversation {
	return Conversation{
		ID:             id,
		Participants:   []Participant{a, b},
		ParticipantIDs: []string{a.FirebaseID, b.FirebaseID},
	}
}

func (c Conversation) HasParticipant(firebaseID string) bool {
	if firebaseID == "" {
		return false
	}
	for _, id := range c.ParticipantIDs {
		if id == firebaseID {
			return true
		}
	}
	return false
}

// Participant returns the entry for firebaseID.
func (c Conversation) Participant(firebaseID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.FirebaseID == firebaseID {
			return p, true
		}
	}
	return Participant{}, false
}

// Counterpart returns the participant that is not firebaseID.
func (c Conversation) Counterpart(firebaseID string) (Participant, bool) {
	if !c.HasParticipant(firebaseID) {
		return Participant{}, false
	}
	for _, p := range c.Participants {
		if p.FirebaseID != firebaseID {
			return p, true
		}
	}
	return Participant{}, false
}

func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]Participant(nil), c.Participants...)
	out.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return out
}
