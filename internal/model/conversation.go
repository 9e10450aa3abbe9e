package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation represents a chat conversation/room in MongoDB. Membership
// is canonical here; the runtime only caches ParticipantIds.
type Conversation struct {
	ID               primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationID   string             `json:"conversationId" bson:"conversation_id"`
	ConversationType string             `json:"conversationType" bson:"conversation_type"`
	Participants     []Participant      `json:"participants" bson:"participants"`
	ParticipantIds   []string           `json:"participantIds" bson:"participant_ids"`
	ConversationName string             `json:"conversationName" bson:"conversation_name"`
	CreatedBy        string             `json:"createdBy" bson:"created_by"`
	CreatedAt        time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt        time.Time          `json:"updatedAt" bson:"updated_at"`
	LastMessageAt    time.Time          `json:"lastMessageAt" bson:"last_message_at"`
	IsActive         bool               `json:"isActive" bson:"is_active"`
}

// Participant represents an account in a conversation.
type Participant struct {
	AccountID string    `json:"accountId" bson:"account_id"`
	Username  string    `json:"username" bson:"username"`
	JoinedAt  time.Time `json:"joinedAt" bson:"joined_at"`
	Role      string    `json:"role" bson:"role"`
	IsActive  bool      `json:"isActive" bson:"is_active"`
}
