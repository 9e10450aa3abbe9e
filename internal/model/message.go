package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message represents a chat message document in MongoDB. The body is an
// opaque payload; it is stored and forwarded, never interpreted.
type Message struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	MessageID      string             `json:"messageId" bson:"message_id"`
	ConversationID string             `json:"conversationId" bson:"conversation_id"`
	SenderID       string             `json:"senderId" bson:"sender_id"`
	Body           string             `json:"body" bson:"body"`
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
}

// DeliveryStatusRecord is one recipient's delivery state for one message,
// as persisted. The in-memory state machine lives in the hub; this is the
// durable mirror written through the persistence layer.
type DeliveryStatusRecord struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	MessageID string             `json:"messageId" bson:"message_id"`
	AccountID string             `json:"accountId" bson:"account_id"`
	Status    string             `json:"status" bson:"status"`
	UpdatedAt time.Time          `json:"updatedAt" bson:"updated_at"`
}
