package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the closed set of wire events. Adding a kind means
// adding a constant here, a payload struct, and a case in Decode.
type Kind string

// Client to server.
const (
	KindJoin        Kind = "join"
	KindMessage     Kind = "message"
	KindTyping      Kind = "typing"
	KindReadReceipt Kind = "read_receipt"
	KindDelivered   Kind = "delivered"
)

// Server to client.
const (
	KindServerMessage   Kind = "server_message"
	KindDispatchAck     Kind = "dispatch_ack"
	KindTypingNotice    Kind = "typing_notice"
	KindReadNotice      Kind = "read_notice"
	KindDeliveredNotice Kind = "delivered_notice"
	KindPresenceNotice  Kind = "presence"
	KindHistoryBatch    Kind = "history_batch"
	KindError           Kind = "error"
)

var ErrUnknownKind = errors.New("unknown event kind")

// Envelope is the wire frame for every event in both directions. Payload
// bytes stay opaque except for the typed decode below; message bodies inside
// MessagePayload are never interpreted by the server.
type Envelope struct {
	Kind           Kind            `json:"kind"`
	ConversationID string          `json:"conversationId,omitempty"`
	EventID        string          `json:"eventId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      int64           `json:"timestamp,omitempty"`
}

// JoinPayload attaches this device to a conversation's event stream and
// requests recent history in reply.
type JoinPayload struct {
	ConversationID string `json:"conversationId"`
}

// MessagePayload carries an opaque message body into a conversation.
type MessagePayload struct {
	MessageID string `json:"messageId"`
	Body      string `json:"body"`
}

// TypingPayload signals a typing start or stop.
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// ReadReceiptPayload marks a message as read by the sending account.
type ReadReceiptPayload struct {
	MessageID string `json:"messageId"`
}

// DeliveredPayload acknowledges device-side receipt of a message.
type DeliveredPayload struct {
	MessageID string `json:"messageId"`
}

// ServerMessagePayload is the fan-out form of a message.
type ServerMessagePayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Body           string `json:"body"`
	Timestamp      int64  `json:"timestamp"`
}

// DispatchAckPayload goes back to the sending device only, reporting how
// many recipients a dispatch attempted. Delivered/read arrive asynchronously.
type DispatchAckPayload struct {
	MessageID           string `json:"messageId"`
	AttemptedRecipients int    `json:"attemptedRecipients"`
}

// TypingNoticePayload tells other members that an account started or
// stopped typing.
type TypingNoticePayload struct {
	ConversationID string `json:"conversationId"`
	AccountID      string `json:"accountId"`
	IsTyping       bool   `json:"isTyping"`
}

// ReadNoticePayload tells the original sender that a recipient read a
// message.
type ReadNoticePayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
}

// DeliveredNoticePayload tells the original sender that a recipient's
// device acknowledged receipt.
type DeliveredNoticePayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
}

// HistoryBatchPayload answers a join with recent conversation history,
// newest first.
type HistoryBatchPayload struct {
	ConversationID string                 `json:"conversationId"`
	Messages       []ServerMessagePayload `json:"messages"`
}

// PresenceNoticePayload announces an account going online or offline.
type PresenceNoticePayload struct {
	AccountID string `json:"accountId"`
	IsOnline  bool   `json:"isOnline"`
}

// ErrorPayload is sent to a client when its own event was rejected.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Decode unmarshals the envelope payload into the typed struct for its
// kind. Only client-to-server kinds decode; the server never parses frames
// it produced itself.
func Decode(env Envelope) (any, error) {
	switch env.Kind {
	case KindJoin:
		var p JoinPayload
		return decodeInto(env, &p)
	case KindMessage:
		var p MessagePayload
		return decodeInto(env, &p)
	case KindTyping:
		var p TypingPayload
		return decodeInto(env, &p)
	case KindReadReceipt:
		var p ReadReceiptPayload
		return decodeInto(env, &p)
	case KindDelivered:
		var p DeliveredPayload
		return decodeInto(env, &p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
}

func decodeInto[T any](env Envelope, p *T) (any, error) {
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("event %q: empty payload", env.Kind)
	}
	if err := json.Unmarshal(env.Payload, p); err != nil {
		return nil, fmt.Errorf("event %q: %w", env.Kind, err)
	}
	return *p, nil
}

// Wrap builds an outbound envelope around a payload. The payload structs
// above cannot fail to marshal.
func Wrap(kind Kind, conversationID string, payload any, ts int64) Envelope {
	raw, _ := json.Marshal(payload)
	return Envelope{
		Kind:           kind,
		ConversationID: conversationID,
		Payload:        raw,
		Timestamp:      ts,
	}
}
