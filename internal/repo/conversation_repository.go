package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/db"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/model"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// ErrConversationNotFound distinguishes an unknown conversation from one
// that exists with no members. Callers must not collapse the two.
var ErrConversationNotFound = errors.New("conversation not found")

type conversationRepository struct {
	con           *mongo.Database
	conversations *db.Repository[model.Conversation]
	logger        *zap.Logger
}

// ConversationRepository is the persistence surface for conversation
// membership.
type ConversationRepository interface {
	MembersOf(ctx context.Context, conversationID string) ([]string, error)
	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error)
	ActiveConversations(ctx context.Context) ([]model.Conversation, error)
}

func NewConversationRepository(con *mongo.Database, conversations *db.Repository[model.Conversation], logger *zap.Logger) ConversationRepository {
	return &conversationRepository{
		con:           con,
		conversations: conversations,
		logger:        logger,
	}
}

// MembersOf returns the member account IDs of a conversation. A missing
// conversation surfaces as ErrConversationNotFound, never as an empty set.
func (r *conversationRepository) MembersOf(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := r.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	members := make([]string, 0, len(conv.ParticipantIds))
	members = append(members, conv.ParticipantIds...)
	return members, nil
}

func (r *conversationRepository) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()

	conv, err := r.conversations.FindOne(ctx, filter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			r.logger.Debug("conversation not found",
				zap.String("conversation_id", conversationID),
			)
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		r.logger.Error("failed to fetch conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}

	r.logger.Debug("conversation retrieved",
		zap.String("conversation_id", conversationID),
		zap.Int("participants_count", len(conv.ParticipantIds)),
	)
	return conv, nil
}

// ActiveConversations returns all active conversations, most recently
// messaged first. Backs the HTTP listing endpoint.
func (r *conversationRepository) ActiveConversations(ctx context.Context) ([]model.Conversation, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("is_active", true).Build()

	convs, err := r.conversations.FindAll(ctx, filter)
	if err != nil {
		r.logger.Error("failed to query conversations", zap.Error(err))
		return nil, fmt.Errorf("failed to get conversations: %w", err)
	}

	r.logger.Debug("conversations retrieved", zap.Int("count", len(convs)))
	return convs, nil
}

func (r *conversationRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
