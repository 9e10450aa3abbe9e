package service

import (
	"context"

	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/db"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/model"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/repo"
)

// HistoryService answers conversation listing and message history queries
// for the HTTP surface.
type HistoryService interface {
	Conversations(ctx context.Context) ([]model.Conversation, error)
	ConversationMessages(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error)
}

type historyService struct {
	conversations repo.ConversationRepository
	messages      repo.MessageRepository
}

func NewHistoryService(conversations repo.ConversationRepository, messages repo.MessageRepository) HistoryService {
	return &historyService{
		conversations: conversations,
		messages:      messages,
	}
}

// Conversations returns active conversations only.
func (s *historyService) Conversations(ctx context.Context) ([]model.Conversation, error) {
	convs, err := s.conversations.ActiveConversations(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(convs, func(c model.Conversation) bool { return c.IsActive }), nil
}

func (s *historyService) ConversationMessages(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error) {
	return s.messages.RecentMessages(ctx, conversationID, page)
}
