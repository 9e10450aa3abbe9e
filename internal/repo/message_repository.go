package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/db"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/model"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var (
	ErrMaxRetriesExceeded    = errors.New("maximum retry attempts exceeded")
	ErrInvalidMessage        = errors.New("invalid message: message cannot be nil")
	ErrInvalidConversationID = errors.New("invalid conversation ID: cannot be empty")
	ErrOperationTimeout      = errors.New("operation timeout exceeded")
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 10 * time.Second

	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second

	historyPageSize = 50
)

type messageRepository struct {
	con      *mongo.Database
	messages *db.Repository[model.Message]
	statuses *db.Repository[model.DeliveryStatusRecord]
	logger   *zap.Logger

	// tracks in-flight saves so duplicate dispatches of the same message
	// cannot race each other into the collection
	inFlightOps     map[string]struct{}
	inFlightOpsLock sync.Mutex
}

// MessageRepository is the persistence surface the delivery core depends
// on for messages and delivery statuses. RecentMessages answers join
// requests; SaveDeliveryStatus mirrors the in-memory status machine.
type MessageRepository interface {
	SaveMessage(ctx context.Context, msg *model.Message) error
	RecentMessages(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error)
	SaveDeliveryStatus(ctx context.Context, messageID, accountID, status string) error
}

func NewMessageRepository(con *mongo.Database, messages *db.Repository[model.Message], statuses *db.Repository[model.DeliveryStatusRecord], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		con:         con,
		messages:    messages,
		statuses:    statuses,
		logger:      logger,
		inFlightOps: make(map[string]struct{}),
	}
}

// -----------------------------------------------------------------------------
// SaveMessage
// -----------------------------------------------------------------------------

func (m *messageRepository) SaveMessage(ctx context.Context, msg *model.Message) error {
	if err := m.validateMessage(msg); err != nil {
		return err
	}

	key := msg.ConversationID + ":" + msg.MessageID
	if !m.tryAcquireInFlight(key) {
		return fmt.Errorf("duplicate save in progress: %s", key)
	}
	defer m.releaseInFlight(key)

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := m.waitForRetry(ctx, attempt); err != nil {
				return err
			}
		}

		_, err := m.messages.Create(ctx, *msg)
		if err == nil {
			m.logger.Debug("message saved",
				zap.String("message_id", msg.MessageID),
				zap.String("conversation_id", msg.ConversationID),
				zap.Int("attempt", attempt+1),
			)
			return nil
		}

		lastErr = err
		if !m.isRetryableError(err) {
			break
		}

		m.logger.Warn("save attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	m.logger.Error("failed to save message after all retries",
		zap.Error(lastErr),
		zap.String("conversation_id", msg.ConversationID),
	)
	return fmt.Errorf("save message failed: %w", lastErr)
}

// -----------------------------------------------------------------------------
// RecentMessages
// -----------------------------------------------------------------------------

func (m *messageRepository) RecentMessages(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := m.waitForRetry(ctx, attempt); err != nil {
				return nil, err
			}
			m.logger.Warn("retrying recent messages query",
				zap.String("conversation_id", conversationID),
				zap.Int("attempt", attempt+1),
			)
		}

		result, err := m.messages.FindWithPagination(ctx, filter, db.PaginationParams{
			Page:     page,
			PageSize: historyPageSize,
			SortBy:   "created_at",
			SortDesc: true,
		})
		if err == nil {
			m.logger.Debug("recent messages fetched",
				zap.String("conversation_id", conversationID),
				zap.Int("count", len(result.Data)),
				zap.Int64("total", result.Total),
			)
			return result, nil
		}

		lastErr = err
		if !m.isRetryableError(err) {
			break
		}
	}

	return nil, m.handleReadError(lastErr, conversationID)
}

// -----------------------------------------------------------------------------
// SaveDeliveryStatus
// -----------------------------------------------------------------------------

func (m *messageRepository) SaveDeliveryStatus(ctx context.Context, messageID, accountID, status string) error {
	if messageID == "" || accountID == "" {
		return fmt.Errorf("save delivery status: message and account IDs required")
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("message_id", messageID).
		Eq("account_id", accountID).
		Build()

	update := map[string]interface{}{
		"message_id": messageID,
		"account_id": accountID,
		"status":     status,
		"updated_at": time.Now().UTC(),
	}

	if _, err := m.statuses.Upsert(ctx, filter, update); err != nil {
		m.logger.Error("failed to save delivery status",
			zap.String("message_id", messageID),
			zap.String("account_id", accountID),
			zap.String("status", status),
			zap.Error(err),
		)
		return fmt.Errorf("save delivery status failed: %w", err)
	}

	m.logger.Debug("delivery status saved",
		zap.String("message_id", messageID),
		zap.String("account_id", accountID),
		zap.String("status", status),
	)
	return nil
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func (m *messageRepository) tryAcquireInFlight(key string) bool {
	m.inFlightOpsLock.Lock()
	defer m.inFlightOpsLock.Unlock()

	if _, exists := m.inFlightOps[key]; exists {
		return false
	}
	m.inFlightOps[key] = struct{}{}
	return true
}

func (m *messageRepository) releaseInFlight(key string) {
	m.inFlightOpsLock.Lock()
	defer m.inFlightOpsLock.Unlock()
	delete(m.inFlightOps, key)
}

func (m *messageRepository) validateMessage(msg *model.Message) error {
	if msg == nil {
		return ErrInvalidMessage
	}
	if msg.ConversationID == "" {
		return ErrInvalidConversationID
	}
	return nil
}

func (m *messageRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (m *messageRepository) waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (m *messageRepository) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if mongo.IsDuplicateKeyError(err) {
		return false
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}

func (m *messageRepository) handleReadError(err error, conversationID string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		m.logger.Error("read timed out",
			zap.String("conversation_id", conversationID),
		)
		return fmt.Errorf("%w: %v", ErrOperationTimeout, err)
	}
	m.logger.Error("read failed",
		zap.String("conversation_id", conversationID),
		zap.Error(err),
	)
	return fmt.Errorf("recent messages failed: %w", err)
}
