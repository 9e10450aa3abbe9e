package hub

import (
	"context"
	"sync"
	"time"

	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/model"
	"go.uber.org/zap"
)

const (
	// typingTTL is how long a typing flag lives after the last signal.
	typingTTL = 10 * time.Second
	// typingSweepInterval is how often expired flags are collected.
	typingSweepInterval = 5 * time.Second
)

// TypingExpiredFunc receives synthetic stop notifications for flags the
// sweep expired. Fired at most once per expired flag.
type TypingExpiredFunc func(conversationID, accountID string)

type typingKey struct {
	conversationID string
	accountID      string
}

// TypingTracker owns the short-lived per-conversation typing flags. An
// entry implies "is typing"; absence implies "not typing". Entries clear on
// an explicit stop or on TTL expiry during the periodic sweep, whichever
// comes first.
type TypingTracker struct {
	mu       sync.Mutex
	flags    map[typingKey]time.Time
	onExpire TypingExpiredFunc
	metrics  *Metrics
	logger   *zap.Logger

	sweepDone chan struct{}
}

func NewTypingTracker(logger *zap.Logger, metrics *Metrics) *TypingTracker {
	return &TypingTracker{
		flags:     make(map[typingKey]time.Time),
		metrics:   metrics,
		logger:    logger,
		sweepDone: make(chan struct{}),
	}
}

// OnExpire installs the synthetic-stop callback. Must be set before Start.
func (t *TypingTracker) OnExpire(fn TypingExpiredFunc) {
	t.onExpire = fn
}

// Start runs the TTL sweep until ctx is cancelled. The sweep is its own
// periodic trigger, independent of message handling, so a dispatch backlog
// cannot starve typing expiry.
func (t *TypingTracker) Start(ctx context.Context) {
	go func() {
		defer close(t.sweepDone)
		ticker := time.NewTicker(typingSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.sweep(time.Now())
			}
		}
	}()
}

// Wait blocks until the sweep goroutine has exited.
func (t *TypingTracker) Wait() {
	<-t.sweepDone
}

// SetTyping records or refreshes a typing flag.
func (t *TypingTracker) SetTyping(conversationID, accountID string) {
	t.mu.Lock()
	t.flags[typingKey{conversationID, accountID}] = time.Now()
	t.mu.Unlock()
}

// ClearTyping removes a typing flag on an explicit stop. Returns false if
// the flag was already gone, so a stop is only ever broadcast once.
func (t *TypingTracker) ClearTyping(conversationID, accountID string) bool {
	key := typingKey{conversationID, accountID}
	t.mu.Lock()
	_, ok := t.flags[key]
	delete(t.flags, key)
	t.mu.Unlock()
	return ok
}

// IsTyping reports whether a live typing flag exists.
func (t *TypingTracker) IsTyping(conversationID, accountID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.flags[typingKey{conversationID, accountID}]
	return ok
}

// sweep expires flags older than the TTL and fires a synthetic stop for
// each, outside the lock. This is how peers see indicators clear when a
// typing device disconnects without an explicit stop.
func (t *TypingTracker) sweep(now time.Time) {
	var expired []typingKey

	t.mu.Lock()
	for key, last := range t.flags {
		if now.Sub(last) >= typingTTL {
			delete(t.flags, key)
			expired = append(expired, key)
		}
	}
	t.mu.Unlock()

	for _, key := range expired {
		t.metrics.TypingExpirations.Inc()
		t.logger.Debug("typing flag expired",
			zap.String("conversation_id", key.conversationID),
			zap.String("account_id", key.accountID))
		if t.onExpire != nil {
			t.onExpire(key.conversationID, key.accountID)
		}
	}
}

// Snapshot lists live typing flags for the monitor API.
func (t *TypingTracker) Snapshot() []model.TypingInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.TypingInfo, 0, len(t.flags))
	for key, since := range t.flags {
		out = append(out, model.TypingInfo{
			ConversationID: key.conversationID,
			AccountID:      key.accountID,
			SinceUnixMs:    since.UnixMilli(),
		})
	}
	return out
}
