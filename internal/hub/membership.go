package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/repo"
	"go.uber.org/zap"
)

// ErrUnknownConversation is returned when membership cannot be resolved
// because the conversation does not exist. It is never silently collapsed
// into an empty member set.
var ErrUnknownConversation = errors.New("unknown conversation")

const membershipFetchTimeout = 5 * time.Second

// MembershipSource is the persistence call the index populates itself
// from. Satisfied by repo.ConversationRepository.
type MembershipSource interface {
	MembersOf(ctx context.Context, conversationID string) ([]string, error)
}

// MembershipIndex caches conversation membership, populated lazily from
// persistence on first reference. The cache never holds its own lock
// across the persistence fetch.
type MembershipIndex struct {
	mu     sync.RWMutex
	cache  map[string][]string
	source MembershipSource
	logger *zap.Logger
}

func NewMembershipIndex(source MembershipSource, logger *zap.Logger) *MembershipIndex {
	return &MembershipIndex{
		cache:  make(map[string][]string),
		source: source,
		logger: logger,
	}
}

// MembersOf returns the member account IDs of a conversation, fetching
// from persistence on a cache miss. Fetch failures surface as retrievable
// errors; an unknown conversation yields ErrUnknownConversation.
func (m *MembershipIndex) MembersOf(ctx context.Context, conversationID string) ([]string, error) {
	m.mu.RLock()
	members, ok := m.cache[conversationID]
	m.mu.RUnlock()
	if ok {
		return copyMembers(members), nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, membershipFetchTimeout)
	defer cancel()

	fetched, err := m.source.MembersOf(fetchCtx, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrConversationNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
		}
		m.logger.Warn("membership fetch failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return nil, fmt.Errorf("membership fetch: %w", err)
	}

	m.mu.Lock()
	m.cache[conversationID] = fetched
	m.mu.Unlock()

	m.logger.Debug("membership cached",
		zap.String("conversation_id", conversationID),
		zap.Int("members", len(fetched)))
	return copyMembers(fetched), nil
}

// Invalidate drops the cached membership for a conversation. External
// collaborators call this when membership changes; the next resolve
// refetches from persistence.
func (m *MembershipIndex) Invalidate(conversationID string) {
	m.mu.Lock()
	delete(m.cache, conversationID)
	m.mu.Unlock()

	m.logger.Debug("membership invalidated",
		zap.String("conversation_id", conversationID))
}

// ConversationsWith returns the cached conversations the account is
// currently known to be a member of. Presence fan-out iterates this; it is
// bounded by the cache, which only ever contains conversations this
// process has actually resolved.
func (m *MembershipIndex) ConversationsWith(accountID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for conv, members := range m.cache {
		for _, member := range members {
			if member == accountID {
				out = append(out, conv)
				break
			}
		}
	}
	return out
}

// Snapshot returns a copy of the cached membership table.
func (m *MembershipIndex) Snapshot() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]string, len(m.cache))
	for conv, members := range m.cache {
		out[conv] = copyMembers(members)
	}
	return out
}

func copyMembers(members []string) []string {
	out := make([]string, len(members))
	copy(out, members)
	return out
}
