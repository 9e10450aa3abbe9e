package hub

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMembershipLoadsLazilyAndCaches(t *testing.T) {
	t.Parallel()
	source := newFakeConversationRepo()
	source.set("conv-1", "acc-a", "acc-b")
	idx := NewMembershipIndex(source, zap.NewNop())

	members, err := idx.MembersOf(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acc-a", "acc-b"}, members)
	assert.Equal(t, 1, source.callCount())

	// second resolve served from cache
	_, err = idx.MembersOf(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, source.callCount())
}

func TestMembershipUnknownConversationIsNotEmpty(t *testing.T) {
	t.Parallel()
	source := newFakeConversationRepo()
	source.set("conv-empty") // exists with zero members
	idx := NewMembershipIndex(source, zap.NewNop())

	_, err := idx.MembersOf(context.Background(), "conv-missing")
	assert.ErrorIs(t, err, ErrUnknownConversation)

	members, err := idx.MembersOf(context.Background(), "conv-empty")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestMembershipFetchFailureSurfaces(t *testing.T) {
	t.Parallel()
	source := newFakeConversationRepo()
	source.err = errors.New("connection refused")
	idx := NewMembershipIndex(source, zap.NewNop())

	_, err := idx.MembersOf(context.Background(), "conv-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownConversation)

	// nothing cached on failure; recovery refetches
	source.err = nil
	source.set("conv-1", "acc-a")
	members, err := idx.MembersOf(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"acc-a"}, members)
}

func TestMembershipInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()
	source := newFakeConversationRepo()
	source.set("conv-1", "acc-a")
	idx := NewMembershipIndex(source, zap.NewNop())

	_, err := idx.MembersOf(context.Background(), "conv-1")
	require.NoError(t, err)

	source.set("conv-1", "acc-a", "acc-b")
	idx.Invalidate("conv-1")

	members, err := idx.MembersOf(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acc-a", "acc-b"}, members)
	assert.Equal(t, 2, source.callCount())
}

func TestMembershipReturnsCopies(t *testing.T) {
	t.Parallel()
	source := newFakeConversationRepo()
	source.set("conv-1", "acc-a", "acc-b")
	idx := NewMembershipIndex(source, zap.NewNop())

	first, err := idx.MembersOf(context.Background(), "conv-1")
	require.NoError(t, err)
	first[0] = "mutated"

	second, err := idx.MembersOf(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acc-a", "acc-b"}, second)
}

func TestMembershipConversationsWith(t *testing.T) {
	t.Parallel()
	source := newFakeConversationRepo()
	source.set("conv-1", "acc-a", "acc-b")
	source.set("conv-2", "acc-b", "acc-c")
	idx := NewMembershipIndex(source, zap.NewNop())

	// only resolved conversations are known
	_, err := idx.MembersOf(context.Background(), "conv-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"conv-1"}, idx.ConversationsWith("acc-b"))
	assert.Empty(t, idx.ConversationsWith("acc-c"))

	_, err = idx.MembersOf(context.Background(), "conv-2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conv-1", "conv-2"}, idx.ConversationsWith("acc-b"))
}
